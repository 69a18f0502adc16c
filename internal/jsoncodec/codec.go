// Package jsoncodec supplies the opt-in JSON body codec the client
// engine's auto_json option uses. Kept as a two-method seam so the
// core engine stays pure bytes and never imports encoding/json itself.
package jsoncodec

import "encoding/json"

// Codec en/decodes a frame body when content-type is application/json
// and the embedder opted into auto_json.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Default wraps the standard library's encoding/json.
type Default struct{}

func (Default) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (Default) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
