// Package hostapi defines the capability interfaces an embedder must
// supply to a client or server engine: a byte sink and the lifecycle
// notifications enumerated in spec.md §4.G. Kept separate from
// internal/client and internal/server so both can depend on it without
// creating an import cycle between them.
package hostapi

import "github.com/life-stream-dev/stomp-engine/internal/frame"

// ByteSink is the synchronous, infallible byte sink both engines write
// every serialized frame and heartbeat byte to.
type ByteSink interface {
	SendBytes(data []byte)
}

// ClientHost is everything the client engine needs from its embedder.
type ClientHost interface {
	ByteSink
	OnConnected(f *frame.Frame, sessionID, serverName string)
	// decoded is non-nil only when the engine's auto_json option is on
	// and contentType is application/json; it holds the JSON-decoded
	// body (map[string]any or []any, per encoding/json's default
	// unmarshal target).
	OnMessage(f *frame.Frame, destination string, body []byte, contentType string, decoded any)
	OnReceipt(f *frame.Frame, receiptID string)
	OnError(f *frame.Frame, message string, details []byte, receiptID string)
}

// ServerHost is everything the server engine needs from its embedder.
type ServerHost interface {
	ByteSink
	// OnConnect authenticates/authorizes a CONNECT. accepted == false
	// causes the server to emit ProtocolError("Invalid login"). A
	// non-empty sessionOverride becomes the CONNECTED frame's session
	// header instead of the generated session id.
	OnConnect(f *frame.Frame, login, passcode, host, sessionID string) (accepted bool, sessionOverride string)
	OnMessage(f *frame.Frame, destination string, body []byte, contentType string)
	OnSubscribe(f *frame.Frame, id, destination, ack string)
	OnUnsubscribe(f *frame.Frame, id, destination string)
	OnAck(f *frame.Frame, id string)
	OnNack(f *frame.Frame, id string)
	OnError(f *frame.Frame, err error)
	OnDisconnect(f *frame.Frame, reason string)
}
