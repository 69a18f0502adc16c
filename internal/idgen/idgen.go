// Package idgen supplies the UUID capability the server engine needs
// for session and message ids, kept behind an interface so engine
// tests can inject deterministic ids.
package idgen

import uuid "github.com/satori/go.uuid"

// Generator produces string-form v4 UUIDs.
type Generator interface {
	NewV4() string
}

// Default is the production Generator, backed by satori/go.uuid.
type Default struct{}

// NewV4 returns a freshly generated UUID v4 string.
func (Default) NewV4() string {
	return uuid.NewV4().String()
}
