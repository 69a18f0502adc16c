// Package stomperr implements the engine's error taxonomy: protocol
// violations, application-imposed rule violations, and the
// classification of everything else as an internal failure.
package stomperr

import (
	"fmt"

	"github.com/life-stream-dev/stomp-engine/internal/frame"
)

// ProtocolError signals a violation of the STOMP specification itself
// (a missing required header, an unknown command, an incompatible
// version negotiation). It optionally carries the triggering frame and
// extra headers that should be surfaced on the resulting ERROR frame.
type ProtocolError struct {
	Message string
	Frame   *frame.Frame
	Extra   map[string]string
}

func (e *ProtocolError) Error() string { return e.Message }

// NewProtocolError builds a ProtocolError. f and extra may be nil.
func NewProtocolError(message string, f *frame.Frame, extra map[string]string) *ProtocolError {
	return &ProtocolError{Message: message, Frame: f, Extra: extra}
}

// ApplicationError signals a violation of a rule the engine's own
// bookkeeping imposes (unknown subscription, duplicate ack id, unknown
// transaction) rather than the wire protocol itself.
type ApplicationError struct {
	Message string
	Frame   *frame.Frame
}

func (e *ApplicationError) Error() string { return e.Message }

// NewApplicationError builds an ApplicationError. f may be nil.
func NewApplicationError(message string, f *frame.Frame) *ApplicationError {
	return &ApplicationError{Message: message, Frame: f}
}

// Triggering returns the frame a Protocol/ApplicationError carries, or
// nil if err is neither (or carries none).
func Triggering(err error) *frame.Frame {
	switch e := err.(type) {
	case *ProtocolError:
		return e.Frame
	case *ApplicationError:
		return e.Frame
	default:
		return nil
	}
}

// ExtraHeaders returns the extra headers a ProtocolError carries, or
// nil for any other error.
func ExtraHeaders(err error) map[string]string {
	if pe, ok := err.(*ProtocolError); ok {
		return pe.Extra
	}
	return nil
}

// RequireHeaders wraps frame.Frame.Require, converting its plain error
// (if any) into a ProtocolError carrying f.
func RequireHeaders(f *frame.Frame, version frame.Version, excluded map[string][]frame.Version) ([]string, error) {
	values, err := f.Require(version, excluded)
	if err != nil {
		return nil, NewProtocolError(capitalize(err.Error()), f, nil)
	}
	return values, nil
}

// RequireHeader is the single-header convenience form of RequireHeaders.
func RequireHeader(f *frame.Frame, version frame.Version, name string, excluded ...frame.Version) (string, error) {
	values, err := RequireHeaders(f, version, map[string][]frame.Version{name: excluded})
	if err != nil {
		return "", err
	}
	return values[0], nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return fmt.Sprintf("%s%s", upperFirst(s[:1]), s[1:])
}

func upperFirst(s string) string {
	if s >= "a" && s <= "z" {
		return string(s[0] - ('a' - 'A'))
	}
	return s
}
