// Package stompparser implements an incremental, non-blocking
// STOMP frame decoder. It consumes arbitrary byte chunks via Feed and
// yields complete frames via Next — never reading from or blocking on
// any I/O source itself, so it composes with any transport an
// embedder supplies.
package stompparser

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/life-stream-dev/stomp-engine/internal/frame"
)

var (
	// ErrMalformedHeaders is returned when a frame's command/header
	// block cannot be parsed and a NUL byte has already appeared later
	// in the buffer (so waiting for more data would never help).
	ErrMalformedHeaders = errors.New("invalid frame (malformed headers)")
	// ErrMissingNullTerminator is returned when content-length declares
	// a body length but the byte immediately following it isn't NUL.
	ErrMissingNullTerminator = errors.New("invalid frame (missing null terminator)")
)

// Parser is a single-buffer incremental STOMP frame decoder. It is not
// safe for concurrent use; an embedder must serialize calls to Feed
// and Next the same way it serializes everything else on an engine.
type Parser struct {
	buf   []byte
	ready []*frame.Frame
}

// New returns an empty Parser.
func New() *Parser {
	return &Parser{}
}

// Feed appends data to the internal buffer and drains as many complete
// frames as possible. It returns an error if the buffered data can
// never form a valid frame (the caller should treat this as fatal for
// the connection: framing has desynchronized).
func (p *Parser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)
	for {
		advanced, err := p.drainOne()
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

// Next dequeues the oldest complete frame produced by Feed, if any.
func (p *Parser) Next() (*frame.Frame, bool) {
	if len(p.ready) == 0 {
		return nil, false
	}
	f := p.ready[0]
	p.ready = p.ready[1:]
	return f, true
}

// drainOne attempts to strip a heartbeat and/or parse one complete
// frame out of the buffer. It returns advanced=true if it made forward
// progress (even just stripping heartbeat bytes), so Feed knows to
// loop again.
func (p *Parser) drainOne() (advanced bool, err error) {
	if n := heartbeatPrefixLen(p.buf); n > 0 {
		p.buf = p.buf[n:]
		return true, nil
	}
	if len(p.buf) == 0 {
		return false, nil
	}

	f, consumed, err := p.parseFrame(p.buf)
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, nil // incomplete, wait for more data
	}
	p.buf = p.buf[consumed:]
	p.ready = append(p.ready, f)
	return true, nil
}

// heartbeatPrefixLen returns the length of a leading heartbeat marker
// (\n, \r\n, or \r) at the start of buf, or 0 if there is none.
func heartbeatPrefixLen(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	switch buf[0] {
	case '\n':
		return 1
	case '\r':
		if len(buf) >= 2 && buf[1] == '\n' {
			return 2
		}
		return 1
	default:
		return 0
	}
}

// parseFrame attempts to parse exactly one frame starting at buf[0].
// It returns (nil, 0, nil) when more data is needed, (frame, n, nil)
// on success (n bytes consumed), or a non-nil error for malformed
// input.
func (p *Parser) parseFrame(buf []byte) (*frame.Frame, int, error) {
	commandEnd, cmdLineLen := findLine(buf, 0)
	if commandEnd < 0 {
		if err := checkStuckWithoutTerminator(buf); err != nil {
			return nil, 0, err
		}
		return nil, 0, nil
	}

	command := string(trimCR(buf[:commandEnd]))
	pos := cmdLineLen
	if command == "" {
		return nil, 0, ErrMalformedHeaders
	}

	f := frame.New(command)

	for {
		lineEnd, lineLen := findLine(buf, pos)
		if lineEnd < 0 {
			if err := checkStuckWithoutTerminator(buf); err != nil {
				return nil, 0, err
			}
			return nil, 0, nil
		}
		line := trimCR(buf[pos:lineEnd])
		pos += lineLen
		if len(line) == 0 {
			break // blank line terminates the header block
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			return nil, 0, ErrMalformedHeaders
		}
		name := string(bytes.TrimSpace(line[:idx]))
		value := string(bytes.TrimSpace(line[idx+1:]))
		if name == "" {
			return nil, 0, ErrMalformedHeaders
		}
		f.SetFirst(name, value)
	}

	if raw, ok := f.Get(frame.HdrContentLength); ok {
		bodyLength, convErr := strconv.Atoi(raw)
		if convErr != nil || bodyLength < 0 {
			return nil, 0, ErrMalformedHeaders
		}
		return parseBodyWithLength(f, buf, pos, bodyLength)
	}
	return parseBodyScanningForNull(f, buf, pos)
}

func parseBodyWithLength(f *frame.Frame, buf []byte, pos, bodyLength int) (*frame.Frame, int, error) {
	if len(buf) <= pos+bodyLength {
		return nil, 0, nil // need more bytes
	}
	if buf[pos+bodyLength] != 0 {
		return nil, 0, ErrMissingNullTerminator
	}
	f.Body = append([]byte(nil), buf[pos:pos+bodyLength]...)
	consumed := pos + bodyLength + 1
	return f, consumed, nil
}

func parseBodyScanningForNull(f *frame.Frame, buf []byte, pos int) (*frame.Frame, int, error) {
	idx := bytes.IndexByte(buf[pos:], 0)
	if idx < 0 {
		return nil, 0, nil // need more bytes
	}
	f.Body = append([]byte(nil), buf[pos:pos+idx]...)
	consumed := pos + idx + 1
	return f, consumed, nil
}

// findLine returns the index of the LF terminating the line starting
// at start, and the total length of the line from start up to and
// including that LF (a CR before the LF counts as part of the line).
// It returns (-1, 0) if no LF is present yet in buf[start:].
func findLine(buf []byte, start int) (lfIndex int, lineLen int) {
	idx := bytes.IndexByte(buf[start:], '\n')
	if idx < 0 {
		return -1, 0
	}
	return start + idx, idx + 1
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// checkStuckWithoutTerminator reports a malformed-header error once a
// NUL byte has already appeared in the buffer without the header
// block ever having terminated — at that point waiting for more data
// can never produce a valid frame.
func checkStuckWithoutTerminator(buf []byte) error {
	if bytes.IndexByte(buf, 0) >= 0 {
		return ErrMalformedHeaders
	}
	return nil
}
