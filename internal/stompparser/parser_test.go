package stompparser

import (
	"testing"

	"github.com/life-stream-dev/stomp-engine/internal/frame"
)

func mustFrame(t *testing.T, p *Parser) *frame.Frame {
	t.Helper()
	f, ok := p.Next()
	if !ok {
		t.Fatal("expected a frame to be ready")
	}
	return f
}

func TestRoundTrip(t *testing.T) {
	f := frame.New("SEND")
	f.Set("destination", "/queue/a")
	f.Body = []byte("hello")

	p := New()
	if err := p.Feed(f.Serialize()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := mustFrame(t, p)
	if got.Command != "SEND" {
		t.Fatalf("command mismatch: %q", got.Command)
	}
	if got.Header["destination"] != "/queue/a" {
		t.Fatalf("header mismatch: %v", got.Header)
	}
	if string(got.Body) != "hello" {
		t.Fatalf("body mismatch: %q", got.Body)
	}
}

func TestFeedByteAtATimeMatchesWhole(t *testing.T) {
	f := frame.New("MESSAGE")
	f.Set("destination", "/q")
	f.Set("message-id", "42")
	f.Body = []byte("payload")
	wire := f.Serialize()

	whole := New()
	if err := whole.Feed(wire); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wholeFrame := mustFrame(t, whole)

	split := New()
	for i := 0; i < len(wire); i++ {
		if err := split.Feed(wire[i : i+1]); err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
	}
	splitFrame := mustFrame(t, split)

	if wholeFrame.Command != splitFrame.Command {
		t.Fatalf("command mismatch: %q vs %q", wholeFrame.Command, splitFrame.Command)
	}
	if len(wholeFrame.Header) != len(splitFrame.Header) {
		t.Fatalf("header count mismatch: %v vs %v", wholeFrame.Header, splitFrame.Header)
	}
	for k, v := range wholeFrame.Header {
		if splitFrame.Header[k] != v {
			t.Fatalf("header %q mismatch: %q vs %q", k, v, splitFrame.Header[k])
		}
	}
	if string(wholeFrame.Body) != string(splitFrame.Body) {
		t.Fatalf("body mismatch")
	}
}

func TestHeartbeatBytesDiscarded(t *testing.T) {
	p := New()
	f := frame.New("DISCONNECT")
	wire := append([]byte("\n\r\n\r"), f.Serialize()...)
	if err := p.Feed(wire); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := mustFrame(t, p)
	if got.Command != "DISCONNECT" {
		t.Fatalf("expected DISCONNECT frame, got %q", got.Command)
	}
	if _, ok := p.Next(); ok {
		t.Fatal("expected no further frames")
	}
}

func TestDuplicateHeaderFirstWins(t *testing.T) {
	p := New()
	raw := "SEND\ndestination:/a\ndestination:/b\n\nbody\x00"
	if err := p.Feed([]byte(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := mustFrame(t, p)
	if got.Header["destination"] != "/a" {
		t.Fatalf("expected first occurrence to win, got %q", got.Header["destination"])
	}
}

func TestBinaryBodyWithContentLength(t *testing.T) {
	body := []byte{1, 0, 2, 3, 0}
	raw := append([]byte("SEND\ndestination:/q\ncontent-length:5\n\n"), body...)
	raw = append(raw, 0, '\n')

	p := New()
	if err := p.Feed(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := mustFrame(t, p)
	if len(got.Body) != 5 || got.Body[1] != 0 || got.Body[4] != 0 {
		t.Fatalf("body corrupted: %v", got.Body)
	}
}

func TestMissingNullTerminatorError(t *testing.T) {
	raw := []byte("SEND\ncontent-length:3\n\nabcX")
	p := New()
	if err := p.Feed(raw); err != ErrMissingNullTerminator {
		t.Fatalf("expected ErrMissingNullTerminator, got %v", err)
	}
}

func TestMalformedHeaderLine(t *testing.T) {
	raw := []byte("SEND\nno-colon-here\n\nbody\x00")
	p := New()
	if err := p.Feed(raw); err != ErrMalformedHeaders {
		t.Fatalf("expected ErrMalformedHeaders, got %v", err)
	}
}

func TestFeedTwoFramesInOneChunk(t *testing.T) {
	a := frame.New("BEGIN")
	a.Set("transaction", "t1")
	b := frame.New("COMMIT")
	b.Set("transaction", "t1")

	p := New()
	if err := p.Feed(append(a.Serialize(), b.Serialize()...)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := mustFrame(t, p)
	second := mustFrame(t, p)
	if first.Command != "BEGIN" || second.Command != "COMMIT" {
		t.Fatalf("frames out of order: %q, %q", first.Command, second.Command)
	}
}
