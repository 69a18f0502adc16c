package frame

import (
	"bytes"
	"strings"
	"testing"
)

func TestSerializeSortsHeaders(t *testing.T) {
	f := New("CONNECT")
	f.Set("host", "stomp")
	f.Set("accept-version", "1.2")

	got := string(f.Serialize())
	wantPrefix := "CONNECT\naccept-version:1.2\nhost:stomp\n\n"
	if !strings.HasPrefix(got, wantPrefix) {
		t.Fatalf("got %q, want prefix %q", got, wantPrefix)
	}
	if !strings.HasSuffix(got, "\x00\n") {
		t.Fatalf("frame must end in NUL LF, got %q", got)
	}
}

func TestSerializeAutoContentLength(t *testing.T) {
	f := New("SEND")
	f.Set("destination", "/q")
	f.Body = []byte("a\x00b")

	got := f.Serialize()
	if !bytes.Contains(got, []byte("content-length:3\n")) {
		t.Fatalf("expected content-length:3 for NUL-containing body, got %q", got)
	}
}

func TestSerializeAutoContentLengthForPlainBody(t *testing.T) {
	f := New("MESSAGE")
	f.Set("destination", "/q")
	f.Body = []byte("hi")

	got := f.Serialize()
	if !bytes.Contains(got, []byte("content-length:2\n")) {
		t.Fatalf("expected content-length:2 for a plain non-NUL body, got %q", got)
	}
}

func TestSerializeDefaultsContentType(t *testing.T) {
	f := New("SEND")
	f.Body = []byte("hello")

	got := string(f.Serialize())
	if !strings.Contains(got, "content-type:text/plain\n") {
		t.Fatalf("expected default content-type, got %q", got)
	}
	if !strings.Contains(got, "content-length:5\n") {
		t.Fatalf("expected default content-length, got %q", got)
	}
}

func TestSerializeEmptyBodyNoContentType(t *testing.T) {
	f := New("DISCONNECT")
	got := string(f.Serialize())
	if strings.Contains(got, "content-type") {
		t.Fatalf("empty body must not get a content-type header, got %q", got)
	}
}

func TestRequireMissingHeader(t *testing.T) {
	f := New("CONNECT")
	_, err := f.Require(V12, map[string][]Version{"host": nil})
	if err == nil {
		t.Fatal("expected error for missing host header")
	}
	if err.Error() != "missing 'host' header" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestRequireExcludedVersion(t *testing.T) {
	f := New("SUBSCRIBE")
	values, err := f.Require(V10, map[string][]Version{"id": {V10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 1 || values[0] != "" {
		t.Fatalf("expected one empty value, got %v", values)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	f := New("SEND")
	f.Set("transaction", "tx1")
	f.Body = []byte("payload")

	clone := f.Clone()
	clone.Del("transaction")
	clone.Body[0] = 'X'

	if _, ok := f.Header["transaction"]; !ok {
		t.Fatal("clone mutation must not affect original header")
	}
	if f.Body[0] != 'p' {
		t.Fatal("clone mutation must not affect original body")
	}
}
