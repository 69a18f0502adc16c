package config

import (
	"testing"
	"time"
)

func TestParseDurationShorthand(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"10s", 10 * time.Second},
		{"20M", 20 * time.Minute},
		{"48h", 48 * time.Hour},
		{"2d", 2 * 24 * time.Hour},
		{"250ms", 250 * time.Millisecond},
		{"1.5s", 1500 * time.Millisecond},
		{"-30s", -30 * time.Second},
	}
	for _, c := range cases {
		got, err := parseDurationShorthand(c.in)
		if err != nil {
			t.Fatalf("parseDurationShorthand(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parseDurationShorthand(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseDurationShorthandRejectsGarbage(t *testing.T) {
	if _, err := parseDurationShorthand("banana"); err == nil {
		t.Fatal("expected an error for an unrecognized format")
	}
	if _, err := parseDurationShorthand("xs"); err == nil {
		t.Fatal("expected an error for a non-numeric magnitude")
	}
}

func TestConfigParseReadTimeout(t *testing.T) {
	cfg := defaultConfig()
	got, err := cfg.ParseReadTimeout()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 90*time.Second {
		t.Fatalf("expected the bootstrapped default to parse to 90s, got %v", got)
	}
}
