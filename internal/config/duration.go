package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var durationUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseReadTimeout parses ReadTimeout ("90s", "1.5m", "2d") into the
// duration a daemon should wait for activity on an idle connection.
// Unlike an integer-only shorthand parser, this accepts fractional
// magnitudes ("0.5s") and negative ones: a negative value means "no
// deadline", which a heartbeat floor never needs (it must always be
// positive) but an idle-connection read timeout legitimately does,
// e.g. when running a daemon under a debugger with the deadline
// disabled.
func (c Config) ParseReadTimeout() (time.Duration, error) {
	return parseDurationShorthand(c.ReadTimeout)
}

func parseDurationShorthand(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, u := range durationUnits {
		cut, ok := strings.CutSuffix(s, u.suffix)
		if !ok {
			continue
		}
		magnitude, err := strconv.ParseFloat(cut, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(magnitude * float64(u.unit)), nil
	}
	return 0, fmt.Errorf("invalid duration format: %q", s)
}
