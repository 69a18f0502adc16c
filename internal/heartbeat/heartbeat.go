// Package heartbeat implements the STOMP heart-beat header negotiation
// and the pair of periodic timers (outgoing keepalive, incoming
// liveness check) that result from it.
package heartbeat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/stomp-engine/internal/scheduler"
)

// Host is the capability a Heartbeat needs from its embedder: a byte
// sink to emit the keepalive LF on, and an error channel for reporting
// a detected liveness failure.
type Host interface {
	SendBytes([]byte)
	ReportError(message string)
}

// Rates is a negotiated heart-beat pair, both in milliseconds. Zero
// means "disabled" in that direction.
type Rates struct {
	IncomingMs int // how often we require data from the peer
	OutgoingMs int // how often we promise to send data
}

// Negotiate parses a STOMP heart-beat header value "<cx>,<cy>" and
// applies the local floors, per spec: incoming = max(cx, minSendMs) if
// cx > 0 else 0; outgoing = max(cy, desiredReceiveMs) if cy > 0 else 0.
func Negotiate(header string, minSendMs, desiredReceiveMs int) (Rates, error) {
	cx, cy, err := parseHeartBeatHeader(header)
	if err != nil {
		return Rates{}, err
	}
	var r Rates
	if cx > 0 {
		r.IncomingMs = max(cx, minSendMs)
	}
	if cy > 0 {
		r.OutgoingMs = max(cy, desiredReceiveMs)
	}
	return r, nil
}

func parseHeartBeatHeader(header string) (cx, cy int, err error) {
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed heart-beat header: %q", header)
	}
	cx, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || cx < 0 {
		return 0, 0, fmt.Errorf("malformed heart-beat header: %q", header)
	}
	cy, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || cy < 0 {
		return 0, 0, fmt.Errorf("malformed heart-beat header: %q", header)
	}
	return cx, cy, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Heartbeat drives the outgoing keepalive timer and the incoming
// liveness timer for one connected session. It is not safe for
// concurrent use beyond what its Scheduler guarantees about serializing
// callbacks with the rest of the owning engine.
type Heartbeat struct {
	host      Host
	scheduler scheduler.Scheduler
	rates     Rates

	sentSinceTick     bool
	receivedSinceTick bool

	cancelOutgoing scheduler.CancelFunc
	cancelIncoming scheduler.CancelFunc
	running        bool
}

// New builds a Heartbeat. It does not start any timer until Start is
// called.
func New(host Host, sched scheduler.Scheduler, rates Rates) *Heartbeat {
	return &Heartbeat{host: host, scheduler: sched, rates: rates}
}

// Start arms the outgoing timer (period rates.OutgoingMs) and the
// incoming timer (period rates.IncomingMs * 1.5), whichever are
// non-zero. Calling Start twice without an intervening Stop is a no-op.
func (h *Heartbeat) Start() {
	if h.running {
		return
	}
	h.running = true

	if h.rates.OutgoingMs > 0 {
		h.cancelOutgoing = h.scheduler.SchedulePeriodic(
			time.Duration(h.rates.OutgoingMs)*time.Millisecond,
			h.onOutgoingTick,
		)
	}
	if h.rates.IncomingMs > 0 {
		grace := time.Duration(float64(h.rates.IncomingMs)*1.5) * time.Millisecond
		h.cancelIncoming = h.scheduler.SchedulePeriodic(grace, h.onIncomingTick)
	}
}

func (h *Heartbeat) onOutgoingTick() {
	if h.sentSinceTick {
		h.sentSinceTick = false
		return
	}
	h.host.SendBytes([]byte{'\n'})
	h.sentSinceTick = false
}

func (h *Heartbeat) onIncomingTick() {
	if h.receivedSinceTick {
		h.receivedSinceTick = false
		return
	}
	h.Stop()
	h.host.ReportError("heartbeat failure")
}

// SentData marks that data was sent since the last outgoing tick.
// Call this from every outbound frame path, not just the heartbeat's
// own SendBytes call, so a frame sent by the engine also counts as a
// live keepalive.
func (h *Heartbeat) SentData() { h.sentSinceTick = true }

// ReceivedData marks that data was received since the last incoming
// tick. Call this from every inbound frame path, including bare
// heartbeat bytes.
func (h *Heartbeat) ReceivedData() { h.receivedSinceTick = true }

// Stop cancels both timers. Idempotent.
func (h *Heartbeat) Stop() {
	if !h.running {
		return
	}
	h.running = false
	if h.cancelOutgoing != nil {
		h.cancelOutgoing()
		h.cancelOutgoing = nil
	}
	if h.cancelIncoming != nil {
		h.cancelIncoming()
		h.cancelIncoming = nil
	}
}
