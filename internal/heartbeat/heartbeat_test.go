package heartbeat

import (
	"testing"
	"time"

	"github.com/life-stream-dev/stomp-engine/internal/scheduler"
)

type fakeHost struct {
	sent   [][]byte
	errors []string
}

func (h *fakeHost) SendBytes(b []byte)     { h.sent = append(h.sent, append([]byte(nil), b...)) }
func (h *fakeHost) ReportError(msg string) { h.errors = append(h.errors, msg) }

func TestNegotiateAppliesFloors(t *testing.T) {
	r, err := Negotiate("2000,3000", 5000, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IncomingMs != 5000 {
		t.Fatalf("expected incoming floor applied, got %d", r.IncomingMs)
	}
	if r.OutgoingMs != 3000 {
		t.Fatalf("expected outgoing to keep the higher requested value, got %d", r.OutgoingMs)
	}
}

func TestNegotiateZeroDisablesDirection(t *testing.T) {
	r, err := Negotiate("0,4000", 5000, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IncomingMs != 0 {
		t.Fatalf("expected incoming disabled, got %d", r.IncomingMs)
	}
	if r.OutgoingMs != 4000 {
		t.Fatalf("expected outgoing 4000, got %d", r.OutgoingMs)
	}
}

func TestNegotiateMalformed(t *testing.T) {
	if _, err := Negotiate("nope", 0, 0); err == nil {
		t.Fatal("expected an error for a malformed heart-beat header")
	}
}

func TestOutgoingTickSendsWhenIdle(t *testing.T) {
	sched := scheduler.NewFakeScheduler()
	host := &fakeHost{}
	hb := New(host, sched, Rates{OutgoingMs: 1000})
	hb.Start()

	sched.Advance(1000 * time.Millisecond)
	if len(host.sent) != 1 || string(host.sent[0]) != "\n" {
		t.Fatalf("expected one heartbeat byte, got %v", host.sent)
	}
}

func TestOutgoingTickSkipsWhenDataSent(t *testing.T) {
	sched := scheduler.NewFakeScheduler()
	host := &fakeHost{}
	hb := New(host, sched, Rates{OutgoingMs: 1000})
	hb.Start()

	hb.SentData()
	sched.Advance(1000 * time.Millisecond)
	if len(host.sent) != 0 {
		t.Fatalf("expected no heartbeat byte when data was sent, got %v", host.sent)
	}
}

func TestIncomingTimeoutReportsAndStops(t *testing.T) {
	sched := scheduler.NewFakeScheduler()
	host := &fakeHost{}
	hb := New(host, sched, Rates{IncomingMs: 5000})
	hb.Start()

	sched.Advance(7500 * time.Millisecond)
	if len(host.errors) != 1 || host.errors[0] != "heartbeat failure" {
		t.Fatalf("expected one heartbeat failure report, got %v", host.errors)
	}
	if sched.Active() != 0 {
		t.Fatalf("expected timers canceled after failure, got %d active", sched.Active())
	}
}

func TestIncomingTickClearsFlagWhenDataReceived(t *testing.T) {
	sched := scheduler.NewFakeScheduler()
	host := &fakeHost{}
	hb := New(host, sched, Rates{IncomingMs: 5000})
	hb.Start()

	hb.ReceivedData()
	sched.Advance(7500 * time.Millisecond)
	if len(host.errors) != 0 {
		t.Fatalf("expected no failure report, got %v", host.errors)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sched := scheduler.NewFakeScheduler()
	host := &fakeHost{}
	hb := New(host, sched, Rates{IncomingMs: 5000, OutgoingMs: 5000})
	hb.Start()
	hb.Stop()
	hb.Stop()
	if sched.Active() != 0 {
		t.Fatalf("expected 0 active timers, got %d", sched.Active())
	}
}
