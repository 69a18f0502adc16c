package shutdown

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestWaitRunsRegisteredCleanersOnSignal(t *testing.T) {
	r := New(time.Second)

	var invoked int32
	r.Add(Func(func(ctx context.Context) error {
		atomic.AddInt32(&invoked, 1)
		return nil
	}))
	r.Add(Func(func(ctx context.Context) error {
		atomic.AddInt32(&invoked, 1)
		return nil
	}))

	var loggerClosed int32
	loggerDone := Func(func(ctx context.Context) error {
		atomic.AddInt32(&loggerClosed, 1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		r.Wait(context.Background(), loggerDone)
		close(done)
	}()

	time.AfterFunc(50*time.Millisecond, func() {
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after signal")
	}

	if atomic.LoadInt32(&invoked) != 2 {
		t.Fatalf("expected both cleaners invoked, got %d", invoked)
	}
	if atomic.LoadInt32(&loggerClosed) != 1 {
		t.Fatal("expected logger shutdown callable invoked")
	}
}

func TestAddAfterShutdownStartedIsIgnored(t *testing.T) {
	r := New(time.Second)
	r.cleaning = true

	var invoked int32
	r.Add(Func(func(ctx context.Context) error {
		atomic.AddInt32(&invoked, 1)
		return nil
	}))

	if len(r.cleaners) != 0 {
		t.Fatalf("expected no cleaners registered after shutdown began, got %d", len(r.cleaners))
	}
}
