package scheduler

import "testing"

func TestFakeSchedulerFiresOnAdvance(t *testing.T) {
	s := NewFakeScheduler()
	fired := 0
	s.SchedulePeriodic(1000, func() { fired++ })

	s.Advance(2500)
	if fired != 2 {
		t.Fatalf("expected 2 fires for 2500ns over 1000ns interval, got %d", fired)
	}
}

func TestFakeSchedulerCancelStopsFiring(t *testing.T) {
	s := NewFakeScheduler()
	fired := 0
	cancel := s.SchedulePeriodic(1000, func() { fired++ })

	s.Advance(1000)
	cancel()
	s.Advance(5000)

	if fired != 1 {
		t.Fatalf("expected exactly 1 fire before cancel, got %d", fired)
	}
	if s.Active() != 0 {
		t.Fatalf("expected 0 active timers after cancel, got %d", s.Active())
	}
}
