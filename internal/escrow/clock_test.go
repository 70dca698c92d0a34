package escrow

import (
	"testing"
	"time"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestCountdownUntil(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := fixedClock{now: now}

	got := CountdownUntil(clock, now.Add(time.Hour+2*time.Minute+3*time.Second))
	if got.Hours != 1 || got.Minutes != 2 || got.Seconds != 3 {
		t.Errorf("Expected 1h2m3s, got %+v", got)
	}

	// Hours are not capped at 24.
	got = CountdownUntil(clock, now.Add(72*time.Hour))
	if got.Hours != 72 || got.Minutes != 0 || got.Seconds != 0 {
		t.Errorf("Expected 72h0m0s, got %+v", got)
	}
}

func TestCountdownUntil_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := fixedClock{now: now}

	got := CountdownUntil(clock, now.Add(-time.Minute))
	if !got.Zero() {
		t.Errorf("Expected zero countdown past deadline, got %+v", got)
	}

	// Stays at zero however far past the deadline.
	got = CountdownUntil(clock, now.Add(-1000*time.Hour))
	if !got.Zero() {
		t.Errorf("Expected zero countdown, got %+v", got)
	}
}

func TestCountdown_Zero(t *testing.T) {
	if !(Countdown{}).Zero() {
		t.Error("Expected empty countdown to be zero")
	}
	if (Countdown{Seconds: 1}).Zero() {
		t.Error("Expected 1s countdown not to be zero")
	}
}
