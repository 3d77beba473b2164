package ratelimit

import (
	"testing"
	"time"
)

func TestCheckLimit_AllowsUpToMaxThenBlocks(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.CheckLimit() {
			t.Fatalf("expected call %d to be allowed", i+1)
		}
	}
	if l.CheckLimit() {
		t.Fatal("expected the call beyond max to be blocked")
	}
}

func TestCheckLimit_WindowSlidesOldHitsOut(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	if !l.CheckLimit() {
		t.Fatal("expected first call to be allowed")
	}
	if l.CheckLimit() {
		t.Fatal("expected immediate second call to be blocked")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.CheckLimit() {
		t.Fatal("expected a call after the window elapses to be allowed again")
	}
}

func TestCheckLimit_NonPositiveMaxDisablesLimiting(t *testing.T) {
	l := New(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !l.CheckLimit() {
			t.Fatalf("expected unlimited allowance, blocked at call %d", i+1)
		}
	}
}
