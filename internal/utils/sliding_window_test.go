package utils

import (
	"testing"
	"time"
)

func TestSlidingWindowAdd(t *testing.T) {
	window := NewSlidingWindow(2 * time.Second)
	now := time.Now()
	if count := window.Add(now); count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	window.Add(now.Add(500 * time.Millisecond))
	if count := window.Count(now.Add(1 * time.Second)); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := window.Count(now.Add(3 * time.Second)); count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
}

func TestSlidingWindowTryAdd(t *testing.T) {
	window := NewSlidingWindow(5 * time.Second)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !window.TryAdd(now.Add(time.Duration(i)*time.Second), 3) {
			t.Fatalf("expected hit %d to be allowed", i)
		}
	}
	if window.TryAdd(now.Add(3*time.Second), 3) {
		t.Fatalf("expected limit to be enforced")
	}
	if !window.TryAdd(now.Add(6*time.Second), 3) {
		t.Fatalf("expected room after the first hit expired")
	}
}

func TestKeyedWindowsAreIndependent(t *testing.T) {
	windows := NewKeyedWindows(time.Minute)
	now := time.Now()
	windows.Get("c1").Add(now)
	windows.Get("c1").Add(now)
	if count := windows.Get("c2").Count(now); count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
	if count := windows.Get("c1").Count(now); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
}
