package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInstanceLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "poller.lock")

	first, err := NewInstanceLock(path)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if err := first.TryLock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	second, err := NewInstanceLock(path)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if err := second.TryLock(); err != ErrAlreadyLocked {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed")
	}
	if err := second.TryLock(); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	_ = second.Unlock()
}
