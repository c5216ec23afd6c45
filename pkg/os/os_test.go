package os

import (
	"path/filepath"
	"testing"
)

func TestCheckCreateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if Exists(dir) {
		t.Fatalf("%v should not exist", dir)
	}
	if err := CheckCreateDir(dir); err != nil {
		t.Fatal(err)
	}
	if !Exists(dir) {
		t.Errorf("%v should exist", dir)
	}
}

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	a, err := NewFileLock(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.TryLock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	b, _ := NewFileLock(path)
	if err := b.TryLock(); err != ErrLocked {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	if err := a.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := b.TryLock(); err != nil {
		t.Errorf("lock after unlock: %v", err)
	}
	_ = b.Unlock()
}
