package lockfile

import (
	"path/filepath"
	"testing"
)

func TestTryAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := New(path)

	if err := l.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestTryAcquireContested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	first := New(path)
	if err := first.TryAcquire(); err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}
	defer first.Release()

	second := New(path)
	if err := second.TryAcquire(); err != ErrLocked {
		t.Fatalf("second TryAcquire: got %v, want ErrLocked", err)
	}
}

func TestWithLockRunsAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	var ran bool
	if err := WithLock(path, func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}

	// Lock must be released: a second WithLock over the same path
	// should succeed rather than report ErrLocked.
	if err := WithLock(path, func() error { return nil }); err != nil {
		t.Fatalf("second WithLock: %v", err)
	}
}

func TestWithLockContested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	held := New(path)
	if err := held.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	defer held.Release()

	err := WithLock(path, func() error {
		t.Fatal("fn should not run while lock is held")
		return nil
	})
	if err != ErrLocked {
		t.Fatalf("got %v, want ErrLocked", err)
	}
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l := New(path)
	if err := l.Release(); err != nil {
		t.Fatalf("Release on unlocked: %v", err)
	}
}
