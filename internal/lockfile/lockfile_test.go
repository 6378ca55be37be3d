package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireLockRecordsHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "/data/intakepipe.db")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %q", lock.Path())
	}
	h, ok := ReadHolder(lock.Path())
	if !ok {
		t.Fatal("expected holder information in lock file")
	}
	if h.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), h.PID)
	}
	if h.Resource != "/data/intakepipe.db" {
		t.Errorf("expected resource to be recorded, got %q", h.Resource)
	}
	if h.Started.IsZero() {
		t.Error("expected start time to be recorded")
	}
}

func TestAcquireLockCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected state dir to exist: %v", err)
	}
}

func TestAcquireLockConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir, "sessions")
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir, "sessions")
	if err == nil {
		second.Release()
		t.Fatal("expected second AcquireLock to fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Holder == nil || lockErr.Holder.PID != os.Getpid() {
		t.Errorf("expected holder pid %d, got %+v", os.Getpid(), lockErr.Holder)
	}
	if !lockErr.Running {
		t.Error("expected holder to be reported as running")
	}
	if !strings.Contains(err.Error(), "another IntakePipe instance") {
		t.Errorf("unexpected error text: %v", err)
	}
	if lockErr.Unwrap() == nil {
		t.Error("expected underlying flock error")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("expected lock file to be removed, stat err = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}

	again, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	again.Release()
}

func TestStaleLockFileIsReused(t *testing.T) {
	dir := t.TempDir()
	stale := "pid=999999\nstarted=2020-01-01T00:00:00Z\nresource=old\n"
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte(stale), 0644); err != nil {
		t.Fatalf("failed to write stale lock: %v", err)
	}

	lock, err := AcquireLock(dir, "new")
	if err != nil {
		t.Fatalf("expected stale lock file to be taken over, got %v", err)
	}
	defer lock.Release()

	h, ok := ReadHolder(lock.Path())
	if !ok || h.PID != os.Getpid() || h.Resource != "new" {
		t.Errorf("expected lock file to be rewritten, got %+v", h)
	}
}

func TestReadHolder(t *testing.T) {
	dir := t.TempDir()
	if _, ok := ReadHolder(filepath.Join(dir, "missing.lock")); ok {
		t.Error("expected missing file to report false")
	}

	path := filepath.Join(dir, "garbage.lock")
	if err := os.WriteFile(path, []byte("not a lock file\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, ok := ReadHolder(path); ok {
		t.Error("expected file without pid to report false")
	}
}
