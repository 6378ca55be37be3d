// Package lockfile guards an IntakePipe state directory so only one process
// writes its SQLite session database at a time.
//
// The lock is an advisory flock on a file inside the directory. The kernel
// drops it when the process exits, so a crash never leaves the directory
// permanently locked; the file left behind only carries diagnostics.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "intakepipe.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID      int
	Started  time.Time
	Resource string
}

// Lock is a held state-directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the lock for stateDir without blocking. resource names what
// the lock protects (typically the database path) and is recorded for
// diagnostics. When another process holds the lock a *LockError is returned.
func AcquireLock(stateDir, resource string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lockfile.AcquireLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC is deferred until the flock is held so a contender cannot wipe
	// the holder's diagnostics.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Cause: err}
		if h, ok := ReadHolder(lockPath); ok {
			lockErr.Holder = &h
			lockErr.Running = isProcessRunning(h.PID)
		}
		slog.Error("Lockfile.AcquireLock: state directory is locked by another IntakePipe instance", "lock_path", lockPath, "error", err)
		return nil, lockErr
	}

	holder := Holder{PID: os.Getpid(), Started: time.Now().UTC(), Resource: resource}
	if err := writeHolder(file, holder); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Lockfile.AcquireLock: acquired state directory lock", "lock_path", lockPath, "pid", holder.PID)
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. Calling it more than once
// is harmless.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the flock so a new holder never loses its file.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lockfile.Release: failed to unlock", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lockfile.Release: released state directory lock", "lock_path", l.path)
	return err
}

// LockError reports that another process holds the state directory.
type LockError struct {
	LockPath string
	Holder   *Holder
	Running  bool
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another IntakePipe instance is using this state directory (lock file %s)", e.LockPath)
	if e.Holder != nil {
		state := "not running"
		if e.Running {
			state = "running"
		}
		fmt.Fprintf(&b, "; held by pid %d (%s) since %s", e.Holder.PID, state, e.Holder.Started.Format(time.RFC3339))
		if e.Holder.Resource != "" {
			fmt.Fprintf(&b, " for %s", e.Holder.Resource)
		}
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nstarted=%s\nresource=%s\n", h.PID, h.Started.Format(time.RFC3339), h.Resource)
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Lockfile.writeHolder: sync failed", "error", err)
	}
	return nil
}

// ReadHolder parses the diagnostics in a lock file. It reports false when the
// file is missing or carries no pid.
func ReadHolder(lockPath string) (Holder, bool) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Holder{}, false
	}
	defer f.Close()

	var h Holder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, value)
		case "resource":
			h.Resource = value
		}
	}
	return h, h.PID > 0
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
