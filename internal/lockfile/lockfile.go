// Package lockfile guards a PitchPipe state directory against a second running instance.
//
// Two bots polling the same Telegram token, or sharing one WhatsApp device store, would
// answer every founder twice. The lock is an flock(2) held for the process lifetime, so the
// kernel drops it even on a crash.
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

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "pitchpipe.lock"

// Info describes the process holding a lock.
type Info struct {
	PID       int
	Transport string
	StartedAt time.Time
}

// String renders the holder for error messages.
func (i Info) String() string {
	if i.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if processAlive(i.PID) {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", i.PID, state)
	if i.Transport != "" {
		s += ", transport " + i.Transport
	}
	if !i.StartedAt.IsZero() {
		s += ", started " + i.StartedAt.Format(time.RFC3339)
	}
	return s
}

// Lock is an acquired state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock in stateDir, creating the directory if needed. transport is
// recorded in the lock file so a conflicting start can report what is already running.
func Acquire(stateDir, transport string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := ReadInfo(path)
		f.Close()
		slog.Error("Lockfile Acquire failed", "error", err, "lock_path", path, "holder", holder.String())
		return nil, &LockError{LockPath: path, Holder: holder, Cause: err}
	}

	// Truncate only after the lock is ours so a loser never wipes the holder's info.
	if err := writeInfo(f, Info{PID: os.Getpid(), Transport: transport, StartedAt: time.Now().UTC()}); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}

	slog.Info("Lockfile Acquire succeeded", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. Calling it more than once is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting instance never sees our stale info.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile Release could not remove file", "error", err, "lock_path", l.path)
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", l.path, closeErr)
	}
	slog.Debug("Lockfile Release succeeded", "lock_path", l.path)
	return nil
}

// LockError reports that another instance holds the lock.
type LockError struct {
	LockPath string
	Holder   Info
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another PitchPipe instance is already using this state directory\n"+
		"lock file: %s\nholder: %s\n"+
		"if the holder is not running, remove the lock file and start again", e.LockPath, e.Holder)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\ntransport=%s\nstarted_at=%s\n",
		info.PID, info.Transport, info.StartedAt.Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Lockfile writeInfo sync failed", "error", err)
	}
	return nil
}

// ReadInfo parses a lock file. Missing or malformed fields are left zero.
func ReadInfo(path string) Info {
	f, err := os.Open(path)
	if err != nil {
		return Info{}
	}
	defer f.Close()
	return parseInfo(bufio.NewScanner(f))
}

func parseInfo(sc *bufio.Scanner) Info {
	var info Info
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(val); err == nil && pid > 0 {
				info.PID = pid
			}
		case "transport":
			info.Transport = val
		case "started_at":
			if ts, err := time.Parse(time.RFC3339, val); err == nil {
				info.StartedAt = ts
			}
		}
	}
	return info
}

// processAlive sends signal 0, which checks existence without delivering anything.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
