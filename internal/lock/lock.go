// Package lock guarantees a single daemon per tenant directory.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a tenant directory.
const FileName = "LOCK"

// Holder describes the process that owns a tenant lock.
type Holder struct {
	PID   int
	Since time.Time
}

func (h Holder) String() string {
	if h.Since.IsZero() {
		return fmt.Sprintf("PID %d", h.PID)
	}
	return fmt.Sprintf("PID %d since %s", h.PID, h.Since.Local().Format(time.DateTime))
}

// LockHeldError is returned when another daemon holds the tenant lock.
type LockHeldError struct {
	Holder
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("tenant lock held by %s (%s)", e.Holder, e.Path)
}

// Lock represents an acquired tenant lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock of dir, creating dir if needed. It
// returns a *LockHeldError if another process already holds it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create tenant dir: %w", err)
	}
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		h, _ := Inspect(dir)
		return nil, &LockHeldError{Holder: h, Path: path}
	}

	if err := stamp(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

func stamp(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Inspect reads the holder recorded in dir's lock file. It reports
// fs.ErrNotExist when no daemon has the tenant locked.
func Inspect(dir string) (Holder, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "time":
			h.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	if h.PID == 0 {
		return Holder{}, fmt.Errorf("lock file without pid: %w", fs.ErrNotExist)
	}
	return h, nil
}

// Held reports whether dir is locked by a live process.
func Held(dir string) bool {
	l, err := Acquire(dir)
	if err != nil {
		var held *LockHeldError
		return errors.As(err, &held)
	}
	_ = l.Release()
	return false
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
