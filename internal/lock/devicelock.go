// Package lock provides exclusive, process-wide locks on plant devices so two
// loops never drive the same hardware.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("device is locked by another process")

// DeviceLock is an flock(2) on a per-device lock file holding the owner PID.
// The lock lives as long as the file descriptor stays open.
type DeviceLock struct {
	device string
	path   string
	f      *os.File
}

// LockPath maps device to its lock file under dir.
func LockPath(dir, device string) string {
	name := strings.Trim(filepath.ToSlash(filepath.Clean(device)), "/")
	name = strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(name)
	if name == "" || name == "." {
		name = "device"
	}
	return filepath.Join(dir, name+".lock")
}

// Acquire takes a non-blocking exclusive lock for device in dir.
func Acquire(dir, device string) (*DeviceLock, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock directory is empty")
	}
	if device == "" {
		return nil, fmt.Errorf("device is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := LockPath(dir, device)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	fd := int(f.Fd())

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid, ok := readPID(path); ok {
				return nil, fmt.Errorf("%w: %s (pid %d)", ErrHeld, device, pid)
			}
			return nil, fmt.Errorf("%w: %s", ErrHeld, device)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) (*DeviceLock, error) {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate lock file", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fail("write pid", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync lock file", err)
	}

	return &DeviceLock{device: device, path: path, f: f}, nil
}

func (l *DeviceLock) Device() string { return l.device }

func (l *DeviceLock) Path() string { return l.path }

// Release drops the lock. It is safe to call more than once.
func (l *DeviceLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

func readPID(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	return pid, err == nil && pid > 0
}
