// Package lock guarantees a single daemon per vehicle by holding flock(2)
// on a lock file for as long as the process drives the motors.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another process owns the device.
var ErrHeld = errors.New("device is locked by another process")

// Owner is what the lock file records about its holder.
type Owner struct {
	PID       int
	VehicleID string
}

// DeviceLock is held until Release. The lock lives in the open descriptor.
type DeviceLock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at path without blocking and records the caller
// as owner.
func Acquire(path, vehicleID string) (*DeviceLock, error) {
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	if err := checkLocalFilesystem(path, detectFilesystemType); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if owner, rerr := ReadOwner(path); rerr == nil {
				return nil, fmt.Errorf("%w (pid %d, vehicle %q)", ErrHeld, owner.PID, owner.VehicleID)
			}
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &DeviceLock{path: path, f: f}
	if err := l.writeOwner(Owner{PID: os.Getpid(), VehicleID: vehicleID}); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *DeviceLock) writeOwner(o Owner) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(l.f, "%d %s\n", o.PID, o.VehicleID); err != nil {
		return fmt.Errorf("write owner: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// ReadOwner parses the holder recorded in a lock file.
func ReadOwner(path string) (Owner, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	pidField, vehicle, _ := strings.Cut(strings.TrimSpace(string(b)), " ")
	pid, err := strconv.Atoi(pidField)
	if err != nil {
		return Owner{}, fmt.Errorf("parse lock owner: %w", err)
	}
	return Owner{PID: pid, VehicleID: vehicle}, nil
}

// Path returns the lock file path.
func (l *DeviceLock) Path() string { return l.path }

// Release drops the lock. Safe to call more than once.
func (l *DeviceLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
