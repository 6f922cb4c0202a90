package utils

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

var ErrAlreadyLocked = errors.New("another instance holds the lock")

// InstanceLock is a host-wide advisory lock backed by a file.
type InstanceLock struct {
	lock *flock.Flock
	path string
}

func NewInstanceLock(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create lock directory")
	}
	return &InstanceLock{lock: flock.New(path), path: path}, nil
}

// DefaultLockPath places the lock under the system temp directory.
func DefaultLockPath(name string) string {
	return filepath.Join(os.TempDir(), "ctf-assistant", name+".lock")
}

func (l *InstanceLock) TryLock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return errors.Wrapf(err, "lock %s", l.path)
	}
	if !locked {
		return ErrAlreadyLocked
	}
	return nil
}

// Unlock releases the lock and removes the file.
func (l *InstanceLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		return errors.Wrap(err, "unlock")
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove lock file")
	}
	return nil
}

func (l *InstanceLock) Path() string {
	return l.path
}
