package os

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var ErrLocked = errors.New("file is locked by another process")

type Flock struct {
	f *flock.Flock
}

// NewFileLock makes an advisory lock file at the path,
// an empty path puts it into the temp dir.
func NewFileLock(path string) (*Flock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "csremote.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	return &Flock{f: flock.New(path)}, nil
}

// TryLock takes the lock without blocking.
func (f *Flock) TryLock() error {
	ok, err := f.f.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (f *Flock) Unlock() error { return f.f.Unlock() }
