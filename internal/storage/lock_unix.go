//go:build unix

package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

type flockFile struct {
	f    *os.File
	once sync.Once
}

func lockOS(path string) (unlocker, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	// The pid is informational; the flock is what excludes other writers.
	if err := f.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &flockFile{f: f}, nil
}

func (l *flockFile) Unlock() error {
	var err error
	l.once.Do(func() {
		_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
		err = l.f.Close()
	})
	return err
}
