package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"

	"schoolbell/internal/bell"
)

var (
	// ErrLocked means another process holds the store open for writing.
	ErrLocked = errors.New("storage: locked by another process")
	// ErrReadOnly is returned by every mutation on a store opened read-only.
	ErrReadOnly = errors.New("storage: read-only")
)

type unlocker interface {
	Unlock() error
}

func lockPath(path string) string { return path + ".lock" }

// acquireLock takes the single-writer lock that sits next to path. On the
// real filesystem it is an advisory flock, released by the kernel if the
// process dies. Any other afero.Fs gets an exclusively created lock file.
func acquireLock(fs afero.Fs, path string) (unlocker, error) {
	if _, ok := fs.(*afero.OsFs); ok {
		return lockOS(lockPath(path))
	}
	return lockExclusive(fs, lockPath(path))
}

type exclusiveLock struct {
	fs   afero.Fs
	path string
	once sync.Once
}

func lockExclusive(fs afero.Fs, path string) (unlocker, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return &exclusiveLock{fs: fs, path: path}, nil
}

func (l *exclusiveLock) Unlock() error {
	var err error
	l.once.Do(func() { err = l.fs.Remove(l.path) })
	return err
}

// readOnlyStore rejects every mutation with ErrReadOnly.
type readOnlyStore struct {
	Store
}

func (readOnlyStore) PutSchedule(context.Context, bell.Schedule) error { return ErrReadOnly }
func (readOnlyStore) DeleteSchedule(context.Context, string) error     { return ErrReadOnly }
func (readOnlyStore) PutAudioClip(context.Context, bell.AudioClip) error {
	return ErrReadOnly
}
func (readOnlyStore) DeleteAudioClip(context.Context, string) ([]string, error) {
	return nil, ErrReadOnly
}
func (readOnlyStore) PutSetting(context.Context, string, string) error { return ErrReadOnly }
func (readOnlyStore) AppendAudit(context.Context, AuditEntry) error    { return ErrReadOnly }
