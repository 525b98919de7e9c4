package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"schoolbell/internal/bell"
	"schoolbell/pkg/logx"
)

// fileStore keeps the working set in memory and rewrites a JSON snapshot on
// every mutation.
//
// Layout for path "<dir>/<name>.json":
//   - <dir>/<name>.json          schedules, clip metadata, settings
//   - <dir>/<name>.audio/<id>    one file per clip
//   - <dir>/<name>.audit.jsonl   append-only audit log
//
// A mutation is applied to a copy, the snapshot is written to a temp file and
// renamed into place, and only then does the copy become current. A failed
// write leaves both disk and memory unchanged.
type fileStore struct {
	fs  afero.Fs
	log logx.Logger

	snapshotPath string
	audioDir     string
	auditPath    string

	lock unlocker

	mu     sync.RWMutex
	data   *dataset
	closed bool
}

// OpenFile opens (or creates) a file store rooted at path on fs and holds the
// writer lock until Close. A second writer on the same path gets ErrLocked.
func OpenFile(fs afero.Fs, path string, log logx.Logger) (Store, error) {
	return openFile(fs, path, log, false)
}

// openFile with readOnly set skips the lock and loads one snapshot. The
// snapshot is replaced by rename, so a concurrent writer never exposes a
// partial file.
func openFile(fs afero.Fs, path string, log logx.Logger, readOnly bool) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	dir := filepath.Dir(path)
	prefix := strings.TrimSuffix(path, filepath.Ext(path))

	s := &fileStore{
		fs:           fs,
		log:          log,
		snapshotPath: path,
		audioDir:     prefix + ".audio",
		auditPath:    prefix + ".audit.jsonl",
		data:         newDataset(),
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if readOnly {
		if err := s.load(); err != nil {
			return nil, err
		}
		return readOnlyStore{s}, nil
	}

	lock, err := acquireLock(fs, path)
	if err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(s.audioDir, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := s.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	s.lock = lock
	return s, nil
}

func (s *fileStore) load() error {
	b, err := afero.ReadFile(s.fs, s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	d := newDataset()
	if err := json.Unmarshal(b, d); err != nil {
		return fmt.Errorf("decode %s: %w", s.snapshotPath, err)
	}
	if d.Settings == nil {
		d.Settings = map[string]string{}
	}
	s.data = d
	s.log.Debug("snapshot loaded",
		logx.String("path", s.snapshotPath),
		logx.Int("schedules", len(d.Schedules)),
		logx.Int("clips", len(d.Clips)),
	)
	return nil
}

// mutate applies fn to a copy and commits it once the snapshot is on disk.
func (s *fileStore) mutate(fn func(d *dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next := s.data.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.writeSnapshot(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (s *fileStore) writeSnapshot(d *dataset) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o600); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.snapshotPath)
}

func (s *fileStore) clipPath(id string) string {
	return filepath.Join(s.audioDir, filepath.Base(id))
}

func (s *fileStore) view(fn func(d *dataset) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.data)
}

func (s *fileStore) ListSchedules(ctx context.Context) ([]bell.Schedule, error) {
	var out []bell.Schedule
	err := s.view(func(d *dataset) error {
		out = append([]bell.Schedule(nil), d.Schedules...)
		return nil
	})
	return out, err
}

func (s *fileStore) PutSchedule(ctx context.Context, sc bell.Schedule) error {
	return s.mutate(func(d *dataset) error { d.putSchedule(sc); return nil })
}

func (s *fileStore) DeleteSchedule(ctx context.Context, id string) error {
	return s.mutate(func(d *dataset) error { return d.deleteSchedule(id) })
}

func (s *fileStore) ListAudioClips(ctx context.Context) ([]bell.AudioClip, error) {
	var out []bell.AudioClip
	err := s.view(func(d *dataset) error {
		out = append([]bell.AudioClip(nil), d.Clips...)
		return nil
	})
	return out, err
}

func (s *fileStore) GetAudioClip(ctx context.Context, id string) (bell.AudioClip, error) {
	var c bell.AudioClip
	err := s.view(func(d *dataset) (err error) {
		c, err = d.getClip(id)
		return err
	})
	if err != nil {
		return bell.AudioClip{}, err
	}
	c.Data, err = afero.ReadFile(s.fs, s.clipPath(id))
	if err != nil {
		return bell.AudioClip{}, fmt.Errorf("read clip %s: %w", id, err)
	}
	return c, nil
}

// PutAudioClip writes the audio bytes before the snapshot references them.
func (s *fileStore) PutAudioClip(ctx context.Context, c bell.AudioClip) error {
	if err := afero.WriteFile(s.fs, s.clipPath(c.ID), c.Data, 0o600); err != nil {
		return err
	}
	c.Data = nil
	return s.mutate(func(d *dataset) error { d.putClip(c); return nil })
}

func (s *fileStore) DeleteAudioClip(ctx context.Context, id string) ([]string, error) {
	var cleared []string
	err := s.mutate(func(d *dataset) (err error) {
		cleared, err = d.deleteClip(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.fs.Remove(s.clipPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("clip file not removed", logx.String("clip", id), logx.Err(err))
	}
	return cleared, nil
}

func (s *fileStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.view(func(d *dataset) error {
		v, ok = d.Settings[key]
		return nil
	})
	return v, ok, err
}

func (s *fileStore) PutSetting(ctx context.Context, key, value string) error {
	return s.mutate(func(d *dataset) error { d.Settings[key] = value; return nil })
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	f, err := s.fs.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(e); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	f, err := s.fs.Open(s.auditPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		all = append(all, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tail(all, limit), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.lock != nil {
		return s.lock.Unlock()
	}
	return nil
}
