package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	_ "modernc.org/sqlite"

	"schoolbell/internal/bell"
	"schoolbell/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	lock unlocker
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	var lock unlocker
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if !cfg.ReadOnly {
			var err error
			if lock, err = acquireLock(afero.NewOsFs(), path); err != nil {
				return nil, err
			}
		}
	}
	release := func() {
		if lock != nil {
			_ = lock.Unlock()
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		release()
		return nil, err
	}
	// One connection: pragmas stick and writers never contend.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		release()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite ready", logx.String("path", path), logx.Bool("read_only", cfg.ReadOnly))
	st := &sqliteStore{db: db, log: log, lock: lock}
	if cfg.ReadOnly {
		return readOnlyStore{st}, nil
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]bell.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, time_of_day, label, audio_id, enabled, days, repeat_interval
		 FROM schedules ORDER BY seq`)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer rows.Close()

	var out []bell.Schedule
	for rows.Next() {
		var (
			sc      bell.Schedule
			tod     string
			enabled int
			days    int
		)
		if err := rows.Scan(&sc.ID, &tod, &sc.Label, &sc.AudioID, &enabled, &days, &sc.RepeatInterval); err != nil {
			return nil, err
		}
		if sc.Time, err = bell.ParseTimeOfDay(tod); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sc.ID, err)
		}
		sc.Enabled = enabled != 0
		sc.Days = bell.DaySet(days)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSchedule(ctx context.Context, sc bell.Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, seq, time_of_day, label, audio_id, enabled, days, repeat_interval)
		 VALUES(?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM schedules), ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   time_of_day = excluded.time_of_day,
		   label = excluded.label,
		   audio_id = excluded.audio_id,
		   enabled = excluded.enabled,
		   days = excluded.days,
		   repeat_interval = excluded.repeat_interval`,
		sc.ID, sc.Time.String(), sc.Label, sc.AudioID, boolInt(sc.Enabled), int(sc.Days), sc.RepeatInterval,
	)
	return wrapClosed(err)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return wrapClosed(err)
	}
	return requireRow(res)
}

func (s *sqliteStore) ListAudioClips(ctx context.Context) ([]bell.AudioClip, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, mime, created_at FROM audio_clips ORDER BY seq`)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer rows.Close()

	var out []bell.AudioClip
	for rows.Next() {
		var (
			c  bell.AudioClip
			at string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.MIME, &at); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetAudioClip(ctx context.Context, id string) (bell.AudioClip, error) {
	var (
		c  bell.AudioClip
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, mime, data, created_at FROM audio_clips WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.MIME, &c.Data, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return bell.AudioClip{}, ErrNotFound
	}
	if err != nil {
		return bell.AudioClip{}, wrapClosed(err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
	return c, nil
}

func (s *sqliteStore) PutAudioClip(ctx context.Context, c bell.AudioClip) error {
	data := c.Data
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_clips(id, seq, name, mime, data, created_at)
		 VALUES(?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM audio_clips), ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, mime = excluded.mime, data = excluded.data`,
		c.ID, c.Name, c.MIME, data, c.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return wrapClosed(err)
}

// DeleteAudioClip clears references and removes the clip in one transaction.
func (s *sqliteStore) DeleteAudioClip(ctx context.Context, id string) (cleared []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM audio_clips WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if err = requireRow(res); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM schedules WHERE audio_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sid string
		if err = rows.Scan(&sid); err != nil {
			rows.Close()
			return nil, err
		}
		cleared = append(cleared, sid)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE schedules SET audio_id = '' WHERE audio_id = ?`, id); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return cleared, nil
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapClosed(err)
	}
	return v, true, nil
}

func (s *sqliteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return wrapClosed(err)
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, ok, err) VALUES(?, ?, ?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Actor, e.Action, nullStr(e.Target), boolInt(e.OK), nullStr(e.Error),
	)
	return wrapClosed(err)
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor, action, COALESCE(target, ''), ok, COALESCE(err, '')
		 FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
			ok int
		)
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Target, &ok, &e.Error); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapClosed(err error) error {
	if errors.Is(err, sql.ErrConnDone) || (err != nil && strings.Contains(err.Error(), "database is closed")) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
