package storage

import (
	"context"
	"errors"
	"time"

	"schoolbell/internal/bell"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Setting keys used by the daemon.
const (
	KeyDeviceID  = "device_id"
	KeyActivated = "activated"
)

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
	// ReadOnly skips the writer lock and rejects mutations with ErrReadOnly.
	ReadOnly bool
}

// Store is the persistence contract. ListSchedules returns schedules in
// insertion order; PutSchedule on an existing id keeps its position.
//
// ListAudioClips returns metadata only (Data is nil); GetAudioClip loads the
// bytes. DeleteAudioClip clears AudioID on every schedule that referenced the
// clip in the same atomic step and returns those schedule ids.
type Store interface {
	ListSchedules(ctx context.Context) ([]bell.Schedule, error)
	PutSchedule(ctx context.Context, s bell.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error

	ListAudioClips(ctx context.Context) ([]bell.AudioClip, error)
	GetAudioClip(ctx context.Context, id string) (bell.AudioClip, error)
	PutAudioClip(ctx context.Context, c bell.AudioClip) error
	DeleteAudioClip(ctx context.Context, id string) (cleared []string, err error)

	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	Close() error
}

// AuditEntry records one operator action (toggle, upload, ring, ...).
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}
