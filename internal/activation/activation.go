// Package activation gates bell firing behind a per-device activation code.
//
// Each install gets a short device id. The matching code is the id reversed
// followed by a fixed suffix; the operator hands the code out when licensing
// a device.
package activation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"schoolbell/internal/storage"
	"schoolbell/pkg/logx"
)

const (
	DefaultSuffix = "HL"
	deviceIDLen   = 8
)

var ErrInvalidCode = errors.New("invalid activation code")

// Gate is safe for concurrent use.
type Gate struct {
	store storage.Store
	log   logx.Logger

	mu        sync.RWMutex
	deviceID  string
	activated bool
	suffix    string
}

func New(store storage.Store, suffix string, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{store: store, log: log.With(logx.String("comp", "activation"))}
	g.SetSuffix(suffix)
	return g
}

// Init loads the device id and activation flag, creating the id on first run.
func (g *Gate) Init(ctx context.Context) error {
	id, ok, err := g.store.GetSetting(ctx, storage.KeyDeviceID)
	if err != nil {
		return fmt.Errorf("load device id: %w", err)
	}
	if !ok || strings.TrimSpace(id) == "" {
		id = NewDeviceID()
		if err := g.store.PutSetting(ctx, storage.KeyDeviceID, id); err != nil {
			return fmt.Errorf("store device id: %w", err)
		}
		g.log.Info("device id created", logx.String("device_id", id))
	}
	flag, _, err := g.store.GetSetting(ctx, storage.KeyActivated)
	if err != nil {
		return fmt.Errorf("load activation flag: %w", err)
	}

	g.mu.Lock()
	g.deviceID = id
	g.activated = flag == "true"
	g.mu.Unlock()
	return nil
}

// NewDeviceID returns 8 uppercase hex characters taken from a random uuid.
func NewDeviceID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:deviceIDLen])
}

func (g *Gate) DeviceID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.deviceID
}

func (g *Gate) Activated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activated
}

// SetSuffix changes the code suffix; an empty value restores the default.
func (g *Gate) SetSuffix(suffix string) {
	suffix = strings.ToUpper(strings.TrimSpace(suffix))
	if suffix == "" {
		suffix = DefaultSuffix
	}
	g.mu.Lock()
	g.suffix = suffix
	g.mu.Unlock()
}

// Expected returns the code that activates this device.
func (g *Gate) Expected() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return CodeFor(g.deviceID, g.suffix)
}

// CodeFor derives the activation code for a device id.
func CodeFor(deviceID, suffix string) string {
	r := []rune(strings.ToUpper(deviceID))
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r) + suffix
}

// Valid compares case-insensitively and ignores surrounding spaces.
func (g *Gate) Valid(code string) bool {
	if g.DeviceID() == "" {
		return false
	}
	return strings.ToUpper(strings.TrimSpace(code)) == g.Expected()
}

// Activate persists the activated flag when code is valid.
func (g *Gate) Activate(ctx context.Context, code string) error {
	if !g.Valid(code) {
		return ErrInvalidCode
	}
	if err := g.store.PutSetting(ctx, storage.KeyActivated, "true"); err != nil {
		return fmt.Errorf("store activation: %w", err)
	}
	g.mu.Lock()
	g.activated = true
	g.mu.Unlock()
	g.log.Info("device activated", logx.String("device_id", g.DeviceID()))
	return nil
}
