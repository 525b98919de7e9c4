package app

import (
	"context"
	"errors"
	"fmt"

	"schoolbell/internal/activation"
	"schoolbell/internal/config"
	"schoolbell/internal/registry"
	"schoolbell/internal/storage"
	"schoolbell/pkg/logx"
)

// ErrDaemonRunning is returned for an offline edit while the daemon holds the
// store's writer lock.
var ErrDaemonRunning = fmt.Errorf("%w: the daemon is running; use the Telegram bot to make changes", storage.ErrLocked)

// Offline opens the store and registry without starting any loop. The CLI
// uses it to inspect and edit schedules and clips.
//
// Only one process writes the store. An edit needs the writer lock, so it is
// refused while the daemon runs. A query falls back to a read-only view.
type Offline struct {
	Config     *config.Config
	Store      storage.Store
	Registry   *registry.Registry
	Activation *activation.Gate
	ReadOnly   bool
}

func OpenOffline(ctx context.Context, cfgPath string, log logx.Logger, write bool) (*Offline, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if d := cfg.Storage.Driver; d == "" || d == "memory" || d == "mem" {
		return nil, errors.New("storage.driver is memory; nothing to edit offline")
	}
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if errors.Is(err, storage.ErrLocked) {
		if write {
			return nil, ErrDaemonRunning
		}
		sc.ReadOnly = true
		store, err = storage.Open(sc, log)
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	o := &Offline{
		Config:     cfg,
		Store:      store,
		Registry:   registry.New(store, log),
		Activation: activation.New(store, cfg.Activation.CodeSuffix, log),
		ReadOnly:   sc.ReadOnly,
	}
	if err := o.Registry.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := o.Activation.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return o, nil
}

func (o *Offline) Close() error { return o.Store.Close() }
