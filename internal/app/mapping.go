package app

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"schoolbell/internal/config"
	"schoolbell/internal/observability/statusd"
	"schoolbell/internal/playback"
	"schoolbell/internal/storage"
	"schoolbell/internal/transport/telegram"
	"schoolbell/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapPlayer(cfg *config.Config, log logx.Logger) (playback.Player, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Player.Driver)) {
	case "command":
		return &playback.ExecPlayer{
			Command: append([]string(nil), cfg.Player.Command...),
			TempDir: cfg.Player.TempDir,
			Log:     log.With(logx.String("comp", "player")),
		}, nil
	case "", "silent":
		d, err := config.Duration("player.silent_duration", cfg.Player.SilentDuration, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return playback.SilentPlayer{Duration: d}, nil
	default:
		return nil, fmt.Errorf("unknown player.driver %q", cfg.Player.Driver)
	}
}

func mapTick(cfg *config.Config) (time.Duration, error) {
	return config.Duration("scheduler.tick", cfg.Scheduler.Tick, time.Second)
}

func mapStatus(cfg *config.Config) (statusd.Config, error) {
	s := cfg.Status
	read, err := config.Duration("status.read_timeout", s.ReadTimeout, 0)
	if err != nil {
		return statusd.Config{}, err
	}
	write, err := config.Duration("status.write_timeout", s.WriteTimeout, 0)
	if err != nil {
		return statusd.Config{}, err
	}
	idle, err := config.Duration("status.idle_timeout", s.IdleTimeout, 0)
	if err != nil {
		return statusd.Config{}, err
	}
	return statusd.Config{
		Addr:         s.Addr,
		Token:        strings.TrimSpace(s.Token),
		Pprof:        s.Pprof,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	t := cfg.Telegram
	poll, err := config.Duration("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:             strings.TrimSpace(t.Token),
		Owners:            append([]int64(nil), t.OwnerUserIDs...),
		NotifyChatID:      t.NotifyChatID,
		NotifyBells:       t.NotifyBells,
		PollTimeout:       poll,
		CommandRate:       t.CommandRate,
		RequireActivation: cfg.Activation.Required,
	}, nil
}

// checkRuntime rejects configs that parse but cannot run on this host.
func checkRuntime(cfg *config.Config) error {
	if strings.EqualFold(strings.TrimSpace(cfg.Player.Driver), "command") && len(cfg.Player.Command) > 0 {
		if _, err := exec.LookPath(cfg.Player.Command[0]); err != nil {
			return fmt.Errorf("player.command: %w", err)
		}
	}
	return nil
}
