package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"schoolbell/internal/playback"
)

// Validate checks every section and returns all problems joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := LoadLocation(cfg.Scheduler.Timezone); err != nil {
		add(err)
	}
	for _, r := range durationRules {
		add(r.check(cfg))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Player.Driver)) {
	case "", "silent":
	case "command":
		if len(cfg.Player.Command) == 0 || strings.TrimSpace(cfg.Player.Command[0]) == "" {
			add(errors.New("player.command is required for driver \"command\""))
		}
		for _, a := range cfg.Player.Command {
			if strings.Contains(a, "{") && !strings.Contains(a, playback.FilePlaceholder) {
				add(fmt.Errorf("player.command: unknown placeholder in %q", a))
			}
		}
	default:
		add(fmt.Errorf("player.driver: unknown %q", cfg.Player.Driver))
	}

	if s := strings.TrimSpace(cfg.Activation.CodeSuffix); strings.ContainsAny(s, " \t") {
		add(errors.New("activation.code_suffix must not contain spaces"))
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" && len(cfg.Telegram.OwnerUserIDs) == 0 {
		add(errors.New("telegram.owner_user_ids is required when telegram.token is set"))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.NotifyChatID == 0 {
		add(errors.New("logging.telegram requires telegram.notify_chat_id"))
	}

	if cfg.Status.Enabled {
		add(validateListenAddr(cfg.Status.Addr, cfg.Status.Token))
	}

	if cfg.Digest.Enabled {
		if _, err := cron.ParseStandard(cfg.Digest.Spec); err != nil {
			add(fmt.Errorf("digest.spec: %w", err))
		}
		if cfg.Telegram.NotifyChatID == 0 {
			add(errors.New("digest requires telegram.notify_chat_id"))
		}
	}

	return errors.Join(errs...)
}

// durationRule bounds one duration field. A zero bound is open; an unset
// field is never out of range because the consumer applies its default.
type durationRule struct {
	field    string
	raw      func(*Config) string
	min, max time.Duration
}

var durationRules = []durationRule{
	{field: "scheduler.tick", raw: func(c *Config) string { return c.Scheduler.Tick }, min: 100 * time.Millisecond, max: time.Second},
	{field: "storage.busy_timeout", raw: func(c *Config) string { return c.Storage.BusyTimeout }},
	{field: "player.silent_duration", raw: func(c *Config) string { return c.Player.SilentDuration }},
	{field: "telegram.poll_timeout", raw: func(c *Config) string { return c.Telegram.PollTimeout }},
	{field: "status.read_timeout", raw: func(c *Config) string { return c.Status.ReadTimeout }},
	{field: "status.write_timeout", raw: func(c *Config) string { return c.Status.WriteTimeout }},
	{field: "status.idle_timeout", raw: func(c *Config) string { return c.Status.IdleTimeout }},
}

func (r durationRule) check(cfg *Config) error {
	d, err := Duration(r.field, r.raw(cfg), 0)
	if err != nil || d == 0 {
		return err
	}
	if (r.min > 0 && d < r.min) || (r.max > 0 && d > r.max) {
		return fmt.Errorf("%s: %s outside %s..%s", r.field, d, r.min, r.max)
	}
	return nil
}

// Duration parses a duration field. Empty or zero yields def, and a bare
// integer counts seconds, so "poll_timeout: 10" means ten seconds.
func Duration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", field, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", field, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// LoadLocation resolves an IANA zone name; empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

func validateListenAddr(addr, token string) error {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("status.addr: %w", err)
	}
	if isLoopback(host) || strings.TrimSpace(token) != "" {
		return nil
	}
	return fmt.Errorf("status.addr %q is not loopback; set status.token", addr)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
