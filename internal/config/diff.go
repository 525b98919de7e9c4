package config

import (
	"reflect"
	"strings"

	"schoolbell/pkg/logx"
)

// Sections that take effect without a restart.
var hotSections = map[string]bool{
	"logging":    true,
	"activation": true,
	"digest":     true,
	"telegram":   true,
}

// Change describes the difference between two configs.
type Change struct {
	Sections []string
	// Restart lists changed sections that only apply after a restart.
	Restart []string
	// Fields are safe to log; secrets are reported as set/unset only.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Changed(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(name string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		ch.Sections = append(ch.Sections, name)
		if !hotSections[name] {
			ch.Restart = append(ch.Restart, name)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	o, n := oldCfg, newCfg
	mark("logging", !reflect.DeepEqual(o.Logging, n.Logging),
		logx.String("logging.level", n.Logging.Level),
		logx.Bool("logging.file", n.Logging.File.Enabled),
		logx.Bool("logging.telegram", n.Logging.Telegram.Enabled),
	)
	mark("scheduler", o.Scheduler != n.Scheduler,
		logx.String("scheduler.timezone", n.Scheduler.Timezone),
		logx.String("scheduler.tick", n.Scheduler.Tick),
	)
	mark("storage", o.Storage != n.Storage,
		logx.String("storage.driver", n.Storage.Driver),
		logx.String("storage.path", n.Storage.Path),
	)
	mark("player", !reflect.DeepEqual(o.Player, n.Player),
		logx.String("player.driver", n.Player.Driver),
	)
	mark("activation", o.Activation != n.Activation,
		logx.Bool("activation.required", n.Activation.Required),
	)

	tokenChanged := strings.TrimSpace(o.Telegram.Token) != strings.TrimSpace(n.Telegram.Token)
	telegramHot := o.Telegram
	telegramHot.Token = n.Telegram.Token
	telegramHot.PollTimeout = n.Telegram.PollTimeout
	if tokenChanged || o.Telegram.PollTimeout != n.Telegram.PollTimeout {
		// A new token or poll timeout needs a new bot session.
		ch.Sections = append(ch.Sections, "telegram.session")
		ch.Restart = append(ch.Restart, "telegram.session")
	}
	mark("telegram", !reflect.DeepEqual(telegramHot, n.Telegram),
		logx.Int("telegram.owners", len(n.Telegram.OwnerUserIDs)),
		logx.Bool("telegram.notify_chat_set", n.Telegram.NotifyChatID != 0),
		logx.Bool("telegram.notify_bells", n.Telegram.NotifyBells),
	)

	mark("status", o.Status != n.Status,
		logx.Bool("status.enabled", n.Status.Enabled),
		logx.String("status.addr", n.Status.Addr),
		logx.Bool("status.token_set", strings.TrimSpace(n.Status.Token) != ""),
	)
	mark("digest", o.Digest != n.Digest,
		logx.Bool("digest.enabled", n.Digest.Enabled),
		logx.String("digest.spec", n.Digest.Spec),
	)
	mark("systemd", o.Systemd != n.Systemd)
	return ch
}
