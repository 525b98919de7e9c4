// Package config loads schoolbell's JSON or YAML config file, validates it,
// and republishes it when the file changes.
//
// All durations are Go duration strings ("500ms", "10s", "1m").
package config

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Storage    StorageConfig    `json:"storage"`
	Player     PlayerConfig     `json:"player"`
	Activation ActivationConfig `json:"activation"`
	Telegram   TelegramConfig   `json:"telegram"`
	Status     StatusConfig     `json:"status"`
	Digest     DigestConfig     `json:"digest"`
	Systemd    SystemdConfig    `json:"systemd"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines at or above MinLevel to telegram.notify_chat_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
	Tick     string `json:"tick,omitempty"`
}

// StorageConfig selects the store driver: memory, file or sqlite.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PlayerConfig selects how clips are played.
//
//	"player": { "driver": "command", "command": ["mpv", "--no-video", "{file}"] }
type PlayerConfig struct {
	Driver         string   `json:"driver"`
	Command        []string `json:"command,omitempty"`
	TempDir        string   `json:"temp_dir,omitempty"`
	SilentDuration string   `json:"silent_duration,omitempty"`
}

type ActivationConfig struct {
	Required   bool   `json:"required"`
	CodeSuffix string `json:"code_suffix,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	NotifyChatID int64   `json:"notify_chat_id,omitempty"`
	NotifyBells  bool    `json:"notify_bells"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	// CommandRate caps commands per second per user.
	CommandRate int `json:"command_rate,omitempty"`
}

// StatusConfig controls the HTTP status server.
//
// Prefer binding to localhost. A non-loopback Addr requires Token.
type StatusConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`
	Token        string `json:"token,omitempty"`
	Pprof        bool   `json:"pprof"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// DigestConfig sends a daily summary of the day's bells to the notify chat.
type DigestConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"` // standard 5-field cron
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// Default returns the config used for omitted keys.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			File:     LoggingFile{Path: "./schoolbell.log"},
			Telegram: LoggingTelegram{MinLevel: "warn", RatePerSec: 1},
		},
		Scheduler:  SchedulerConfig{Tick: "1s"},
		Storage:    StorageConfig{Driver: "file", Path: "./data/schoolbell.json", BusyTimeout: "5s"},
		Player:     PlayerConfig{Driver: "silent", SilentDuration: "5s"},
		Activation: ActivationConfig{Required: false, CodeSuffix: "HL"},
		Telegram:   TelegramConfig{NotifyBells: true, PollTimeout: "10s", CommandRate: 2},
		Status:     StatusConfig{Addr: "127.0.0.1:8089", ReadTimeout: "5s", WriteTimeout: "10s", IdleTimeout: "60s"},
		Digest:     DigestConfig{Spec: "0 6 * * 1-6"},
	}
}
