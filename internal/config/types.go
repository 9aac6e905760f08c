package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Source    SourceConfig    `json:"source"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Ledger    LedgerConfig    `json:"ledger"`
}

type TelegramConfig struct {
	// Token may be left empty in the config file; the TELEGRAM_TOKEN
	// environment variable is used as a fallback.
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig points at the contest listing API.
type SourceConfig struct {
	// BaseURL defaults to the public Codeforces API.
	BaseURL string `json:"base_url,omitempty"`
	// Timeout bounds a single fetch. Go duration string; default "10s".
	Timeout string `json:"timeout,omitempty"`
}

// SchedulerConfig controls the notification loop.
//
// Schedule accepts the same forms the rest of the repo uses for schedules:
// a cron expression ("*/30 * * * *", "@every 30m"), a plain Go duration
// ("30m"), or HH:MM ("00:30"). Default is the 30-minute poll interval.
type SchedulerConfig struct {
	Schedule string `json:"schedule,omitempty"`
	// SendTimeout bounds a single delivery call. Default "10s".
	SendTimeout string `json:"send_timeout,omitempty"`
	// RatePerSec caps outgoing deliveries (Telegram flood control). Default 3.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the subscriber store backend.
//
// Driver values:
//   - "file": single JSON document, atomic replace on every mutation
//   - "sqlite": SQLite database file (modernc.org/sqlite)
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// LedgerConfig controls the announced-contest ledger (bbolt file).
type LedgerConfig struct {
	Path string `json:"path"`
}

// Validate checks cross-field constraints that the strict decoder cannot.
// It is also used by the config watcher before publishing a reload.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []string

	if _, err := Duration("telegram.poll_timeout", c.Telegram.PollTimeout, 0); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := Duration("source.timeout", c.Source.Timeout, 0); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := Duration("scheduler.send_timeout", c.Scheduler.SendTimeout, 0); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := Duration("storage.busy_timeout", c.Storage.BusyTimeout, 0); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Scheduler.RatePerSec < 0 {
		errs = append(errs, "scheduler.rate_per_sec: must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
