package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "cfbot/pkg/logx"
)

// Store is the durable subscriber/participant mapping shared by the bot
// command surface and the notification scheduler.
//
// Semantics:
//   - Add/Remove are idempotent (no-op when already in the desired state).
//   - Participants of an unknown contest is an empty set, not an error.
//   - Every mutation is durable before the call returns.
//
// Implementations serialize writers internally; callers on different
// goroutines share one Store instance without extra locking.
type Store interface {
	AddSubscriber(ctx context.Context, id int64) error
	RemoveSubscriber(ctx context.Context, id int64) error
	Subscribers(ctx context.Context) ([]int64, error)

	AddParticipant(ctx context.Context, contestID, subscriberID int64) error
	Participants(ctx context.Context, contestID int64) ([]int64, error)

	Close() error
}

// Config configures the store backend.
//
// Driver values:
//   - "file": single JSON document, atomically replaced on every mutation
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store. An empty driver defaults to "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
