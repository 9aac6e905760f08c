package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "cfbot/pkg/logx"
)

// Schema is tiny and append-only, so it lives inline instead of a
// migrations file.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS subscribers (
	id INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS participants (
	contest_id    INTEGER NOT NULL,
	subscriber_id INTEGER NOT NULL,
	PRIMARY KEY (contest_id, subscriber_id)
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers; a single
	// connection also serializes the two logical writers (bot + scheduler).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// Mutations must be durable before the call returns.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddSubscriber(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, id)
	return err
}

func (s *sqliteStore) RemoveSubscriber(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) Subscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *sqliteStore) AddParticipant(ctx context.Context, contestID, subscriberID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants(contest_id, subscriber_id) VALUES(?,?)
		 ON CONFLICT(contest_id, subscriber_id) DO NOTHING`,
		contestID, subscriberID)
	return err
}

func (s *sqliteStore) Participants(ctx context.Context, contestID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_id FROM participants WHERE contest_id = ? ORDER BY subscriber_id`,
		contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	out := make([]int64, 0, 8)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
