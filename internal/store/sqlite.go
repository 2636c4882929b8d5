package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"meshmon/internal/history"
	"meshmon/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS counters (
	label TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	pos INTEGER PRIMARY KEY,
	row_id TEXT NOT NULL,
	time TEXT NOT NULL,
	from_id TEXT NOT NULL,
	from_name TEXT NOT NULL,
	to_label TEXT NOT NULL,
	channel TEXT NOT NULL,
	text TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS packets (
	pos INTEGER PRIMARY KEY,
	row_id TEXT NOT NULL,
	time TEXT NOT NULL,
	from_id TEXT NOT NULL,
	from_name TEXT NOT NULL,
	hops INTEGER NOT NULL,
	signal TEXT NOT NULL,
	kind TEXT NOT NULL,
	summary TEXT NOT NULL
);
`

// SQLite keeps the snapshot in a single-file database. Each save replaces
// all rows inside one transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns nil when the database holds no state yet.
func (s *SQLite) Load() (*history.Snapshot, error) {
	ctx := context.Background()
	snap := &history.Snapshot{Counts: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT label, value FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	for rows.Next() {
		var label string
		var value int
		if err := rows.Scan(&label, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		snap.Counts[label] = value
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT row_id, time, from_id, from_name, to_label, channel, text FROM messages ORDER BY pos`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	for rows.Next() {
		var m model.MessageEntry
		if err := rows.Scan(&m.RowID, &m.Time, &m.FromID, &m.FromName, &m.To, &m.Channel, &m.Text); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		snap.Messages = append(snap.Messages, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT row_id, time, from_id, from_name, hops, signal, kind, summary FROM packets ORDER BY pos`)
	if err != nil {
		return nil, fmt.Errorf("load packets: %w", err)
	}
	for rows.Next() {
		var p model.PacketEntry
		if err := rows.Scan(&p.RowID, &p.Time, &p.FromID, &p.FromName, &p.Hops, &p.Signal, &p.Kind, &p.Summary); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan packet: %w", err)
		}
		snap.Packets = append(snap.Packets, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if len(snap.Counts) == 0 && len(snap.Messages) == 0 && len(snap.Packets) == 0 {
		return nil, nil
	}
	return snap, nil
}

// Save replaces the stored state with snap.
func (s *SQLite) Save(snap history.Snapshot) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	if err := saveTx(ctx, tx, snap); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func saveTx(ctx context.Context, tx *sql.Tx, snap history.Snapshot) error {
	for _, table := range []string{"counters", "messages", "packets"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for label, value := range snap.Counts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO counters(label, value) VALUES (?, ?)`, label, value); err != nil {
			return fmt.Errorf("save counter %s: %w", label, err)
		}
	}
	for i, m := range snap.Messages {
		_, err := tx.ExecContext(ctx, `
INSERT INTO messages(pos, row_id, time, from_id, from_name, to_label, channel, text)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, i, m.RowID, m.Time, m.FromID, m.FromName, m.To, m.Channel, m.Text)
		if err != nil {
			return fmt.Errorf("save message: %w", err)
		}
	}
	for i, p := range snap.Packets {
		_, err := tx.ExecContext(ctx, `
INSERT INTO packets(pos, row_id, time, from_id, from_name, hops, signal, kind, summary)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, i, p.RowID, p.Time, p.FromID, p.FromName, p.Hops, p.Signal, p.Kind, p.Summary)
		if err != nil {
			return fmt.Errorf("save packet: %w", err)
		}
	}
	return nil
}
