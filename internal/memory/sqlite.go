package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists chat profiles in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite at %s: %w", path, err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_profiles (
			identity TEXT PRIMARY KEY,
			is_holder INTEGER NOT NULL DEFAULT 0,
			mint_count INTEGER NOT NULL DEFAULT 0,
			seen_count INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			owned_items TEXT NOT NULL DEFAULT '[]',
			history TEXT NOT NULL DEFAULT '[]',
			last_message TEXT NOT NULL DEFAULT '',
			last_reply TEXT NOT NULL DEFAULT '',
			last_seen_at TEXT NOT NULL DEFAULT ''
		);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec        Record
		ownedRaw   string
		historyRaw string
		lastSeen   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, is_holder, mint_count, seen_count, notes, owned_items, history,
		        last_message, last_reply, last_seen_at
		 FROM chat_profiles WHERE identity=?`,
		key,
	).Scan(
		&rec.Identity,
		&rec.IsHolder,
		&rec.MintCount,
		&rec.SeenCount,
		&rec.Notes,
		&ownedRaw,
		&historyRaw,
		&rec.LastMessage,
		&rec.LastReply,
		&lastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query chat profile: %w", err)
	}
	if err := decodeDocumentColumns(&rec, []byte(ownedRaw), []byte(historyRaw)); err != nil {
		return Record{}, false, err
	}
	if lastSeen != "" {
		t, err := time.Parse(time.RFC3339Nano, lastSeen)
		if err != nil {
			return Record{}, false, fmt.Errorf("decode last_seen_at: %w", err)
		}
		rec.LastSeenAt = t.UTC()
	}
	return rec, true, nil
}

func (s *SQLiteStore) Merge(ctx context.Context, key string, u Update) error {
	owned, history, err := encodeDocumentColumns(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_profiles (
			identity, is_holder, seen_count, owned_items, history, last_message, last_reply, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET
			is_holder=excluded.is_holder,
			seen_count=excluded.seen_count,
			owned_items=excluded.owned_items,
			history=excluded.history,
			last_message=excluded.last_message,
			last_reply=excluded.last_reply,
			last_seen_at=excluded.last_seen_at`,
		key,
		u.IsHolder,
		u.SeenCount,
		owned,
		history,
		u.LastMessage,
		u.LastReply,
		u.LastSeenAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("merge chat profile: %w", err)
	}
	return nil
}

// SetNotes writes the notes column. Notes are maintained outside the chat
// pipeline; this exists for operators and tests.
func (s *SQLiteStore) SetNotes(ctx context.Context, key, notes string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_profiles (identity, notes) VALUES (?, ?)
		 ON CONFLICT (identity) DO UPDATE SET notes=excluded.notes`,
		key, notes,
	)
	if err != nil {
		return fmt.Errorf("set notes: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

func (s *SQLiteStore) Close() error { return s.db.Close() }
