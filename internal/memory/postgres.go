package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists chat profiles in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_profiles (
			identity TEXT PRIMARY KEY,
			is_holder BOOLEAN NOT NULL DEFAULT FALSE,
			mint_count INTEGER NOT NULL DEFAULT 0,
			seen_count INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			owned_items JSONB NOT NULL DEFAULT '[]'::jsonb,
			history JSONB NOT NULL DEFAULT '[]'::jsonb,
			last_message TEXT NOT NULL DEFAULT '',
			last_reply TEXT NOT NULL DEFAULT '',
			last_seen_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_profiles_last_seen ON chat_profiles (last_seen_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec        Record
		ownedRaw   []byte
		historyRaw []byte
		lastSeen   *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT identity, is_holder, mint_count, seen_count, notes, owned_items::text, history::text,
		        last_message, last_reply, last_seen_at
		 FROM chat_profiles WHERE identity=$1`,
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
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query chat profile: %w", err)
	}
	if err := decodeDocumentColumns(&rec, ownedRaw, historyRaw); err != nil {
		return Record{}, false, err
	}
	if lastSeen != nil {
		rec.LastSeenAt = lastSeen.UTC()
	}
	return rec, true, nil
}

func (s *PostgresStore) Merge(ctx context.Context, key string, u Update) error {
	owned, history, err := encodeDocumentColumns(u)
	if err != nil {
		return err
	}

	// A single upsert statement is atomic per row; columns not listed in the
	// SET clause (notes, mint_count) keep whatever another writer stored.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_profiles (
			identity, is_holder, seen_count, owned_items, history, last_message, last_reply, last_seen_at
		) VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8)
		ON CONFLICT (identity) DO UPDATE SET
			is_holder=EXCLUDED.is_holder,
			seen_count=EXCLUDED.seen_count,
			owned_items=EXCLUDED.owned_items,
			history=EXCLUDED.history,
			last_message=EXCLUDED.last_message,
			last_reply=EXCLUDED.last_reply,
			last_seen_at=EXCLUDED.last_seen_at`,
		key,
		u.IsHolder,
		u.SeenCount,
		owned,
		history,
		u.LastMessage,
		u.LastReply,
		u.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("merge chat profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func encodeDocumentColumns(u Update) (owned string, history string, err error) {
	items := u.OwnedItems
	if items == nil {
		items = []string{}
	}
	entries := u.History
	if entries == nil {
		entries = []Entry{}
	}
	ob, err := json.Marshal(items)
	if err != nil {
		return "", "", fmt.Errorf("encode owned items: %w", err)
	}
	hb, err := json.Marshal(entries)
	if err != nil {
		return "", "", fmt.Errorf("encode history: %w", err)
	}
	return string(ob), string(hb), nil
}

func decodeDocumentColumns(rec *Record, ownedRaw, historyRaw []byte) error {
	rec.OwnedItems = []string{}
	rec.History = []Entry{}
	if len(ownedRaw) > 0 {
		if err := json.Unmarshal(ownedRaw, &rec.OwnedItems); err != nil {
			return fmt.Errorf("decode owned items: %w", err)
		}
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &rec.History); err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
	}
	return nil
}
