// Package history owns the bounded per-identity conversation record and its
// read-modify-write contract on top of a memory.Store.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/tzevaot/internal/memory"
)

// DefaultLimit bounds the persisted history length.
const DefaultLimit = 20

// ErrStorageUnavailable wraps any failure of the persistence collaborator.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Exchange is one user message and the reply generated for it.
type Exchange struct {
	IsHolder bool
	Message  string
	Reply    string
	// OwnedItems replaces the stored list only when non-empty.
	OwnedItems []string
}

// Store is safe for concurrent use; it holds no per-identity state and does
// not serialize writers. Concurrent exchanges for one identity are
// last-writer-wins at record granularity.
type Store struct {
	backend memory.Store
	limit   int
	now     func() time.Time
}

type Option func(*Store)

// WithLimit overrides DefaultLimit. Values below 2 are ignored so the
// newest user/persona pair always survives eviction.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n >= 2 {
			s.limit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(backend memory.Store, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		limit:   DefaultLimit,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Limit() int { return s.limit }

// Backend names the underlying persistence implementation.
func (s *Store) Backend() string { return s.backend.Backend() }

// Load returns the stored record for key, or the empty default.
func (s *Store) Load(ctx context.Context, key string) (memory.Record, error) {
	rec, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return memory.Record{}, fmt.Errorf("%w: load %s: %v", ErrStorageUnavailable, key, err)
	}
	if !found {
		return memory.EmptyRecord(key), nil
	}
	rec.Identity = key
	return rec, nil
}

// AppendExchange loads the current record, merges ex into it and persists
// the result. On failure nothing is written.
func (s *Store) AppendExchange(ctx context.Context, key string, ex Exchange) (memory.Record, error) {
	current, err := s.Load(ctx, key)
	if err != nil {
		return memory.Record{}, err
	}
	next := s.Apply(current, ex)
	if err := s.Persist(ctx, next); err != nil {
		return memory.Record{}, err
	}
	return next, nil
}

// Apply computes the merged record using the store's clock and limit.
func (s *Store) Apply(current memory.Record, ex Exchange) memory.Record {
	return Apply(current, ex, s.now().UTC(), s.limit)
}

// Persist writes the chat-owned fields of rec.
func (s *Store) Persist(ctx context.Context, rec memory.Record) error {
	if err := s.backend.Merge(ctx, rec.Identity, memory.UpdateFrom(rec)); err != nil {
		return fmt.Errorf("%w: merge %s: %v", ErrStorageUnavailable, rec.Identity, err)
	}
	return nil
}

// Apply merges ex into rec without touching rec's backing arrays.
func Apply(rec memory.Record, ex Exchange, now time.Time, limit int) memory.Record {
	if limit < 2 {
		limit = DefaultLimit
	}

	if len(ex.OwnedItems) > 0 {
		rec.OwnedItems = append([]string{}, ex.OwnedItems...)
	} else {
		rec.OwnedItems = append([]string{}, rec.OwnedItems...)
	}

	// Keep entry timestamps non-decreasing even if the clock stepped backwards.
	stamp := now
	if n := len(rec.History); n > 0 && stamp.Before(rec.History[n-1].Timestamp) {
		stamp = rec.History[n-1].Timestamp
	}

	entries := make([]memory.Entry, 0, len(rec.History)+2)
	entries = append(entries, rec.History...)
	entries = append(entries,
		memory.Entry{Speaker: memory.SpeakerUser, Text: ex.Message, Timestamp: stamp},
		memory.Entry{Speaker: memory.SpeakerPersona, Text: ex.Reply, Timestamp: stamp},
	)
	rec.History = Trim(entries, limit)

	rec.IsHolder = ex.IsHolder
	rec.LastMessage = ex.Message
	rec.LastReply = ex.Reply
	rec.SeenCount++
	rec.LastSeenAt = now
	return rec
}

// Trim keeps the newest limit entries, dropping the oldest first.
func Trim(entries []memory.Entry, limit int) []memory.Entry {
	if limit < 0 || len(entries) <= limit {
		return entries
	}
	return append([]memory.Entry{}, entries[len(entries)-limit:]...)
}

// Window returns the newest n entries for prompt context.
func Window(entries []memory.Entry, n int) []memory.Entry {
	if n <= 0 {
		return nil
	}
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
