package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var profilesBucket = []byte("chat_profiles")

// BoltStore keeps one JSON document per identity in a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(profilesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, key string) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(profilesBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("read bolt profile: %w", err)
	}
	if !found {
		return Record{}, false, nil
	}
	if rec.OwnedItems == nil {
		rec.OwnedItems = []string{}
	}
	if rec.History == nil {
		rec.History = []Entry{}
	}
	return rec, true, nil
}

// Merge reads, merges and writes inside one bolt transaction.
func (s *BoltStore) Merge(_ context.Context, key string, u Update) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilesBucket)
		rec := EmptyRecord(key)
		if v := b.Get([]byte(key)); v != nil {
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode existing profile: %w", err)
			}
		}
		rec.Identity = key
		data, err := json.Marshal(u.apply(rec))
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("merge bolt profile: %w", err)
	}
	return nil
}

func (s *BoltStore) Backend() string { return "bolt" }

func (s *BoltStore) Close() error { return s.db.Close() }
