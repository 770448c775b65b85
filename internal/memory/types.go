package memory

import (
	"context"
	"time"
)

// Speaker identifies who produced a history entry.
type Speaker string

const (
	SpeakerUser    Speaker = "user"
	SpeakerPersona Speaker = "persona"
)

// Entry is a single line of conversational history.
type Entry struct {
	Speaker   Speaker   `json:"speaker" firestore:"speaker"`
	Text      string    `json:"text" firestore:"text"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

// Record is the per-identity profile and bounded history document.
type Record struct {
	Identity    string    `json:"identity" firestore:"identity"`
	IsHolder    bool      `json:"isHolder" firestore:"isHolder"`
	MintCount   int       `json:"mintCount" firestore:"mintCount"`
	SeenCount   int       `json:"seenCount" firestore:"seenCount"`
	Notes       string    `json:"notes" firestore:"notes"`
	OwnedItems  []string  `json:"ownedItems" firestore:"ownedItems"`
	History     []Entry   `json:"history" firestore:"history"`
	LastMessage string    `json:"lastMessage" firestore:"lastMessage"`
	LastReply   string    `json:"lastReply" firestore:"lastReply"`
	LastSeenAt  time.Time `json:"lastSeenAt" firestore:"lastSeenAt"`
}

// EmptyRecord is the default used for identities that have never written.
func EmptyRecord(key string) Record {
	return Record{
		Identity:   key,
		OwnedItems: []string{},
		History:    []Entry{},
	}
}

// Update carries the fields a chat exchange owns. Merge writes exactly
// these and leaves every other stored field (notes, mintCount) untouched.
type Update struct {
	IsHolder    bool
	OwnedItems  []string
	History     []Entry
	LastMessage string
	LastReply   string
	SeenCount   int
	LastSeenAt  time.Time
}

// UpdateFrom extracts the chat-owned fields of rec.
func UpdateFrom(rec Record) Update {
	return Update{
		IsHolder:    rec.IsHolder,
		OwnedItems:  rec.OwnedItems,
		History:     rec.History,
		LastMessage: rec.LastMessage,
		LastReply:   rec.LastReply,
		SeenCount:   rec.SeenCount,
		LastSeenAt:  rec.LastSeenAt,
	}
}

// apply merges u into rec, keeping fields u does not own.
func (u Update) apply(rec Record) Record {
	rec.IsHolder = u.IsHolder
	rec.OwnedItems = append([]string{}, u.OwnedItems...)
	rec.History = append([]Entry{}, u.History...)
	rec.LastMessage = u.LastMessage
	rec.LastReply = u.LastReply
	rec.SeenCount = u.SeenCount
	rec.LastSeenAt = u.LastSeenAt
	return rec
}

// Store is a key-value document store keyed by normalized identity.
type Store interface {
	// Get returns the stored record and whether it exists.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Merge upserts the fields in u for key as a single atomic write.
	Merge(ctx context.Context, key string, u Update) error
	// Backend names the implementation, e.g. "postgres".
	Backend() string
	Close() error
}
