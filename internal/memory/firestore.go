package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps chat profiles as documents in a Firestore collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("firestore project id is required")
	}
	if strings.TrimSpace(collection) == "" {
		collection = "tzevaotProfiles"
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (Record, bool, error) {
	snap, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get firestore profile: %w", err)
	}
	var rec Record
	if err := snap.DataTo(&rec); err != nil {
		return Record{}, false, fmt.Errorf("decode firestore profile: %w", err)
	}
	rec.Identity = key
	if rec.OwnedItems == nil {
		rec.OwnedItems = []string{}
	}
	if rec.History == nil {
		rec.History = []Entry{}
	}
	return rec, true, nil
}

// Merge issues a merge-set limited to the chat-owned field paths, so
// notes and mintCount written by other processes survive.
func (s *FirestoreStore) Merge(ctx context.Context, key string, u Update) error {
	owned := u.OwnedItems
	if owned == nil {
		owned = []string{}
	}
	history := u.History
	if history == nil {
		history = []Entry{}
	}
	data := map[string]any{
		"identity":    key,
		"isHolder":    u.IsHolder,
		"ownedItems":  owned,
		"history":     history,
		"lastMessage": u.LastMessage,
		"lastReply":   u.LastReply,
		"seenCount":   u.SeenCount,
		"lastSeenAt":  u.LastSeenAt,
	}
	paths := make([]firestore.FieldPath, 0, len(data))
	for _, k := range []string{"identity", "isHolder", "ownedItems", "history", "lastMessage", "lastReply", "seenCount", "lastSeenAt"} {
		paths = append(paths, firestore.FieldPath{k})
	}
	if _, err := s.client.Collection(s.collection).Doc(key).Set(ctx, data, firestore.Merge(paths...)); err != nil {
		return fmt.Errorf("merge firestore profile: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Backend() string { return "firestore" }

func (s *FirestoreStore) Close() error { return s.client.Close() }
