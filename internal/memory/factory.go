package memory

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend             string
	DatabaseURL         string
	SQLitePath          string
	BoltPath            string
	FirestoreProjectID  string
	FirestoreCollection string
}

// NewStore creates the configured backend. "auto" picks postgres when a
// database URL is configured, otherwise in-memory.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "auto":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return NewInMemoryStore(), nil
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "memory":
		return NewInMemoryStore(), nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for postgres store")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "bolt":
		return NewBoltStore(cfg.BoltPath)
	case "firestore":
		return NewFirestoreStore(ctx, cfg.FirestoreProjectID, cfg.FirestoreCollection)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
