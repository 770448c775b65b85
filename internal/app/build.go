package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ent0n29/tzevaot/internal/chat"
	"github.com/ent0n29/tzevaot/internal/completion"
	"github.com/ent0n29/tzevaot/internal/config"
	"github.com/ent0n29/tzevaot/internal/history"
	"github.com/ent0n29/tzevaot/internal/httpapi"
	"github.com/ent0n29/tzevaot/internal/memory"
	"github.com/ent0n29/tzevaot/internal/observability"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Store    memory.Store
	History  *history.Store
	Provider completion.Provider
	Metrics  *observability.Metrics
	Chat     *chat.Service
	Persona  string

	// Cleanup should be called on shutdown to release the store connection.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetricsWith(reg, cfg.MetricsNamespace)

	setup, err := resolvePersona(cfg)
	if err != nil {
		return nil, err
	}

	store, err := memory.NewStore(ctx, memory.Config{
		Backend:             cfg.StoreBackend,
		DatabaseURL:         cfg.DatabaseURL,
		SQLitePath:          cfg.SQLitePath,
		BoltPath:            cfg.BoltPath,
		FirestoreProjectID:  cfg.FirestoreProjectID,
		FirestoreCollection: cfg.FirestoreCollection,
	})
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	provider, err := completion.New(ctx, completion.Config{
		Mode:          cfg.CompletionProvider,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		MaxTokens:     cfg.CompletionMaxTokens,
		Temperature:   float32(cfg.CompletionTemperature),
		Timeout:       cfg.CompletionTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("completion provider init failed: %w", err)
	}

	hist := history.New(store, history.WithLimit(cfg.HistoryLimit))
	svc := chat.NewService(hist, setup.builder, provider, logger.Named("chat"), metrics)
	api := httpapi.New(cfg, svc, metrics, logger.Named("http"))

	logger.Info("components ready",
		zap.String("store_backend", store.Backend()),
		zap.String("provider", provider.Name()),
		zap.String("persona", setup.detail),
		zap.Int("history_limit", hist.Limit()),
		zap.Int("history_window", setup.builder.Window()),
	)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Store:    store,
		History:  hist,
		Provider: provider,
		Metrics:  metrics,
		Chat:     svc,
		Persona:  setup.detail,
		Cleanup:  cleanup,
	}, nil
}
