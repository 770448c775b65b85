// Package chat runs the read, build, complete, write pipeline behind the
// chat endpoint.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/tzevaot/internal/completion"
	"github.com/ent0n29/tzevaot/internal/history"
	"github.com/ent0n29/tzevaot/internal/identity"
	"github.com/ent0n29/tzevaot/internal/llm"
	"github.com/ent0n29/tzevaot/internal/memory"
	"github.com/ent0n29/tzevaot/internal/observability"
	"github.com/ent0n29/tzevaot/internal/persona"
	"github.com/ent0n29/tzevaot/internal/policy"
	"github.com/ent0n29/tzevaot/internal/reliability"
)

var (
	// ErrMissingField reports a required request field that was absent or blank.
	ErrMissingField = errors.New("missing required field")
	// ErrProviderFailure reports a completion provider error.
	ErrProviderFailure = errors.New("completion provider failed")
)

const logTextLimit = 120

// Provider is the completion capability the pipeline consumes.
type Provider interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
	Name() string
}

type Request struct {
	Identity   string
	IsHolder   bool
	Message    string
	OwnedItems []string
}

// Result is returned alongside ErrStorageUnavailable too, so callers can
// still hand the generated reply back.
type Result struct {
	Identity  string
	Reply     string
	History   []memory.Entry
	Persisted bool
}

type Service struct {
	store    *history.Store
	builder  *persona.Builder
	provider Provider
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewService(store *history.Store, builder *persona.Builder, provider Provider, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		builder:  builder,
		provider: provider,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *Service) ProviderName() string { return s.provider.Name() }

func (s *Service) StoreBackend() string { return s.store.Backend() }

// Profile returns the stored record for rawIdentity without calling the provider.
func (s *Service) Profile(ctx context.Context, rawIdentity string) (memory.Record, error) {
	key, err := identity.Normalize(rawIdentity)
	if err != nil {
		return memory.Record{}, err
	}
	rec, err := s.store.Load(ctx, key)
	if err != nil {
		s.storageError("load", key, err)
		return memory.Record{}, err
	}
	return rec, nil
}

// Send runs one exchange. A load failure degrades to the empty record for
// prompt building and skips the write; a write failure keeps the reply.
// Both return the reply with history.ErrStorageUnavailable.
func (s *Service) Send(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	defer func() { s.observeStage(observability.StageTotal, time.Since(started)) }()

	key, err := identity.Normalize(req.Identity)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return Result{}, fmt.Errorf("%w: message", ErrMissingField)
	}

	logger := s.logger.With(zap.String("identity", key))

	loadStarted := time.Now()
	current, loadErr := s.store.Load(ctx, key)
	s.observeStage(observability.StageLoad, time.Since(loadStarted))
	if loadErr != nil {
		s.storageError("load", key, loadErr)
		s.indicator(observability.IndicatorLoadDegraded)
		current = memory.EmptyRecord(key)
	}

	promptStarted := time.Now()
	messages, err := s.builder.Build(current, req.Message)
	if err != nil {
		return Result{}, fmt.Errorf("build prompt: %w", err)
	}
	s.observeStage(observability.StagePrompt, time.Since(promptStarted))

	completeStarted := time.Now()
	reply, err := s.provider.Complete(ctx, messages)
	if s.metrics != nil {
		s.metrics.ObserveCompletionLatency(time.Since(completeStarted))
	}
	if err != nil {
		code := completion.CodeOf(err)
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues(s.provider.Name(), code).Inc()
		}
		logger.Warn("completion failed",
			zap.String("provider", s.provider.Name()),
			zap.String("code", code),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = s.builder.FallbackReply()
		s.indicator(observability.IndicatorFallbackReply)
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues(s.provider.Name(), reliability.CodeEmpty).Inc()
		}
		logger.Info("provider returned no text, using fallback reply",
			zap.String("provider", s.provider.Name()),
		)
	}

	next := s.store.Apply(current, history.Exchange{
		IsHolder:   req.IsHolder,
		Message:    req.Message,
		Reply:      reply,
		OwnedItems: req.OwnedItems,
	})
	result := Result{Identity: key, Reply: reply, History: next.History}

	if loadErr != nil {
		s.indicator(observability.IndicatorWriteSkipped)
		logger.Warn("skipping history write after degraded load")
		return result, loadErr
	}

	persistStarted := time.Now()
	if err := s.store.Persist(ctx, next); err != nil {
		s.storageError("merge", key, err)
		s.indicator(observability.IndicatorWriteSkipped)
		return result, err
	}
	s.observeStage(observability.StagePersist, time.Since(persistStarted))
	if s.metrics != nil {
		s.metrics.HistoryLength.Observe(float64(len(next.History)))
	}

	result.Persisted = true
	logger.Debug("chat exchange stored",
		zap.String("message", policy.ForLog(req.Message, logTextLimit)),
		zap.String("reply", policy.ForLog(reply, logTextLimit)),
		zap.Int("history_len", len(next.History)),
		zap.Int("seen_count", next.SeenCount),
	)
	return result, nil
}

func (s *Service) storageError(op, key string, err error) {
	if s.metrics != nil {
		s.metrics.StorageErrors.WithLabelValues(op).Inc()
	}
	s.logger.Error("history store failed",
		zap.String("op", op),
		zap.String("identity", key),
		zap.String("backend", s.store.Backend()),
		zap.Error(err),
	)
}

func (s *Service) observeStage(stage string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveStage(stage, d)
	}
}

func (s *Service) indicator(name string) {
	if s.metrics != nil {
		s.metrics.ObserveIndicator(name)
	}
}
