package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/tzevaot/internal/completion"
	"github.com/ent0n29/tzevaot/internal/history"
	"github.com/ent0n29/tzevaot/internal/identity"
	"github.com/ent0n29/tzevaot/internal/llm"
	"github.com/ent0n29/tzevaot/internal/memory"
	"github.com/ent0n29/tzevaot/internal/observability"
	"github.com/ent0n29/tzevaot/internal/persona"
)

type recordingProvider struct {
	mu     sync.Mutex
	calls  [][]llm.Message
	reply  string
	err    error
	replyF func(messages []llm.Message) string
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Complete(_ context.Context, messages []llm.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]llm.Message(nil), messages...))
	if p.err != nil {
		return "", p.err
	}
	if p.replyF != nil {
		return p.replyF(messages), nil
	}
	return p.reply, nil
}

func (p *recordingProvider) last() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

func (p *recordingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type failingBackend struct {
	memory.Store
	getErr   error
	mergeErr error
	merges   int
}

func (f *failingBackend) Get(ctx context.Context, key string) (memory.Record, bool, error) {
	if f.getErr != nil {
		return memory.Record{}, false, f.getErr
	}
	return f.Store.Get(ctx, key)
}

func (f *failingBackend) Merge(ctx context.Context, key string, u memory.Update) error {
	f.merges++
	if f.mergeErr != nil {
		return f.mergeErr
	}
	return f.Store.Merge(ctx, key, u)
}

func newTestService(t *testing.T, backend memory.Store, provider Provider) (*Service, *observability.Metrics) {
	t.Helper()
	builder, err := persona.NewBuilder(persona.Default())
	require.NoError(t, err)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
	return NewService(history.New(backend), builder, provider, zap.NewNop(), metrics), metrics
}

func TestSendFreshIdentityThenProfile(t *testing.T) {
	svc, _ := newTestService(t, memory.NewInMemoryStore(), completion.NewMockProvider())
	ctx := context.Background()

	res, err := svc.Send(ctx, Request{Identity: "0xABC", IsHolder: true, Message: "Hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)
	assert.True(t, res.Persisted)
	assert.Equal(t, "0xabc", res.Identity)
	require.Len(t, res.History, 2)

	rec, err := svc.Profile(ctx, "0xabc")
	require.NoError(t, err)
	assert.Len(t, rec.History, 2)
	assert.Equal(t, 1, rec.SeenCount)
	assert.True(t, rec.IsHolder)
	assert.Equal(t, memory.SpeakerUser, rec.History[0].Speaker)
	assert.Equal(t, "Hello", rec.History[0].Text)
	assert.Equal(t, memory.SpeakerPersona, rec.History[1].Speaker)
	assert.Equal(t, res.Reply, rec.History[1].Text)
}

func TestProfileUnknownIdentityIsEmpty(t *testing.T) {
	provider := &recordingProvider{reply: "unused"}
	svc, _ := newTestService(t, memory.NewInMemoryStore(), provider)

	rec, err := svc.Profile(context.Background(), "0xNEW")
	require.NoError(t, err)
	assert.Equal(t, "0xnew", rec.Identity)
	assert.Empty(t, rec.History)
	assert.Zero(t, rec.SeenCount)
	assert.Zero(t, provider.callCount())
}

func TestSendPromptUsesBoundedWindow(t *testing.T) {
	provider := &recordingProvider{reply: "The hosts listen."}
	svc, _ := newTestService(t, memory.NewInMemoryStore(), provider)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := svc.Send(ctx, Request{Identity: "0xabc", Message: "message " + string(rune('a'+i))})
		require.NoError(t, err)
	}

	prompt := provider.last()
	// system + 10 history entries + new user message
	require.Len(t, prompt, 12)
	assert.Equal(t, llm.RoleSystem, prompt[0].Role)
	assert.Equal(t, llm.RoleUser, prompt[11].Role)
	assert.Equal(t, "message k", prompt[11].Content)
	for _, m := range prompt[1:11] {
		assert.NotEqual(t, llm.RoleSystem, m.Role)
	}
	// The window holds the five most recent exchanges: f through j.
	assert.Equal(t, "message f", prompt[1].Content)
	assert.Equal(t, llm.RoleAssistant, prompt[10].Role)

	rec, err := svc.Profile(ctx, "0xabc")
	require.NoError(t, err)
	assert.Len(t, rec.History, history.DefaultLimit)
	assert.Equal(t, 11, rec.SeenCount)
}

func TestSendKeepsOwnedItemsWhenOmitted(t *testing.T) {
	provider := &recordingProvider{reply: "Welcome back."}
	svc, _ := newTestService(t, memory.NewInMemoryStore(), provider)
	ctx := context.Background()

	_, err := svc.Send(ctx, Request{Identity: "0xabc", IsHolder: true, Message: "one", OwnedItems: []string{"100", "500", "2000"}})
	require.NoError(t, err)
	_, err = svc.Send(ctx, Request{Identity: "0xabc", IsHolder: true, Message: "two"})
	require.NoError(t, err)

	rec, err := svc.Profile(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "500", "2000"}, rec.OwnedItems)

	system := provider.last()[0].Content
	assert.Contains(t, system, "Owned token ids: 100, 500, 2000.")
	assert.Contains(t, system, "one of the first hundred: #100.")
	assert.Contains(t, system, "Holds a later-range token: #2000.")
}

func TestSendEmptyReplyPersistsFallback(t *testing.T) {
	provider := &recordingProvider{reply: "   "}
	svc, _ := newTestService(t, memory.NewInMemoryStore(), provider)
	ctx := context.Background()

	res, err := svc.Send(ctx, Request{Identity: "0xabc", Message: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, persona.DefaultFallbackReply, res.Reply)

	rec, err := svc.Profile(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, persona.DefaultFallbackReply, rec.LastReply)
	require.Len(t, rec.History, 2)
	assert.Equal(t, persona.DefaultFallbackReply, rec.History[1].Text)

	snap := svc.metrics.SnapshotStages()
	var fallbacks int
	for _, ind := range snap.Indicators {
		if ind.Name == observability.IndicatorFallbackReply {
			fallbacks = ind.Count
		}
	}
	assert.Equal(t, 1, fallbacks)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.ProviderErrors.WithLabelValues("recording", "empty")))
}

func TestSendProviderErrorWritesNothing(t *testing.T) {
	provider := &recordingProvider{err: &completion.Error{Provider: "recording", Code: "rate_limited", Err: errors.New("429")}}
	backend := &failingBackend{Store: memory.NewInMemoryStore()}
	svc, metrics := newTestService(t, backend, provider)

	_, err := svc.Send(context.Background(), Request{Identity: "0xabc", Message: "Hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Zero(t, backend.merges)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProviderErrors.WithLabelValues("recording", "rate_limited")))
}

// A failed load degrades to the empty record and still answers, but the
// write is skipped so a stale or partial record is never persisted.
func TestSendLoadFailureDegradesAndSkipsWrite(t *testing.T) {
	inner := memory.NewInMemoryStore()
	inner.Seed(memory.Record{
		Identity:   "0xabc",
		SeenCount:  7,
		OwnedItems: []string{"42"},
		History:    []memory.Entry{{Speaker: memory.SpeakerUser, Text: "old"}},
	})
	backend := &failingBackend{Store: inner, getErr: errors.New("connection refused")}
	provider := &recordingProvider{reply: "Still here."}
	svc, metrics := newTestService(t, backend, provider)

	res, err := svc.Send(context.Background(), Request{Identity: "0xabc", Message: "Hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, history.ErrStorageUnavailable)
	assert.Equal(t, "Still here.", res.Reply)
	assert.False(t, res.Persisted)
	assert.Len(t, res.History, 2)
	assert.Zero(t, backend.merges)
	assert.Equal(t, 1, provider.callCount())
	// Prompt was built from the empty default.
	assert.Len(t, provider.last(), 2)
	assert.Contains(t, provider.last()[0].Content, "Previous conversations: 0.")

	backend.getErr = nil
	rec, err := svc.Profile(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.SeenCount)
	assert.Equal(t, []string{"42"}, rec.OwnedItems)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageErrors.WithLabelValues("load")))
}

func TestSendWriteFailureStillReturnsReply(t *testing.T) {
	backend := &failingBackend{Store: memory.NewInMemoryStore(), mergeErr: errors.New("deadline exceeded")}
	provider := &recordingProvider{reply: "Heard."}
	svc, metrics := newTestService(t, backend, provider)

	res, err := svc.Send(context.Background(), Request{Identity: "0xabc", Message: "Hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, history.ErrStorageUnavailable)
	assert.Equal(t, "Heard.", res.Reply)
	assert.False(t, res.Persisted)
	assert.Equal(t, 1, backend.merges)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageErrors.WithLabelValues("merge")))

	backend.mergeErr = nil
	rec, err := svc.Profile(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Empty(t, rec.History)
	assert.Zero(t, rec.SeenCount)
}

func TestSendRejectsInvalidInput(t *testing.T) {
	provider := &recordingProvider{reply: "unused"}
	svc, _ := newTestService(t, memory.NewInMemoryStore(), provider)
	ctx := context.Background()

	_, err := svc.Send(ctx, Request{Identity: "", Message: "Hello"})
	assert.ErrorIs(t, err, identity.ErrInvalidIdentity)

	_, err = svc.Send(ctx, Request{Identity: "0xabc", Message: "  "})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = svc.Profile(ctx, "   ")
	assert.ErrorIs(t, err, identity.ErrInvalidIdentity)

	assert.Zero(t, provider.callCount())
}

func TestSendKeepsNotesWrittenElsewhere(t *testing.T) {
	inner := memory.NewInMemoryStore()
	inner.Seed(memory.Record{Identity: "0xabc", Notes: "prefers short answers", MintCount: 3})
	provider := &recordingProvider{replyF: func(messages []llm.Message) string {
		if strings.Contains(messages[0].Content, "prefers short answers") {
			return "Brief, as you like."
		}
		return "Hello."
	}}
	svc, _ := newTestService(t, inner, provider)

	res, err := svc.Send(context.Background(), Request{Identity: "0xABC", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Brief, as you like.", res.Reply)

	rec, err := svc.Profile(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "prefers short answers", rec.Notes)
	assert.Equal(t, 3, rec.MintCount)
	assert.Equal(t, 1, rec.SeenCount)
}
