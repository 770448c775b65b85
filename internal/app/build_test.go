package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/tzevaot/internal/chat"
	"github.com/ent0n29/tzevaot/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		MetricsNamespace:      "test_app",
		StoreBackend:          "bolt",
		BoltPath:              filepath.Join(dir, "chat.bolt"),
		SQLitePath:            filepath.Join(dir, "chat.db"),
		HistoryLimit:          20,
		HistoryWindow:         10,
		CompletionProvider:    "mock",
		CompletionMaxTokens:   400,
		CompletionTemperature: 0.8,
	}
}

func TestBuildWiresMockPipeline(t *testing.T) {
	cfg := testConfig(t)
	res, err := build(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	assert.Equal(t, "bolt", res.Store.Backend())
	assert.Equal(t, "mock", res.Provider.Name())
	assert.Equal(t, "built-in", res.Persona)
	assert.NotNil(t, res.API.Router())

	out, err := res.Chat.Send(context.Background(), chat.Request{Identity: "0xABC", Message: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "I hear you: Hello", out.Reply)

	rec, err := res.Chat.Profile(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.SeenCount)
}

func TestBuildLoadsPersonaFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = "sqlite"
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Sentinel\nfallback_reply: Silence.\n"), 0o600))
	cfg.PersonaFile = path

	res, err := build(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })
	assert.Equal(t, path, res.Persona)
	assert.Equal(t, "sqlite", res.Store.Backend())
}

func TestBuildRejectsMissingPersonaFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.PersonaFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := build(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.Error(t, err)
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.CompletionProvider = "oracle"

	_, err := build(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completion provider init failed")
}
