package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.StoreBackend != "auto" {
		t.Fatalf("StoreBackend = %q, want auto", cfg.StoreBackend)
	}
	if cfg.HistoryLimit != 20 || cfg.HistoryWindow != 10 {
		t.Fatalf("history limit/window = %d/%d, want 20/10", cfg.HistoryLimit, cfg.HistoryWindow)
	}
	if cfg.CompletionProvider != "auto" {
		t.Fatalf("CompletionProvider = %q, want auto", cfg.CompletionProvider)
	}
	if cfg.CompletionTemperature != 0.8 {
		t.Fatalf("CompletionTemperature = %v, want 0.8", cfg.CompletionTemperature)
	}
	if cfg.CompletionTimeout != 45*time.Second {
		t.Fatalf("CompletionTimeout = %v, want 45s", cfg.CompletionTimeout)
	}
	if cfg.FirestoreProjectID != "" {
		t.Fatalf("FirestoreProjectID = %q, want empty default", cfg.FirestoreProjectID)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("CORSOrigin = %q, want *", cfg.CORSOrigin)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("STORE_BACKEND", " SQLite ")
	t.Setenv("SQLITE_PATH", "/tmp/chat.db")
	t.Setenv("HISTORY_LIMIT", "40")
	t.Setenv("HISTORY_WINDOW", "12")
	t.Setenv("COMPLETION_TEMPERATURE", "0.3")
	t.Setenv("APP_LOG_DEVELOPMENT", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want :9191", cfg.BindAddr)
	}
	if cfg.StoreBackend != "sqlite" || cfg.SQLitePath != "/tmp/chat.db" {
		t.Fatalf("store = %q %q, want sqlite /tmp/chat.db", cfg.StoreBackend, cfg.SQLitePath)
	}
	if cfg.HistoryLimit != 40 || cfg.HistoryWindow != 12 {
		t.Fatalf("history limit/window = %d/%d, want 40/12", cfg.HistoryLimit, cfg.HistoryWindow)
	}
	if cfg.CompletionTemperature != 0.3 {
		t.Fatalf("CompletionTemperature = %v, want 0.3", cfg.CompletionTemperature)
	}
	if !cfg.LogDevelopment {
		t.Fatalf("LogDevelopment = false, want true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "limit too small", env: map[string]string{"HISTORY_LIMIT": "1"}, want: "HISTORY_LIMIT"},
		{name: "window above limit", env: map[string]string{"HISTORY_WINDOW": "21"}, want: "HISTORY_WINDOW"},
		{name: "negative window", env: map[string]string{"HISTORY_WINDOW": "-1"}, want: "HISTORY_WINDOW"},
		{name: "bad duration", env: map[string]string{"COMPLETION_TIMEOUT": "soon"}, want: "COMPLETION_TIMEOUT"},
		{name: "bad float", env: map[string]string{"COMPLETION_TEMPERATURE": "warm"}, want: "COMPLETION_TEMPERATURE"},
		{name: "unknown backend", env: map[string]string{"STORE_BACKEND": "redis"}, want: "STORE_BACKEND"},
		{name: "firestore without project", env: map[string]string{"STORE_BACKEND": "firestore"}, want: "FIRESTORE_PROJECT_ID"},
		{name: "postgres without url", env: map[string]string{"STORE_BACKEND": "postgres"}, want: "DATABASE_URL"},
		{name: "bad bool", env: map[string]string{"APP_LOG_DEVELOPMENT": "maybe"}, want: "APP_LOG_DEVELOPMENT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_REQUEST_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_CORS_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_DEVELOPMENT",
		"STORE_BACKEND",
		"DATABASE_URL",
		"SQLITE_PATH",
		"BOLT_PATH",
		"FIRESTORE_PROJECT_ID",
		"FIRESTORE_COLLECTION",
		"HISTORY_LIMIT",
		"HISTORY_WINDOW",
		"COMPLETION_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"COMPLETION_MAX_TOKENS",
		"COMPLETION_TEMPERATURE",
		"COMPLETION_TIMEOUT",
		"PERSONA_FILE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
