package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	RequestTimeout   time.Duration
	MetricsNamespace string
	CORSOrigin       string

	LogLevel       string
	LogDevelopment bool

	StoreBackend        string
	DatabaseURL         string
	SQLitePath          string
	BoltPath            string
	FirestoreProjectID  string
	FirestoreCollection string

	HistoryLimit  int
	HistoryWindow int

	CompletionProvider    string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModel           string
	GeminiAPIKey          string
	GeminiModel           string
	CompletionMaxTokens   int
	CompletionTemperature float64
	CompletionTimeout     time.Duration

	PersonaFile string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "tzevaot"),
		CORSOrigin:       envOrDefault("APP_CORS_ORIGIN", "*"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		StoreBackend:     strings.ToLower(envOrDefault("STORE_BACKEND", "auto")),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SQLitePath:       envOrDefault("SQLITE_PATH", "data/tzevaot.db"),
		BoltPath:         envOrDefault("BOLT_PATH", "data/tzevaot.bolt"),
		// Firestore stays opt-in; an empty project id never selects it.
		FirestoreProjectID:  stringsTrimSpace("FIRESTORE_PROJECT_ID"),
		FirestoreCollection: envOrDefault("FIRESTORE_COLLECTION", "tzevaotProfiles"),
		CompletionProvider:  strings.ToLower(envOrDefault("COMPLETION_PROVIDER", "auto")),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:       stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:         envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:        stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:         envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		PersonaFile:         stringsTrimSpace("PERSONA_FILE"),

		ShutdownTimeout:       15 * time.Second,
		RequestTimeout:        60 * time.Second,
		HistoryLimit:          20,
		HistoryWindow:         10,
		CompletionMaxTokens:   400,
		CompletionTemperature: 0.8,
		CompletionTimeout:     45 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RequestTimeout, err = durationFromEnv("APP_REQUEST_TIMEOUT", cfg.RequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LogDevelopment, err = boolFromEnv("APP_LOG_DEVELOPMENT", cfg.LogDevelopment)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionMaxTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.CompletionMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTemperature, err = floatFromEnv("COMPLETION_TEMPERATURE", cfg.CompletionTemperature)
	if err != nil {
		return Config{}, err
	}

	if cfg.RequestTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_REQUEST_TIMEOUT must be at least 1s")
	}
	if cfg.HistoryLimit < 2 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be >= 2")
	}
	if cfg.HistoryWindow < 0 || cfg.HistoryWindow > cfg.HistoryLimit {
		return Config{}, fmt.Errorf("HISTORY_WINDOW must be between 0 and HISTORY_LIMIT")
	}
	if cfg.CompletionMaxTokens <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if cfg.CompletionTemperature < 0 || cfg.CompletionTemperature > 2 {
		return Config{}, fmt.Errorf("COMPLETION_TEMPERATURE must be between 0 and 2")
	}
	switch cfg.StoreBackend {
	case "auto", "memory", "postgres", "sqlite", "bolt", "firestore":
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND %q is not supported", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "firestore" && cfg.FirestoreProjectID == "" {
		return Config{}, fmt.Errorf("FIRESTORE_PROJECT_ID is required when STORE_BACKEND=firestore")
	}
	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
