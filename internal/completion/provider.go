// Package completion adapts chat-completion backends to a single Provider.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/tzevaot/internal/llm"
	"github.com/ent0n29/tzevaot/internal/reliability"
)

// Provider turns an ordered message list into reply text. An empty reply
// with a nil error means the provider answered without usable text.
type Provider interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
	Name() string
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Code     string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s completion failed (%s): %v", e.Provider, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the classification code of err, or "unknown".
func CodeOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) && perr.Code != "" {
		return perr.Code
	}
	if code := reliability.ClassifyError(err); code != "" {
		return code
	}
	return reliability.CodeUnknown
}

func classify(provider string, status int, err error) error {
	code := reliability.ClassifyError(err)
	if status > 0 {
		code = reliability.ClassifyHTTPStatus(status)
	}
	return &Error{Provider: provider, Code: code, Err: err}
}

// Config controls provider construction.
type Config struct {
	Mode          string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GeminiAPIKey  string
	GeminiModel   string
	MaxTokens     int
	Temperature   float32
	Timeout       time.Duration
}

func New(ctx context.Context, cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoProvider(ctx, cfg)
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai provider")
		}
		return NewOpenAIProvider(cfg), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("GEMINI_API_KEY is required for gemini provider")
		}
		return NewGeminiProvider(ctx, cfg)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Mode)
	}
}

func newAutoProvider(ctx context.Context, cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		return NewOpenAIProvider(cfg), nil
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		return NewGeminiProvider(ctx, cfg)
	}
	return NewMockProvider(), nil
}
