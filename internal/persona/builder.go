package persona

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/ent0n29/tzevaot/internal/llm"
	"github.com/ent0n29/tzevaot/internal/memory"
)

// DefaultWindow is how many stored entries are replayed to the provider.
const DefaultWindow = 10

// Builder is immutable after construction and safe for concurrent use.
type Builder struct {
	persona Persona
	tmpl    *template.Template
	window  int
}

type Option func(*Builder)

// WithWindow sets the number of history entries included in prompts.
func WithWindow(n int) Option {
	return func(b *Builder) {
		if n >= 0 {
			b.window = n
		}
	}
}

type templateData struct {
	Name       string
	Tone       string
	Rules      []string
	IsHolder   bool
	MintCount  int
	SeenCount  int
	Notes      string
	OwnedItems []string
	Hints      []string
}

func NewBuilder(p Persona, opts ...Option) (*Builder, error) {
	p = p.withDefaults()
	tmpl, err := template.New("system").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(p.Template)
	if err != nil {
		return nil, fmt.Errorf("parse persona template: %w", err)
	}
	b := &Builder{persona: p, tmpl: tmpl, window: DefaultWindow}
	for _, opt := range opts {
		opt(b)
	}
	// Fail at startup rather than on the first request.
	if _, err := b.system(memory.EmptyRecord("")); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) Persona() Persona { return b.persona }

func (b *Builder) Window() int { return b.window }

// FallbackReply is the reply used when the provider yields no text.
func (b *Builder) FallbackReply() string { return b.persona.FallbackReply }

// Build returns the system message, the newest history window and the new
// user message, in that order. Output depends only on its inputs.
func (b *Builder) Build(rec memory.Record, message string) ([]llm.Message, error) {
	system, err := b.system(rec)
	if err != nil {
		return nil, err
	}

	window := rec.History
	if len(window) > b.window {
		window = window[len(window)-b.window:]
	}

	msgs := make([]llm.Message, 0, len(window)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, e := range window {
		role, ok := roleFor(e.Speaker)
		if !ok {
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
	return msgs, nil
}

func (b *Builder) system(rec memory.Record) (string, error) {
	data := templateData{
		Name:       b.persona.Name,
		Tone:       b.persona.Tone,
		Rules:      b.persona.Rules,
		IsHolder:   rec.IsHolder,
		MintCount:  rec.MintCount,
		SeenCount:  rec.SeenCount,
		Notes:      strings.TrimSpace(rec.Notes),
		OwnedItems: rec.OwnedItems,
		Hints:      hints(Classify(rec.OwnedItems, b.persona.Bands)),
	}
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render persona template: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func roleFor(s memory.Speaker) (llm.Role, bool) {
	switch s {
	case memory.SpeakerUser:
		return llm.RoleUser, true
	case memory.SpeakerPersona:
		return llm.RoleAssistant, true
	default:
		return "", false
	}
}
