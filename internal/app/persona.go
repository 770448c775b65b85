package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/tzevaot/internal/config"
	"github.com/ent0n29/tzevaot/internal/persona"
)

type personaSetup struct {
	builder *persona.Builder
	detail  string
}

func resolvePersona(cfg config.Config) (personaSetup, error) {
	p := persona.Default()
	detail := "built-in"
	if path := strings.TrimSpace(cfg.PersonaFile); path != "" {
		loaded, err := persona.LoadFile(path)
		if err != nil {
			return personaSetup{}, err
		}
		p = loaded
		detail = path
	}

	builder, err := persona.NewBuilder(p, persona.WithWindow(cfg.HistoryWindow))
	if err != nil {
		return personaSetup{}, fmt.Errorf("persona init failed: %w", err)
	}
	return personaSetup{builder: builder, detail: detail}, nil
}
