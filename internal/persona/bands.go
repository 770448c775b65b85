package persona

import (
	"fmt"
	"strconv"
	"strings"
)

// BandMatch lists the owned ids that fall in one band, in input order.
type BandMatch struct {
	Band Band
	IDs  []string
}

// Classify assigns numeric ids to bands. Non-numeric ids are skipped.
// Matches come back in band order and only for bands with at least one id.
func Classify(items []string, bands []Band) []BandMatch {
	matches := make([]BandMatch, len(bands))
	for i, b := range bands {
		matches[i].Band = b
	}
	for _, raw := range items {
		item := strings.TrimSpace(raw)
		id, err := strconv.Atoi(item)
		if err != nil {
			continue
		}
		for i, b := range bands {
			if b.contains(id) {
				matches[i].IDs = append(matches[i].IDs, item)
				break
			}
		}
	}

	out := matches[:0]
	for _, m := range matches {
		if len(m.IDs) > 0 {
			out = append(out, m)
		}
	}
	return out
}

func hints(matches []BandMatch) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		text := m.Band.Hint
		if text == "" {
			text = "Holds a " + m.Band.Name + "-range token"
		}
		out = append(out, fmt.Sprintf("%s: #%s.", text, strings.Join(m.IDs, ", #")))
	}
	return out
}
