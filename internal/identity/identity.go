// Package identity maps client-supplied wallet addresses to storage keys.
package identity

import (
	"errors"
	"strings"
)

// ErrInvalidIdentity is returned for empty or blank identities.
var ErrInvalidIdentity = errors.New("invalid identity")

// Normalize lower-cases raw so differently-cased addresses share a record.
// No checksum or address-format validation is performed.
func Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrInvalidIdentity
	}
	return strings.ToLower(raw), nil
}
