package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// NewID returns an unguessable identifier with an optional prefix.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewShortID returns a 10-character uppercase identifier used as the primary
// key for users and documents. Identifiers double as externally visible
// references, so they must never be sequential.
func NewShortID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return strings.ToUpper(hex.EncodeToString(bytes)[:10])
}
