package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewCardID returns a plain UUID. Card ids are exposed to the SPA's
// drag-and-drop layer, which expects the uuid format.
func NewCardID() string {
	return uuid.NewString()
}
