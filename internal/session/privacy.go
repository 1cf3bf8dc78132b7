package session

import (
	"crypto/sha256"
	"fmt"
)

// MaskID returns a short stable digest of a client id so logs can correlate
// a session's events without recording the id a browser chose for itself.
func MaskID(id string) string {
	if id == "" {
		return "-"
	}
	return shortHash(id)
}

// MaskIDs applies MaskID to every element.
func MaskIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = MaskID(id)
	}
	return out
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
