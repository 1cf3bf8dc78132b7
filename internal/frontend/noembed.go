//go:build !embed

// Package frontend serves the placeholder control page.
package frontend

import "net/http"

// Handler returns nil when the frontend is not compiled in; the server
// then falls back to the filesystem.
func Handler() http.Handler {
	return nil
}
