//go:build embed

// Package frontend serves the placeholder control page.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/index.html static/style.css static/app.js
var assets embed.FS

// Handler serves the page compiled into the binary.
func Handler() http.Handler {
	root, err := fs.Sub(assets, "static")
	if err != nil {
		// Only reachable if the embed pattern above changes.
		panic(err)
	}
	return http.FileServer(http.FS(root))
}
