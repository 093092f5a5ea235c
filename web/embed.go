// Package web serves the compiled chat frontend from the binary itself.
// The Vite build output under dist/ is embedded at compile time, so the
// deployment artifact stays a single file.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed all:dist
var assets embed.FS

// SPAHandler serves the embedded frontend bundle. Paths that resolve to a
// bundled asset are served as-is; everything else gets index.html so the
// client-side router owns unknown routes.
func SPAHandler() http.Handler {
	bundle, err := fs.Sub(assets, "dist")
	if err != nil {
		panic("web: frontend bundle missing from binary: " + err.Error())
	}

	static := http.FileServer(http.FS(bundle))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "" {
			name = "index.html"
		}

		if _, err := fs.Stat(bundle, name); err != nil {
			r.URL.Path = "/"
		}
		static.ServeHTTP(w, r)
	})
}
