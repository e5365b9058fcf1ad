// Package static embeds the built dashboard.
package static

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed all:dist/*
var distFS embed.FS

// GetFileSystem returns the embedded dist directory.
func GetFileSystem() http.FileSystem {
	fsys, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic(err)
	}
	return http.FS(fsys)
}

// HasBundle reports whether a built frontend (anything besides the
// placeholder index.html) is embedded.
func HasBundle() bool {
	_, err := fs.Stat(distFS, "dist/assets")
	return err == nil
}
