package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates static
var files embed.FS

func Templates() (*template.Template, error) {
	return template.ParseFS(files, "templates/*.html")
}

func Static() (http.FileSystem, error) {
	sub, err := fs.Sub(files, "static")
	if err != nil {
		return nil, err
	}
	return http.FS(sub), nil
}
