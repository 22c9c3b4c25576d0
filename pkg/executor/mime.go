package executor

import (
	"mime"
	"path/filepath"
	"strings"
)

// packTypes covers pack file extensions the system MIME table usually lacks.
var packTypes = map[string]string{
	".jar":        "application/java-archive",
	".toml":       "application/toml",
	".mcmeta":     "application/json",
	".snbt":       "text/plain; charset=utf-8",
	".properties": "text/plain; charset=utf-8",
	".cfg":        "text/plain; charset=utf-8",
}

func guessContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}

	if contentType, ok := packTypes[ext]; ok {
		return contentType
	}
	return mime.TypeByExtension(ext)
}
