package utils

import (
	"path/filepath"
	"strings"
	"unicode"
)

const fallbackFilename = "image"

// SanitizeFilename keeps the base name of an uploaded file and drops
// characters that are unsafe in logs and prompts.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return fallbackFilename
	}
	return name
}

// IsImageContentType reports whether a declared content type names an image.
// Declared types are advisory; the bytes decide the real format.
func IsImageContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return ct == "" || strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "application/octet-stream")
}
