// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package resource

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/quire-editor/quire/internal/vpath"
)

var textTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".json":     "application/json",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".css":      "text/css",
	".csv":      "text/csv",
	".html":     "text/html",
	".htm":      "text/html",
	".js":       "text/javascript",
	".mjs":      "text/javascript",
	".lua":      "text/x-lua",
}

var imageTypes = map[string]string{
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".ico":  "image/x-icon",
}

// InferMIME returns the content type served for a resource, or "" when the
// resource is not servable. Known text and image extensions map directly.
// Anything else is served as text/plain only if data is valid UTF-8 with no
// NUL bytes; unknown binary content is refused.
func InferMIME(path string, data []byte) string {
	ext := vpath.Ext(path)
	if t, ok := textTypes[ext]; ok {
		return t
	}
	if t, ok := imageTypes[ext]; ok {
		return t
	}
	if utf8.Valid(data) && !bytes.ContainsRune(data, 0) {
		return "text/plain"
	}
	return ""
}

// IsText reports whether a MIME type returned by InferMIME is textual.
func IsText(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") ||
		mimeType == "application/json" ||
		mimeType == "application/yaml" ||
		mimeType == "image/svg+xml"
}
