// Package artifact resolves the stored files behind queued review items.
package artifact

import (
	"context"
	"errors"
	"mime"
	"path/filepath"
	"strings"

	"content-review-queue/internal/models"
)

// ErrArtifactGone signals that the underlying file no longer exists. The
// pipeline treats this as a cleanup signal, not a failure.
var ErrArtifactGone = errors.New("artifact no longer exists")

// Source loads an artifact's bytes and display name by content id.
type Source interface {
	Fetch(ctx context.Context, contentID string) (models.Artifact, error)
}

// TruncateName shortens a display name to max runes, keeping the extension
// so the provider still recognizes the file type. Deterministic: the same
// input always truncates the same way.
func TruncateName(name string, max int) string {
	if max <= 0 || len([]rune(name)) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= max {
		return string([]rune(name)[:max])
	}
	base := name[:len(name)-len(ext)]
	keep := max - len([]rune(ext))
	return string([]rune(base)[:keep]) + ext
}

func contentTypeFor(name, fallback string) string {
	if fallback != "" && fallback != "application/octet-stream" {
		return fallback
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
