package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"content-review-queue/internal/models"
)

// LocalSource serves artifacts from a directory tree, for development and
// single-host deployments without object storage.
type LocalSource struct {
	baseDir string
}

var _ Source = (*LocalSource)(nil)

func NewLocalSource(baseDir string) *LocalSource {
	if baseDir == "" {
		baseDir = "./artifacts"
	}
	return &LocalSource{baseDir: baseDir}
}

func (l *LocalSource) Fetch(_ context.Context, contentID string) (models.Artifact, error) {
	rel := filepath.Clean(contentID)
	rel = strings.TrimPrefix(rel, string(filepath.Separator))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return models.Artifact{}, fmt.Errorf("artifact id escapes base dir: %s", contentID)
	}
	path := filepath.Join(l.baseDir, rel)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Artifact{}, ErrArtifactGone
		}
		return models.Artifact{}, fmt.Errorf("read artifact %s: %w", path, err)
	}
	name := filepath.Base(path)
	return models.Artifact{
		ContentID:   contentID,
		Name:        name,
		ContentType: contentTypeFor(name, ""),
		Data:        data,
	}, nil
}
