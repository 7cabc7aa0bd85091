package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTruncateName(t *testing.T) {
	cases := []struct {
		name string
		max  int
		want string
	}{
		{"essay.docx", 50, "essay.docx"},
		{"essay.docx", 8, "ess.docx"},
		{strings.Repeat("a", 30) + ".pdf", 10, strings.Repeat("a", 6) + ".pdf"},
		{"noextension", 5, "noext"},
		{"x.verylongextension", 4, "x.ve"},
		{"essay.docx", 0, "essay.docx"},
	}
	for _, c := range cases {
		if got := TruncateName(c.name, c.max); got != c.want {
			t.Fatalf("TruncateName(%q, %d) = %q, want %q", c.name, c.max, got, c.want)
		}
	}
}

func TestTruncateNameDeterministic(t *testing.T) {
	name := strings.Repeat("chapter-", 40) + ".pdf"
	first := TruncateName(name, 200)
	for i := 0; i < 5; i++ {
		if got := TruncateName(name, 200); got != first {
			t.Fatalf("truncation not deterministic: %q vs %q", got, first)
		}
	}
	if len([]rune(first)) > 200 {
		t.Fatalf("truncated name still too long: %d", len(first))
	}
}

func TestLocalSourceFetch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "paper-1.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewLocalSource(dir)

	art, err := src.Fetch(context.Background(), "paper-1.txt")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(art.Data) != "hello" || art.Name != "paper-1.txt" {
		t.Fatalf("unexpected artifact: %+v", art)
	}

	_, err = src.Fetch(context.Background(), "missing.txt")
	if !errors.Is(err, ErrArtifactGone) {
		t.Fatalf("expected ErrArtifactGone, got %v", err)
	}
}

func TestLocalSourceRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	src := NewLocalSource(dir)
	_, err := src.Fetch(context.Background(), "../outside.txt")
	if err == nil {
		t.Fatal("expected error for traversal path")
	}
}
