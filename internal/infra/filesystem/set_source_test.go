package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestScanTwoLevels(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "easy", "language", "b.json"), "{}")
	mustWrite(t, filepath.Join(root, "easy", "language", "a.json"), "{}")
	mustWrite(t, filepath.Join(root, "easy", "language", "notes.txt"), "ignored")
	mustWrite(t, filepath.Join(root, "easy", "stray.json"), "{}")
	mustWrite(t, filepath.Join(root, "easy", "language", "deeper", "c.json"), "{}")
	mustWrite(t, filepath.Join(root, "hard", "english", "d.json"), "{}")

	refs, err := NewSetSource(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var got []string
	for _, ref := range refs {
		got = append(got, ref.Placement.Mode+"/"+ref.Placement.Category+"/"+ref.Placement.Slug)
	}
	want := []string{"easy/language/a", "easy/language/b", "hard/english/d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if refs[0].Location != filepath.Join(root, "easy", "language", "a.json") {
		t.Fatalf("unexpected location %s", refs[0].Location)
	}
}

func TestScanFollowsSymlinkedDirectories(t *testing.T) {
	shared := t.TempDir()
	mustWrite(t, filepath.Join(shared, "english", "a.json"), "{}")
	mustWrite(t, filepath.Join(shared, "nonverbal", "b.json"), "{}")

	root := t.TempDir()
	if err := os.Symlink(shared, filepath.Join(root, "easy")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "hard"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(shared, "english"), filepath.Join(root, "hard", "english")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	refs, err := NewSetSource(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var got []string
	for _, ref := range refs {
		got = append(got, ref.Placement.Mode+"/"+ref.Placement.Category+"/"+ref.Placement.Slug)
	}
	want := []string{"easy/english/a", "easy/nonverbal/b", "hard/english/a"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestScanMissingRoot(t *testing.T) {
	refs, err := NewSetSource(filepath.Join(t.TempDir(), "absent")).Scan(context.Background())
	if err != nil || len(refs) != 0 {
		t.Fatalf("expected empty scan, got %v %v", refs, err)
	}
}

func TestStatAndRead(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "easy", "language", "a.json")
	mustWrite(t, path, `{"version":1}`)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	source := NewSetSource(root)
	mod, err := source.Stat(context.Background(), path)
	if err != nil || !mod.Equal(at) {
		t.Fatalf("expected mtime %v, got %v %v", at, mod, err)
	}
	data, err := source.Read(context.Background(), path)
	if err != nil || string(data) != `{"version":1}` {
		t.Fatalf("unexpected read %q %v", data, err)
	}
	if _, err := source.Stat(context.Background(), filepath.Join(root, "gone.json")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
