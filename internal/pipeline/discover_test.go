package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"upscale-batch/internal/model"
	"upscale-batch/internal/testutil"
)

func TestDiscoverFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "notes.txt", "c.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := Discover(dir, []string{".png", ".jpg", ".webp"})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
		filepath.Join(dir, "c.webp"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("discover mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverMissingDirectory(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "missing"), []string{".png"}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestClassifyAllDropsUnreadable(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "a.png")
	bad := filepath.Join(dir, "b.png")
	testutil.WritePNGHeader(t, good, 500, 400)
	if err := os.WriteFile(bad, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	tasks, dropped := ClassifyAll([]string{good, bad}, nil)
	want := []model.ImageTask{{Path: good, Class: model.Small, Width: 500, Height: 400}}
	if diff := cmp.Diff(want, tasks); diff != "" {
		t.Fatalf("tasks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{bad}, dropped); diff != "" {
		t.Fatalf("dropped mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyAllDropsDuplicateOutputNames(t *testing.T) {
	dir := t.TempDir()
	jpg := filepath.Join(dir, "□x.jpg")
	png := filepath.Join(dir, "□x.png")
	other := filepath.Join(dir, "□y.png")
	testutil.WritePNGHeader(t, jpg, 500, 400)
	testutil.WritePNGHeader(t, png, 500, 400)
	testutil.WritePNGHeader(t, other, 500, 400)

	tasks, dropped := ClassifyAll([]string{jpg, png, other}, nil)
	var got []string
	for _, task := range tasks {
		got = append(got, task.Path)
	}
	if diff := cmp.Diff([]string{jpg, other}, got); diff != "" {
		t.Fatalf("tasks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{png}, dropped); diff != "" {
		t.Fatalf("dropped mismatch (-want +got):\n%s", diff)
	}
}
