package optimize

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"upscale-batch/internal/testutil"
)

func TestOptimizeShrinksPNGLosslessly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	if err := os.WriteFile(path, testutil.PNGBytes(t, 64, 48), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	before := decode(t, path)

	res, err := Optimize(path)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if res.Path != path || res.Converted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.After >= res.Before {
		t.Fatalf("expected smaller file, before=%d after=%d", res.Before, res.After)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Size() != res.After {
		t.Fatalf("size on disk %d, reported %d", fi.Size(), res.After)
	}
	assertSamePixels(t, before, decode(t, path))
}

func TestOptimizeKeepsFileWhenNotSmaller(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	testutil.WritePNG(t, path, 8, 8)
	first, err := Optimize(path)
	if err != nil {
		t.Fatalf("first optimize: %v", err)
	}
	second, err := Optimize(path)
	if err != nil {
		t.Fatalf("second optimize: %v", err)
	}
	if second.After != second.Before {
		t.Fatalf("second pass should be a no-op, got %+v (first %+v)", second, first)
	}
}

func TestOptimizeConvertsForeignFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	_ = f.Close()

	res, err := Optimize(path)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !res.Converted || res.Path != filepath.Join(dir, "photo.png") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("original should be deleted, stat err=%v", err)
	}
	decode(t, res.Path)
}

func TestOptimizeCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	if err := os.WriteFile(path, []byte("not a png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Optimize(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDoneName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"□a.png", "■a.png"},
		{"page □ 01.png", "page ■ 01.png"},
		{"a.png", "■a.png"},
		{"■a.png", "■a.png"},
	}
	for _, tc := range tests {
		if got := DoneName(tc.in, "□", "■"); got != tc.want {
			t.Fatalf("DoneName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMarkDoneReplacesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "□a.png")
	occupant := filepath.Join(dir, "■a.png")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := os.WriteFile(occupant, []byte("old"), 0o644); err != nil {
		t.Fatalf("write occupant: %v", err)
	}

	got, err := MarkDone(src, "□", "■")
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if got != occupant {
		t.Fatalf("target = %q, want %q", got, occupant)
	}
	data, err := os.ReadFile(occupant)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "new" {
		t.Fatalf("target content = %q, want new", data)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(entries))
	}
}

func TestMarkDoneMissingSource(t *testing.T) {
	if _, err := MarkDone(filepath.Join(t.TempDir(), "□gone.png"), "□", "■"); err == nil {
		t.Fatal("expected rename error")
	}
}

func decode(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func assertSamePixels(t *testing.T, a, b image.Image) {
	t.Helper()
	if a.Bounds() != b.Bounds() {
		t.Fatalf("bounds differ: %v vs %v", a.Bounds(), b.Bounds())
	}
	r := a.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			ca := color.NRGBAModel.Convert(a.At(x, y))
			cb := color.NRGBAModel.Convert(b.At(x, y))
			if ca != cb {
				t.Fatalf("pixel (%d,%d) differs: %v vs %v", x, y, ca, cb)
			}
		}
	}
}
