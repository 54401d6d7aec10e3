// Package optimize losslessly recompresses upscaled images and marks them
// done, using a bounded pool of workers fed from the optimization queue.
package optimize

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"upscale-batch/internal/runstore"
)

// Result describes one optimized file.
type Result struct {
	Path      string
	Converted bool
	Before    int64
	After     int64
}

// Optimize converts path to PNG if needed and recompresses it at maximum
// effort. The file is only replaced when the recompressed form is smaller.
func Optimize(path string) (Result, error) {
	res := Result{Path: path}
	if !isPNG(path) {
		converted, err := convertToPNG(path)
		if err != nil {
			return res, err
		}
		res.Path = converted
		res.Converted = true
	}

	fi, err := os.Stat(res.Path)
	if err != nil {
		return res, fmt.Errorf("stat %s: %w", res.Path, err)
	}
	res.Before = fi.Size()
	res.After = fi.Size()

	img, err := imaging.Open(res.Path)
	if err != nil {
		return res, fmt.Errorf("decode %s: %w", res.Path, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return res, fmt.Errorf("encode %s: %w", res.Path, err)
	}
	if int64(buf.Len()) >= res.Before {
		return res, nil
	}
	if err := runstore.WriteBytes(res.Path, buf.Bytes()); err != nil {
		return res, fmt.Errorf("replace %s: %w", res.Path, err)
	}
	res.After = int64(buf.Len())
	return res, nil
}

// convertToPNG decodes path, removes it and writes <stem>.png next to it.
// The original is deleted before the new file is written.
func convertToPNG(path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	target := strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove %s: %w", path, err)
	}
	if err := imaging.Save(img, target); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}

func isPNG(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".png")
}

// DoneName returns the base name with the pending marker replaced by the
// done marker. A name carrying neither marker gets the done marker as a
// prefix; a name already marked done is returned unchanged.
func DoneName(base, pending, done string) string {
	if strings.Contains(base, pending) {
		return strings.ReplaceAll(base, pending, done)
	}
	if strings.Contains(base, done) {
		return base
	}
	return done + base
}

// MarkDone renames path to its done name. An existing file at the target is
// removed first.
func MarkDone(path, pending, done string) (string, error) {
	dir, base := filepath.Split(path)
	target := filepath.Join(dir, DoneName(base, pending, done))
	if target == filepath.Clean(path) {
		return target, nil
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove existing %s: %w", target, err)
	}
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return target, nil
}
