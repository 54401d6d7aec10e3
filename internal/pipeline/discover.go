package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"upscale-batch/internal/model"
	"upscale-batch/internal/upscale"
)

// Discover lists the images directly inside dir whose extension is in exts
// (lowercase, leading dot), sorted lexicographically. Subdirectories are not
// descended into.
func Discover(dir string, exts []string) ([]string, error) {
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if allowed[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ClassifyAll classifies every path in order. Images that cannot be read are
// logged and dropped; dropped holds their paths. Two sources that would
// produce the same output file (a.jpg and a.png) cannot both run; the later
// one is dropped.
func ClassifyAll(paths []string, log *zap.Logger) (tasks []model.ImageTask, dropped []string) {
	if log == nil {
		log = zap.NewNop()
	}
	tasks = make([]model.ImageTask, 0, len(paths))
	outputs := make(map[string]string, len(paths))
	for _, path := range paths {
		out := upscale.FinalPath("", path)
		if first, ok := outputs[out]; ok {
			log.Warn("dropping image with duplicate output name",
				zap.String("path", path),
				zap.String("kept", first),
				zap.String("output", out),
			)
			dropped = append(dropped, path)
			continue
		}
		outputs[out] = path

		task, err := model.Classify(path)
		if err != nil {
			var cerr *model.ClassificationError
			if errors.As(err, &cerr) {
				log.Warn("dropping unreadable image", zap.String("path", cerr.Path), zap.Error(cerr.Err))
			} else {
				log.Warn("dropping image", zap.String("path", path), zap.Error(err))
			}
			dropped = append(dropped, path)
			continue
		}
		log.Debug("classified image",
			zap.String("path", path),
			zap.Stringer("class", task.Class),
			zap.Int("width", task.Width),
			zap.Int("height", task.Height),
		)
		tasks = append(tasks, task)
	}
	return tasks, dropped
}

// Prepare creates the temp directory for intermediate files.
func Prepare(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	return nil
}
