package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"upscale-batch/internal/model"
)

const (
	reportFileName  = "run.json"
	logFileName     = "run.log"
	toolLogFileName = "upscaler.log"
)

func Mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// WriteBytes replaces path atomically through a temp file in the same
// directory.
func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".upb-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteBytes(path, data)
}

func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

func ReportPath(stateDir string) string {
	return filepath.Join(stateDir, reportFileName)
}

func LogPath(stateDir string) string {
	return filepath.Join(stateDir, logFileName)
}

// ToolLogPath collects the raw output of every upscaler invocation.
func ToolLogPath(stateDir string) string {
	return filepath.Join(stateDir, toolLogFileName)
}

// NewReport starts a report for a run beginning now.
func NewReport(workDir string, now time.Time) (model.RunReport, error) {
	id, err := NewRunIDFromTime(now)
	if err != nil {
		return model.RunReport{}, err
	}
	return model.RunReport{
		SchemaVersion: 1,
		RunID:         id,
		WorkDir:       workDir,
		StartedAt:     now.UTC().Format(time.RFC3339),
	}, nil
}

func LoadReport(stateDir string) (model.RunReport, error) {
	var r model.RunReport
	if err := ReadJSON(ReportPath(stateDir), &r); err != nil {
		return model.RunReport{}, err
	}
	return r, nil
}

func SaveReport(stateDir string, r model.RunReport) error {
	return WriteJSON(ReportPath(stateDir), r)
}
