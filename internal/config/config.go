// Package config resolves run settings from flags, environment variables and
// an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultSourceDir     = "src"
	DefaultTempDir       = "tmp"
	DefaultStateDir      = ".upscale-batch"
	DefaultTool          = "waifu2x-caffe-cui"
	DefaultModelDir      = "models/upconv_7_anime_style_art_rgb"
	DefaultBackend       = "cudnn"
	DefaultDepth         = 8
	DefaultDenoise       = 1
	DefaultMode          = "noise_scale"
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultYieldDelay    = 25 * time.Millisecond
	DefaultPendingMarker = "□"
	DefaultDoneMarker    = "■"
	DefaultCancelKey     = "q"
	DefaultLogFormat     = "text"
	DefaultLogLevel      = "info"
)

var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".gif", ".tif", ".tiff"}

type Settings struct {
	WorkDir   string `mapstructure:"work-dir" json:"work_dir"`
	SourceDir string `mapstructure:"source-dir" json:"source_dir"`
	TempDir   string `mapstructure:"temp-dir" json:"temp_dir"`

	Tool     string `mapstructure:"tool" json:"tool"`
	ModelDir string `mapstructure:"model-dir" json:"model_dir"`
	Backend  string `mapstructure:"backend" json:"backend"`
	Depth    int    `mapstructure:"depth" json:"depth"`
	Denoise  int    `mapstructure:"denoise" json:"denoise"`
	Mode     string `mapstructure:"mode" json:"mode"`

	Workers      int           `mapstructure:"workers" json:"workers"`
	PollInterval time.Duration `mapstructure:"poll-interval" json:"poll_interval"`
	YieldDelay   time.Duration `mapstructure:"yield-delay" json:"yield_delay"`
	RetryDelay   time.Duration `mapstructure:"retry-delay" json:"retry_delay"`

	PendingMarker string   `mapstructure:"pending-marker" json:"pending_marker"`
	DoneMarker    string   `mapstructure:"done-marker" json:"done_marker"`
	CancelKey     string   `mapstructure:"cancel-key" json:"cancel_key"`
	Extensions    []string `mapstructure:"extensions" json:"extensions"`

	Progress    bool   `mapstructure:"progress" json:"progress"`
	LogFormat   string `mapstructure:"log-format" json:"log_format"`
	LogLevel    string `mapstructure:"log-level" json:"log_level"`
	LogFile     string `mapstructure:"log-file" json:"log_file,omitempty"`
	MetricsAddr string `mapstructure:"metrics-addr" json:"metrics_addr,omitempty"`
}

func Defaults() Settings {
	return Settings{
		WorkDir:       ".",
		SourceDir:     DefaultSourceDir,
		TempDir:       DefaultTempDir,
		Tool:          DefaultTool,
		ModelDir:      DefaultModelDir,
		Backend:       DefaultBackend,
		Depth:         DefaultDepth,
		Denoise:       DefaultDenoise,
		Mode:          DefaultMode,
		Workers:       0,
		PollInterval:  DefaultPollInterval,
		YieldDelay:    DefaultYieldDelay,
		PendingMarker: DefaultPendingMarker,
		DoneMarker:    DefaultDoneMarker,
		CancelKey:     DefaultCancelKey,
		Extensions:    append([]string(nil), DefaultExtensions...),
		Progress:      true,
		LogFormat:     DefaultLogFormat,
		LogLevel:      DefaultLogLevel,
	}
}

// DefaultWorkers is 75% of the available CPUs, rounded down, at least one.
func DefaultWorkers(numCPU int) int {
	n := numCPU * 3 / 4
	if n < 1 {
		return 1
	}
	return n
}

// Normalize fills zero values with defaults and canonicalises free-form
// fields. It never fails; Validate reports what cannot be repaired.
func Normalize(raw Settings) Settings {
	def := Defaults()
	norm := raw
	norm.WorkDir = firstNonEmpty(norm.WorkDir, def.WorkDir)
	norm.SourceDir = firstNonEmpty(norm.SourceDir, def.SourceDir)
	norm.TempDir = firstNonEmpty(norm.TempDir, def.TempDir)
	norm.Tool = firstNonEmpty(norm.Tool, def.Tool)
	norm.ModelDir = firstNonEmpty(norm.ModelDir, def.ModelDir)
	norm.Backend = firstNonEmpty(norm.Backend, def.Backend)
	norm.Mode = firstNonEmpty(norm.Mode, def.Mode)
	norm.PendingMarker = firstNonEmpty(norm.PendingMarker, def.PendingMarker)
	norm.DoneMarker = firstNonEmpty(norm.DoneMarker, def.DoneMarker)
	norm.CancelKey = firstNonEmpty(norm.CancelKey, def.CancelKey)
	norm.LogFormat = strings.ToLower(firstNonEmpty(norm.LogFormat, def.LogFormat))
	norm.LogLevel = strings.ToLower(firstNonEmpty(norm.LogLevel, def.LogLevel))
	norm.LogFile = strings.TrimSpace(norm.LogFile)
	norm.MetricsAddr = strings.TrimSpace(norm.MetricsAddr)

	if norm.Depth <= 0 {
		norm.Depth = def.Depth
	}
	if norm.Workers <= 0 {
		norm.Workers = DefaultWorkers(runtime.NumCPU())
	}
	if norm.PollInterval <= 0 {
		norm.PollInterval = def.PollInterval
	}
	if norm.YieldDelay < 0 {
		norm.YieldDelay = def.YieldDelay
	}
	if norm.RetryDelay < 0 {
		norm.RetryDelay = 0
	}
	norm.Extensions = normalizeExtensions(norm.Extensions)
	if len(norm.Extensions) == 0 {
		norm.Extensions = append([]string(nil), def.Extensions...)
	}
	return norm
}

func (s Settings) Validate() error {
	var errs []error
	if utf8.RuneCountInString(s.PendingMarker) != 1 {
		errs = append(errs, fmt.Errorf("pending marker must be a single character, got %q", s.PendingMarker))
	}
	if utf8.RuneCountInString(s.DoneMarker) != 1 {
		errs = append(errs, fmt.Errorf("done marker must be a single character, got %q", s.DoneMarker))
	}
	if s.PendingMarker == s.DoneMarker {
		errs = append(errs, fmt.Errorf("pending and done markers must differ"))
	}
	if utf8.RuneCountInString(s.CancelKey) != 1 {
		errs = append(errs, fmt.Errorf("cancel key must be a single character, got %q", s.CancelKey))
	}
	if s.Denoise < 0 || s.Denoise > 3 {
		errs = append(errs, fmt.Errorf("denoise level must be within 0..3, got %d", s.Denoise))
	}
	if filepath.Clean(s.SourceDir) == filepath.Clean(s.TempDir) {
		errs = append(errs, fmt.Errorf("source and temp directories must differ"))
	}
	return errors.Join(errs...)
}

func (s Settings) SourcePath() string {
	return s.resolve(s.SourceDir)
}

func (s Settings) TempPath() string {
	return s.resolve(s.TempDir)
}

// StatePath holds the run lock, run report and default log file.
func (s Settings) StatePath() string {
	return filepath.Join(s.WorkDir, DefaultStateDir)
}

func (s Settings) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(s.WorkDir, dir)
}

func normalizeExtensions(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, e := range raw {
		v := strings.ToLower(strings.TrimSpace(e))
		if v == "" {
			continue
		}
		if !strings.HasPrefix(v, ".") {
			v = "." + v
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
