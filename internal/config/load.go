package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "UPSCALE_BATCH"

// NewViper returns a viper instance that reads, in order of precedence,
// bound flags, UPSCALE_BATCH_* environment variables and config.yaml from
// the working directory or $HOME/.upscale-batch.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, path := range []string{".", "$HOME/.upscale-batch"} {
		v.AddConfigPath(path)
	}

	def := Defaults()
	v.SetDefault("work-dir", def.WorkDir)
	v.SetDefault("source-dir", def.SourceDir)
	v.SetDefault("temp-dir", def.TempDir)
	v.SetDefault("tool", def.Tool)
	v.SetDefault("model-dir", def.ModelDir)
	v.SetDefault("backend", def.Backend)
	v.SetDefault("depth", def.Depth)
	v.SetDefault("denoise", def.Denoise)
	v.SetDefault("mode", def.Mode)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("poll-interval", def.PollInterval)
	v.SetDefault("yield-delay", def.YieldDelay)
	v.SetDefault("retry-delay", def.RetryDelay)
	v.SetDefault("pending-marker", def.PendingMarker)
	v.SetDefault("done-marker", def.DoneMarker)
	v.SetDefault("cancel-key", def.CancelKey)
	v.SetDefault("extensions", def.Extensions)
	v.SetDefault("progress", def.Progress)
	v.SetDefault("log-format", def.LogFormat)
	v.SetDefault("log-level", def.LogLevel)
	v.SetDefault("log-file", def.LogFile)
	v.SetDefault("metrics-addr", def.MetricsAddr)
	return v
}

// BindFlags registers the run flags on fs and binds each one to v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	def := Defaults()
	fs.String("work-dir", def.WorkDir, "working directory; outputs are written here")
	fs.String("source-dir", def.SourceDir, "source subfolder (relative to work dir)")
	fs.String("temp-dir", def.TempDir, "intermediate image subfolder, removed after the run")
	fs.String("tool", def.Tool, "upscaler executable name or path")
	fs.String("model-dir", def.ModelDir, "upscaler model directory")
	fs.String("backend", def.Backend, "upscaler inference backend: cudnn|gpu|cpu")
	fs.Int("depth", def.Depth, "output bit depth")
	fs.Int("denoise", def.Denoise, "denoise level 0..3")
	fs.String("mode", def.Mode, "upscaler conversion mode")
	fs.Int("workers", def.Workers, "optimization workers (0 = 75% of CPUs)")
	fs.Duration("poll-interval", def.PollInterval, "progress polling interval")
	fs.Duration("yield-delay", def.YieldDelay, "pause after each optimized image")
	fs.Duration("retry-delay", def.RetryDelay, "pause before retrying a failed upscale pass")
	fs.String("pending-marker", def.PendingMarker, "filename glyph marking an unprocessed image")
	fs.String("done-marker", def.DoneMarker, "filename glyph marking a processed image")
	fs.String("cancel-key", def.CancelKey, "key that cancels the run")
	fs.StringSlice("extensions", def.Extensions, "image extensions to pick up")
	fs.Bool("progress", def.Progress, "show the live progress view")
	fs.String("log-format", def.LogFormat, "log format: text|json")
	fs.String("log-level", def.LogLevel, "log level: debug|info|warn|error|none")
	fs.String("log-file", def.LogFile, "log file (default: <work-dir>/.upscale-batch/run.log while the progress view is shown)")
	fs.String("metrics-addr", def.MetricsAddr, "serve Prometheus metrics on this address (empty disables)")

	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			panic("failed to bind pflag: " + err.Error())
		}
	})
}

// Load reads the optional config file and returns normalised, validated
// settings.
func Load(v *viper.Viper) (Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	s = Normalize(s)
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
