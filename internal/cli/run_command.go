package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"upscale-batch/internal/config"
	"upscale-batch/internal/logging"
	"upscale-batch/internal/metrics"
	"upscale-batch/internal/optimize"
	"upscale-batch/internal/pipeline"
	"upscale-batch/internal/progress"
	"upscale-batch/internal/runstore"
	"upscale-batch/internal/upscale"
	"upscale-batch/internal/waifu"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Upscale and optimize every image in the source folder",
		Args:  cobra.NoArgs,
	}
	bindRunCommand(cmd)
	return cmd
}

func bindRunCommand(cmd *cobra.Command) {
	v := config.NewViper()
	config.BindFlags(cmd.Flags(), v)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command %q", args[0])
		}
		s, err := config.Load(v)
		if err != nil {
			return err
		}
		return runPipeline(cmd.Context(), s, cmd.OutOrStdout())
	}
}

func runPipeline(ctx context.Context, s config.Settings, out io.Writer) (retErr error) {
	stateDir := s.StatePath()
	if err := runstore.Mkdir(stateDir); err != nil {
		return err
	}

	useTUI := s.Progress && stdinIsTTY() && stdoutIsTTY()
	logFile := s.LogFile
	if logFile == "" && useTUI {
		logFile = runstore.LogPath(stateDir)
	}
	log, err := logging.NewLogger(logging.Options{Format: s.LogFormat, Level: s.LogLevel, File: logFile})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	report, err := runstore.NewReport(s.WorkDir, time.Now())
	if err != nil {
		return err
	}
	log = log.With(zap.String("run_id", report.RunID))

	lock, err := runstore.AcquireRunLock(stateDir, report.RunID)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	toolLog, err := os.OpenFile(runstore.ToolLogPath(stateDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open upscaler log: %w", err)
	}
	defer toolLog.Close()

	if err := waifu.CheckDependencies(s.Tool, s.ModelDir); err != nil {
		log.Error("upscaler unavailable", zap.Error(err))
		return err
	}
	client, err := waifu.NewClient(waifu.Options{
		Tool:      s.Tool,
		ModelDir:  s.ModelDir,
		Backend:   s.Backend,
		Depth:     s.Depth,
		Denoise:   s.Denoise,
		Mode:      s.Mode,
		LogWriter: toolLog,
		Lines: func(stream waifu.OutputStream, line string) {
			log.Debug("upscaler output", zap.String("stream", string(stream)), zap.String("line", line))
		},
	})
	if err != nil {
		return err
	}
	log.Info("using upscaler", zap.String("path", client.Path()), zap.String("model_dir", s.ModelDir))

	paths, err := pipeline.Discover(s.SourcePath(), s.Extensions)
	if err != nil {
		return err
	}
	tasks, dropped := pipeline.ClassifyAll(paths, log.Named("classify"))
	report.Discovered = len(paths)
	report.Dropped = len(dropped)
	log.Info("discovered images",
		zap.String("source", s.SourcePath()),
		zap.Int("images", len(paths)),
		zap.Int("dropped", len(dropped)),
	)

	upscaleHooks := upscale.Hooks{}
	optimizeHooks := optimize.Hooks{}

	opts := pipeline.Options{
		Invoker:       client,
		TempDir:       s.TempPath(),
		OutputDir:     s.WorkDir,
		Workers:       s.Workers,
		PollInterval:  s.PollInterval,
		YieldDelay:    s.YieldDelay,
		RetryDelay:    s.RetryDelay,
		PendingMarker: s.PendingMarker,
		DoneMarker:    s.DoneMarker,
		Logger:        log,
	}

	var reporter pipeline.Reporter
	var tui *progress.TUI
	orch := &lazyCancel{}
	if useTUI {
		tui = progress.NewTUI(progress.TUIOptions{
			Output:    out,
			CancelKey: s.CancelKey,
			OnCancel:  orch.Cancel,
		})
		reporter = tui
	} else {
		reporter = progress.NewLogReporter(log.Named("progress"), 2*time.Second)
	}

	if s.MetricsAddr != "" {
		m := metrics.New()
		stopMetrics, err := m.Serve(s.MetricsAddr, log.Named("metrics"))
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer stopMetrics()
		upscaleHooks = m.UpscaleHooks(upscaleHooks)
		optimizeHooks = m.OptimizeHooks(optimizeHooks)
		reporter = m.Reporter(reporter)
	}
	opts.Reporter = reporter
	opts.UpscaleHooks = upscaleHooks
	opts.OptimizeHooks = optimizeHooks

	o := pipeline.New(opts)
	orch.set(o)

	if tui != nil {
		tui.Start()
	}
	res, runErr := o.Run(ctx, tasks)
	if tui != nil {
		tui.Stop()
	}

	report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	report.Skipped = res.Skipped
	report.Upscaled = res.Upscaled
	report.Retries = res.Retries
	report.Optimized = res.Optimized
	report.Abandoned = res.Abandoned
	report.Leftover = res.Leftover
	report.SavedBytes = res.SavedBytes
	report.Cancelled = res.Cancelled
	if runErr != nil {
		report.Error = runErr.Error()
	}
	if err := runstore.SaveReport(stateDir, report); err != nil {
		log.Warn("persist run report", zap.Error(err))
	}

	if runErr != nil {
		if errors.Is(runErr, upscale.ErrRetryExhausted) || errors.Is(runErr, waifu.ErrToolNotFound) {
			log.Error("fatal upscale failure", zap.Error(runErr))
		}
		return runErr
	}

	fmt.Fprintf(out, "run %s: upscaled %d, skipped %d, dropped %d, optimized %d, abandoned %d, saved %s\n",
		report.RunID, res.Upscaled, res.Skipped, report.Dropped, res.Optimized, res.Abandoned, formatBytesIEC(res.SavedBytes))
	if res.Cancelled {
		fmt.Fprintf(out, "cancelled: %d upscaled image(s) left unoptimized\n", res.Leftover)
	}
	if logFile != "" {
		fmt.Fprintf(out, "log: %s\n", logFile)
	}
	fmt.Fprintf(out, "report: %s\n", filepath.Clean(runstore.ReportPath(stateDir)))
	return nil
}

// lazyCancel lets the progress view hold a cancel func before the
// orchestrator exists.
type lazyCancel struct {
	target atomic.Pointer[pipeline.Orchestrator]
}

func (l *lazyCancel) set(o *pipeline.Orchestrator) {
	l.target.Store(o)
}

func (l *lazyCancel) Cancel() {
	if o := l.target.Load(); o != nil {
		o.Cancel()
	}
}
