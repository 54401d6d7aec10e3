package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"upscale-batch/internal/config"
)

func newSettingsCommand() *cobra.Command {
	v := config.NewViper()
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the effective settings after flags, environment and config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, s)
			}
			if used := v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(out, "config file: %s\n", used)
			}
			printSettings(out, s)
			return nil
		},
	}
	config.BindFlags(cmd.Flags(), v)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func printSettings(out io.Writer, s config.Settings) {
	rows := [][2]string{
		{"work-dir", s.WorkDir},
		{"source-dir", s.SourcePath()},
		{"temp-dir", s.TempPath()},
		{"tool", s.Tool},
		{"model-dir", s.ModelDir},
		{"backend", s.Backend},
		{"depth", fmt.Sprint(s.Depth)},
		{"denoise", fmt.Sprint(s.Denoise)},
		{"mode", s.Mode},
		{"workers", fmt.Sprint(s.Workers)},
		{"poll-interval", s.PollInterval.String()},
		{"yield-delay", s.YieldDelay.String()},
		{"retry-delay", s.RetryDelay.String()},
		{"pending-marker", s.PendingMarker},
		{"done-marker", s.DoneMarker},
		{"cancel-key", s.CancelKey},
		{"extensions", strings.Join(s.Extensions, ",")},
		{"progress", fmt.Sprint(s.Progress)},
		{"log-format", s.LogFormat},
		{"log-level", s.LogLevel},
		{"log-file", s.LogFile},
		{"metrics-addr", s.MetricsAddr},
	}
	for _, r := range rows {
		value := r[1]
		if value == "" {
			value = "(unset)"
		}
		fmt.Fprintf(out, "%-15s %s\n", r[0]+":", value)
	}
}
