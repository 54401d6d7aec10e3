package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Run executes the CLI with process stdio and SIGINT/SIGTERM wired to
// cancellation.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Execute(ctx, args, os.Stdout, os.Stderr)
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Every command reads its settings
// from flags, UPSCALE_BATCH_* environment variables or config.yaml, in that
// order. Without a subcommand the root behaves like "run".
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "upscale-batch",
		Short: "Upscale a folder of images with waifu2x and losslessly recompress the results",
		Long: `upscale-batch reads every image in the source folder, upscales it with an
external waifu2x-caffe compatible tool using parameters chosen from the image
resolution, then recompresses the result and renames it with the done marker.

Press the cancel key (default q) or ctrl+c to stop after in-flight images.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindRunCommand(root)

	root.AddCommand(
		newRunCommand(),
		newDoctorCommand(),
		newSettingsCommand(),
		newClassifyCommand(),
	)
	return root
}
