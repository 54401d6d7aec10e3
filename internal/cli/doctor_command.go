package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"upscale-batch/internal/config"
	"upscale-batch/internal/pipeline"
)

func newDoctorCommand() *cobra.Command {
	v := config.NewViper()
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the upscaler, model directory and folders before a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}
			res := pipeline.Doctor(pipeline.DoctorOptions{
				Tool:      s.Tool,
				ModelDir:  s.ModelDir,
				SourceDir: s.SourcePath(),
				WorkDir:   s.WorkDir,
				StateDir:  s.StatePath(),
			})
			out := cmd.OutOrStdout()
			if jsonOut {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				for _, c := range res.Checks {
					status := "ok"
					if !c.OK {
						status = "fail"
					}
					fmt.Fprintf(out, "%s: %s (%s)\n", c.Name, status, c.Message)
				}
			}
			if !res.OK {
				return errors.New("doctor checks failed")
			}
			if !jsonOut {
				fmt.Fprintln(out, "doctor: all checks passed")
			}
			return nil
		},
	}
	config.BindFlags(cmd.Flags(), v)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}
