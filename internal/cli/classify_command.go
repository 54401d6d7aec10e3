package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"upscale-batch/internal/config"
	"upscale-batch/internal/model"
	"upscale-batch/internal/pipeline"
)

type classifyEntry struct {
	Path   string          `json:"path"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Class  model.SizeClass `json:"size_class"`
	Passes []model.Pass    `json:"passes"`
}

type classifyOutput struct {
	Images  []classifyEntry `json:"images"`
	Dropped []string        `json:"dropped"`
}

func newClassifyCommand() *cobra.Command {
	v := config.NewViper()
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "classify [file...]",
		Short: "Show the size class and upscale passes for images without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				paths, err = pipeline.Discover(s.SourcePath(), s.Extensions)
				if err != nil {
					return err
				}
			}
			tasks, dropped := pipeline.ClassifyAll(paths, nil)

			res := classifyOutput{Images: make([]classifyEntry, 0, len(tasks)), Dropped: dropped}
			if res.Dropped == nil {
				res.Dropped = []string{}
			}
			for _, t := range tasks {
				passes := model.PolicyFor(t.Class)
				if passes == nil {
					passes = []model.Pass{}
				}
				res.Images = append(res.Images, classifyEntry{
					Path:   t.Path,
					Width:  t.Width,
					Height: t.Height,
					Class:  t.Class,
					Passes: passes,
				})
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, res)
			}
			for _, e := range res.Images {
				fmt.Fprintf(out, "%s  %dx%d  %s  %s\n", filepath.Base(e.Path), e.Width, e.Height, e.Class, formatPasses(e.Passes))
			}
			for _, d := range res.Dropped {
				fmt.Fprintf(out, "%s  unreadable, dropped\n", filepath.Base(d))
			}
			return nil
		},
	}
	config.BindFlags(cmd.Flags(), v)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func formatPasses(passes []model.Pass) string {
	if len(passes) == 0 {
		return "skip"
	}
	out := ""
	for i, p := range passes {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("x%d b%d c%d", p.Magnification, p.BatchSize, p.SplitSize)
	}
	return out
}
