package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/cutroom/cutroom-agent/internal/execution"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var flags optionFlags
	var output string

	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Render a project to a file with the local ffmpeg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			target, err := filepath.Abs(output)
			if err != nil {
				return err
			}

			return ctx.withStore(func(s *store) error {
				lock := flock.New(s.cfg.LockPath())
				locked, err := lock.TryLock()
				if err != nil {
					return fmt.Errorf("acquire export lock: %w", err)
				}
				if !locked {
					return errors.New("another export is running")
				}
				defer lock.Unlock()

				p, g, err := compileProject(cmd.Context(), s, args[0], opts)
				if err != nil {
					return err
				}
				for _, w := range g.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
				}

				exec, err := execution.NewFFmpegExecutor(encoderConfig(s))
				if err != nil {
					return err
				}
				events, err := exec.Execute(cmd.Context(), g, target)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Exporting %s (%s, %ss)\n", p.Name, g.Dimensions, seconds(g.Duration))
				report := progressReporter(cmd.OutOrStdout())
				var last execution.Event
				for ev := range events {
					if ev.Type == execution.EventProgress {
						report(ev.Percent)
						continue
					}
					last = ev
				}
				report(-1)

				if last.Type != execution.EventSuccess {
					return fmt.Errorf("export failed: %s", last.Message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", last.OutputPath)
				return nil
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// progressReporter rewrites one line on a terminal and prints every ten
// percent otherwise. A negative percent ends the output.
func progressReporter(w io.Writer) func(float64) {
	tty := isTerminal(w)
	lastStep := -1
	return func(percent float64) {
		if percent < 0 {
			if tty && lastStep >= 0 {
				fmt.Fprintln(w)
			}
			return
		}
		if tty {
			fmt.Fprintf(w, "\r%5.1f%%", percent)
			lastStep = 0
			return
		}
		step := int(math.Floor(percent / 10))
		if step > lastStep {
			lastStep = step
			fmt.Fprintf(w, "%d%%\n", step*10)
		}
	}
}
