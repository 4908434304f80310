package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/editor"
	"github.com/cutroom/cutroom-agent/internal/history"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// dryRunStore reads through to the catalog and discards writes.
type dryRunStore struct {
	*catalog.Service
}

func (d dryRunStore) SaveDocument(ctx context.Context, id string, _ timeline.Document) (*catalog.Project, bool, error) {
	p, err := d.GetProject(ctx, id)
	return p, false, err
}

func (dryRunStore) SaveHistory(context.Context, string, *history.Log) error { return nil }

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var output string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply <project> <script>",
		Short: "Apply an edit script to a project as one undoable edit",
		Long: "Apply reads a JSON (comments allowed) or YAML script of edit commands.\n" +
			"The whole script is rejected if any command fails.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			script, err := editor.LoadScript(f, editor.FormatOf(args[1]))
			f.Close()
			if err != nil {
				return err
			}

			return ctx.withStore(func(s *store) error {
				p, err := s.resolveProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				var st editor.Store = s.catalog
				if dryRun {
					st = dryRunStore{s.catalog}
				}
				sessions := editor.NewManager(st,
					editor.WithHistorySize(s.cfg.HistorySize()),
					editor.WithLogger(s.logger),
				)
				sess, err := sessions.Open(cmd.Context(), p.ID)
				if err != nil {
					return err
				}

				results, err := sess.ApplyBatch(cmd.Context(), script.Label, script.Commands)
				if err != nil {
					var be *editor.BatchError
					if errors.As(err, &be) {
						return fmt.Errorf("command %d (%s): %w", be.Index, script.Commands[be.Index].Op, be.Err)
					}
					return err
				}
				if err := sessions.Close(cmd.Context(), p.ID); err != nil {
					return fmt.Errorf("save project: %w", err)
				}

				out := cmd.OutOrStdout()
				for i, res := range results {
					fmt.Fprintf(out, "%d %s: %d clip(s)\n", i, res.Op, len(res.Clips))
				}
				state := sess.State()
				if dryRun {
					fmt.Fprintf(out, "%s: dry run, revision %d unchanged\n", p.Name, state.Revision)
				} else {
					fmt.Fprintf(out, "%s: saved revision %d\n", p.Name, state.Revision)
				}

				if output == "" {
					return nil
				}
				data, err := timeline.EncodeDocument(state.Document)
				if err != nil {
					return err
				}
				return os.WriteFile(output, data, 0644)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Also write the resulting document to this file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Apply without saving the project")
	return cmd
}
