package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cutroom/cutroom-agent/internal/timeline"
)

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(s *store) error {
				projects, err := s.catalog.ListProjects(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, projects)
				}
				if len(projects) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects")
					return nil
				}

				rows := make([][]string, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, []string{
						p.ID,
						p.Name,
						strconv.FormatInt(p.Revision, 10),
						p.UpdatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Revision", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <project>",
		Short: "Show a project's clips per track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(s *store) error {
				p, err := s.resolveProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, doc, err := s.catalog.LoadDocument(cmd.Context(), p.ID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, doc)
				}
				snap, err := doc.Snapshot()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (revision %d, %ss)\n", p.Name, p.Revision, seconds(snap.Duration(timeline.TrackMain)))
				for _, track := range []timeline.Track{timeline.TrackMain, timeline.TrackOverlay} {
					clips := snap.Clips(track)
					fmt.Fprintf(out, "\n%s track: %d clip(s), %ss\n", track, len(clips), seconds(snap.Duration(track)))
					if len(clips) == 0 {
						continue
					}
					fmt.Fprintln(out, clipTable(clips))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the stored document")
	return cmd
}

func clipTable(clips []timeline.Clip) string {
	rows := make([][]string, 0, len(clips))
	for i, c := range clips {
		rows = append(rows, []string{
			strconv.Itoa(i),
			c.ID,
			c.SourceRef,
			seconds(c.InTime),
			seconds(c.OutTime),
			seconds(c.StartTime),
			seconds(c.Duration()),
			yesNo(c.Muted),
			c.Filter,
			strconv.Itoa(len(c.Overlays)),
		})
	}
	return renderTable(
		[]string{"#", "Clip", "Source", "In", "Out", "Start", "Length", "Muted", "Filter", "Overlays"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft, alignRight},
	)
}
