package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"datawrangler/internal/domain"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage persisted runs",
	}
	cmd.AddCommand(newRunsListCmd(opts))
	cmd.AddCommand(newRunsShowCmd(opts))
	cmd.AddCommand(newRunsHistoryCmd(opts))
	cmd.AddCommand(newRunsArchiveCmd(opts))
	cmd.AddCommand(newRunsDeleteCmd(opts))
	return cmd
}

func newRunsListCmd(opts *rootOptions) *cobra.Command {
	var (
		step  string
		all   bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.RunFilter{IncludeArchived: all, Limit: limit}
			if step != "" {
				if !domain.ValidStep(step) {
					return fmt.Errorf("unknown step %q", step)
				}
				s := domain.PipelineStep(step)
				filter.Step = &s
			}

			s, err := opts.openDefault(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			runs, err := s.app.Pipeline.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				if runs == nil {
					runs = []domain.RunSummary{}
				}
				return printJSON(cmd.OutOrStdout(), runs)
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.RunID,
					r.Source,
					string(r.CurrentStep),
					strconv.FormatBool(r.Archived),
					r.UpdatedAt.Format(time.RFC3339),
					dash(r.Error),
				})
			}
			return printTable(cmd.OutOrStdout(), []string{"run id", "source", "step", "archived", "updated", "error"}, rows)
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "Only runs currently at this step")
	cmd.Flags().BoolVar(&all, "all", false, "Include archived runs")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of runs (0 for all)")
	return cmd
}

func newRunsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the persisted state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openDefault(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			st, err := s.app.Pipeline.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			completed := make([]string, len(st.CompletedSteps))
			for i, c := range st.CompletedSteps {
				completed[i] = string(c)
			}
			fields := []field{
				{"run", st.RunID},
				{"source", st.Source},
				{"step", string(st.CurrentStep)},
				{"completed", dash(strings.Join(completed, ", "))},
				{"transformations", strconv.Itoa(len(st.Transformations))},
				{"candidates", strconv.Itoa(len(st.Candidates))},
				{"ranked", strconv.Itoa(len(st.RankedTransformations))},
				{"skipped", strconv.Itoa(len(st.Skipped))},
				{"substitutions", strconv.Itoa(len(st.Substitutions))},
				{"started", st.StartedAt.Format(time.RFC3339)},
				{"updated", st.UpdatedAt.Format(time.RFC3339)},
			}
			if st.Error != nil {
				fields = append(fields, field{"error", fmt.Sprintf("%s at %s: %s", st.Error.Stage, st.Error.Step, st.Error.Message)})
			}
			return printDetail(cmd.OutOrStdout(), fields)
		},
	}
}

func newRunsHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <run-id>",
		Short: "Show the step transitions of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openDefault(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			hist, err := s.app.Pipeline.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), hist)
			}
			rows := make([][]string, 0, len(hist))
			for _, t := range hist {
				rows = append(rows, []string{
					strconv.Itoa(t.Seq),
					dash(string(t.From)),
					string(t.To),
					t.CreatedAt.Format(time.RFC3339Nano),
				})
			}
			return printTable(cmd.OutOrStdout(), []string{"seq", "from", "to", "at"}, rows)
		},
	}
}

func newRunsArchiveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <run-id>",
		Short: "Hide a run from listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openDefault(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.app.Pipeline.ArchiveRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printAck(cmd, opts, "archived", args[0])
		},
	}
}

func newRunsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openDefault(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.app.Pipeline.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printAck(cmd, opts, "deleted", args[0])
		},
	}
}

func printAck(cmd *cobra.Command, opts *rootOptions, action, runID string) error {
	if opts.output == outputJSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{"run_id": runID, "status": action})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Run %s %s.\n", runID, action)
	return err
}
