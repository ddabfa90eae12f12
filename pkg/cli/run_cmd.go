package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"datawrangler/internal/service/pipeline"
)

// runFlags are the per-run overrides of the ranking configuration.
type runFlags struct {
	writeOutput string
	topK        int
	policy      string
	apply       string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.writeOutput, "write-output", "w", "", "Write the final dataset to this path (.csv, .parquet, .json)")
	cmd.Flags().IntVar(&f.topK, "top-k", 0, "Keep only the top K ranked candidates (0 keeps all)")
	cmd.Flags().StringVar(&f.policy, "policy", "", "Ranking policy (composite_score, improvement)")
	cmd.Flags().StringVar(&f.apply, "apply", "", "Final dataset mode (best, compose)")
}

// session opens the application with the run overrides applied.
func (f *runFlags) session(cmd *cobra.Command, opts *rootOptions) (*session, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("top-k") {
		cfg.Ranking.TopK = f.topK
	}
	if f.policy != "" {
		cfg.Ranking.Policy = f.policy
	}
	if f.apply != "" {
		cfg.Ranking.Apply = f.apply
	}
	return opts.open(cmd.Context(), cmd, cfg)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <source>",
		Short: "Run the full pipeline on a dataset",
		Long: "Profiles the source, generates and executes candidate transformations, validates and scores them, " +
			"and prints the ranking. Sources are .csv, .parquet or .json files, or query:<sql>.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.session(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.app.Pipeline.Run(cmd.Context(), pipeline.RunRequest{Source: args[0]})
			if err != nil {
				if res != nil {
					return fmt.Errorf("run %s failed (resume with 'wrangler recover %s'): %w", res.RunID, res.RunID, err)
				}
				return err
			}
			return finishRun(cmd, s, opts, flags.writeOutput, res)
		},
	}
	flags.register(cmd)
	return cmd
}

func newRecoverCmd(opts *rootOptions) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "recover <run-id>",
		Short: "Resume an interrupted run from its persisted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.session(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.app.Pipeline.RecoverRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return finishRun(cmd, s, opts, flags.writeOutput, res)
		},
	}
	flags.register(cmd)
	return cmd
}

// finishRun writes the final dataset when requested and prints the report.
func finishRun(cmd *cobra.Command, s *session, opts *rootOptions, path string, res *pipeline.PipelineResult) error {
	if path != "" && res.Dataset != nil {
		if err := s.app.Engine.Write(cmd.Context(), res.Dataset, path); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		s.logger.Info("final dataset written", "run_id", res.RunID, "path", path)
	}
	return printRunResult(cmd.OutOrStdout(), opts.output, res)
}

// runOutput is the JSON shape of a finished run.
type runOutput struct {
	RunID  string          `json:"run_id"`
	Source string          `json:"source"`
	Report pipeline.Report `json:"report"`
}

func printRunResult(w io.Writer, format outputFormat, res *pipeline.PipelineResult) error {
	if format == outputJSON {
		return printJSON(w, runOutput{RunID: res.RunID, Source: res.State.Source, Report: res.Report})
	}

	rows := make([][]string, 0, len(res.Ranked))
	for _, r := range res.Ranked {
		t := r.Candidate.Transformation
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Rank),
			t.ID,
			string(t.Type),
			dash(strings.Join(t.TargetColumns, ",")),
			formatFloat(r.CompositeScore),
			formatFloat(r.Candidate.QualityDelta.CompositeDelta),
			r.Reasoning,
		})
	}
	if err := printTable(w, []string{"rank", "id", "type", "columns", "score", "delta", "reasoning"}, rows); err != nil {
		return err
	}

	applied := make([]string, 0, len(res.Report.Applied))
	for _, t := range res.Report.Applied {
		applied = append(applied, t.ID)
	}
	fields := []field{
		{"run", res.RunID},
		{"apply", res.Report.ApplyMode},
		{"applied", dash(strings.Join(applied, ", "))},
		{"substitutions", fmt.Sprintf("%d", len(res.Report.Substitutions))},
		{"skipped", fmt.Sprintf("%d", len(res.Report.Skipped))},
	}
	if res.Report.TopDelta != nil {
		fields = append(fields, field{"top delta", formatFloat(res.Report.TopDelta.CompositeDelta)})
	}
	if res.Report.ComposeFallback {
		fields = append(fields, field{"compose", "fell back to best"})
	}
	if v := res.Report.FinalValidation; v != nil && !v.Passed {
		fields = append(fields, field{"final validation", "failed"})
	}
	if res.Dataset != nil {
		fields = append(fields, field{"rows", fmt.Sprintf("%d", res.Dataset.NumRows())})
	}
	_, _ = fmt.Fprintln(w)
	return printDetail(w, fields)
}
