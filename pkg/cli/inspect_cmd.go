package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"datawrangler/internal/domain"
	"datawrangler/internal/service/pipeline"
)

func newProfileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <source>",
		Short: "Profile a dataset without generating transformations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openDefault(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			prof, err := s.app.Pipeline.ProfileOnly(cmd.Context(), pipeline.RunRequest{Source: args[0]})
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), prof)
			}
			return printProfile(cmd, prof)
		},
	}
}

func printProfile(cmd *cobra.Command, prof *domain.DataProfile) error {
	rows := make([][]string, 0, len(prof.Columns))
	for _, c := range prof.Columns {
		rows = append(rows, []string{
			c.Name,
			string(c.DType),
			string(c.InferredType),
			strconv.Itoa(c.NullCount),
			formatFloat(c.NullPercentage),
			formatOptInt(c.UniqueCount),
			formatOptFloat(c.Min),
			formatOptFloat(c.Max),
			formatOptFloat(c.Mean),
		})
	}
	headers := []string{"column", "dtype", "inferred", "nulls", "null %", "unique", "min", "max", "mean"}
	if err := printTable(cmd.OutOrStdout(), headers, rows); err != nil {
		return err
	}
	_, _ = cmd.OutOrStdout().Write([]byte("\n"))
	return printDetail(cmd.OutOrStdout(), []field{
		{"rows", strconv.Itoa(prof.RowCount)},
		{"columns", strconv.Itoa(prof.ColumnCount)},
		{"missing %", formatFloat(prof.OverallMissingPercentage)},
		{"duplicate rows", strconv.Itoa(prof.DuplicateRows)},
	})
}

func newCandidatesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <source>",
		Short: "List the candidate transformations generated for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openDefault(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			_, ts, err := s.app.Pipeline.GenerateOnly(cmd.Context(), pipeline.RunRequest{Source: args[0]})
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				if ts == nil {
					ts = []domain.Transformation{}
				}
				return printJSON(cmd.OutOrStdout(), ts)
			}
			rows := make([][]string, 0, len(ts))
			for _, t := range ts {
				rows = append(rows, []string{
					t.ID,
					string(t.Type),
					dash(strings.Join(t.TargetColumns, ",")),
					strconv.FormatBool(t.Reversible),
					t.Description,
				})
			}
			return printTable(cmd.OutOrStdout(), []string{"id", "type", "columns", "reversible", "description"}, rows)
		},
	}
}
