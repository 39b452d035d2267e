package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropzone/internal/core"
)

func newTablesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Inspect target tables",
	}

	var threshold float64
	match := &cobra.Command{
		Use:   "match <file.csv>",
		Short: "Show the tables whose columns fit a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold") {
				threshold = e.cfg.Store.MatchThreshold
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			columns, profile, err := sniffColumns(f, e.cfg.Ingest.SampleLines)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			gw, err := openGateway(ctx, e.cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			catalog, err := gw.Catalog(ctx, e.cfg.Store.ReferenceSchema, e.cfg.Store.DataSchema)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d columns, %s delimited, header %t, %s\n",
				filepath.Base(args[0]), len(columns), profile.DelimiterName(), profile.HasHeader, profile.Encoding)
			if profile.LowConfidence {
				fmt.Fprintf(out, "format uncertain (confidence %.2f)\n", profile.Confidence)
			}
			fmt.Fprintf(out, "target table name: %s\n", core.ExtractTableName(args[0]))

			candidates := core.MatchSchemas(columns, catalog, threshold)
			if len(candidates) == 0 {
				fmt.Fprintf(out, "no table matches at %.0f%% or more\n", threshold*100)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tMATCH\tMISSING")
			for _, c := range candidates {
				fmt.Fprintf(tw, "%s\t%.0f%%\t%d\n", c.Table, c.Match*100, len(c.Missing))
			}
			return tw.Flush()
		},
	}
	match.Flags().Float64Var(&threshold, "threshold", 0, "Minimum match fraction (default STORE_MATCH_THRESHOLD)")

	cmd.AddCommand(match)
	return cmd
}

// sniffColumns detects the format of r and returns the column names a load
// would use.
func sniffColumns(r io.Reader, sampleLines int) ([]string, core.FormatProfile, error) {
	sample, err := core.ReadSample(r, sampleLines)
	if err != nil {
		return nil, core.FormatProfile{}, err
	}
	profile := core.Sniff(sample)
	if len(profile.SampleRows) == 0 {
		return nil, profile, core.ErrEmptyFile
	}

	first := profile.SampleRows[0]
	if profile.HasHeader {
		return core.NormalizeColumns(first), profile, nil
	}
	return core.GeneratedColumns(len(first)), profile, nil
}
