package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropzone/internal/core"
)

func newBackupsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect table snapshots taken before full reloads",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <schema.table>",
		Short: "List the snapshot versions of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTable(args[0], e.cfg.Store.ReferenceSchema)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			gw, err := openGateway(ctx, e.cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			versions, err := core.NewVersioner(gw, gw).ListVersions(ctx, t)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no snapshots of %s\n", t)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tLOAD TYPE\tROWS\tCREATED")
			for _, v := range versions {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", v.Version, v.LoadType, v.Rows, v.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	})
	return cmd
}

func newRestoreCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <schema.table> <version>",
		Short: "Replace a table's rows with a snapshot",
		Long: `Replace the live rows of a table with a snapshot version. The current
rows are snapshotted first, so a restore can itself be undone.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTable(args[0], e.cfg.Store.ReferenceSchema)
			if err != nil {
				return err
			}
			version, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || version <= 0 {
				return fmt.Errorf("invalid version %q", args[1])
			}

			ctx := cmd.Context()
			gw, err := openGateway(ctx, e.cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			res, err := core.NewVersioner(gw, gw).Restore(ctx, t, version)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s to version %d (%d rows); previous rows saved as version %d\n",
				res.Table, res.Restored, res.Rows, res.Previous.Version)
			return nil
		},
	}
}
