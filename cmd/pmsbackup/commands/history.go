package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bagoessprasetyo/property-management-sub001/internal/ledger"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune the snapshot history",
	}
	cmd.AddCommand(newHistoryListCmd(root), newHistoryCleanupCmd(root))
	return cmd
}

func newHistoryListCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format, "table", "json", "yaml"); err != nil {
				return err
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			env, err := openEnvironment(cfg, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			entries, err := env.manager.ListHistory(cmd.Context())
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return displayJSON(cmd.OutOrStdout(), entries)
			case "yaml":
				return displayYAML(cmd.OutOrStdout(), entries)
			default:
				displayHistoryTable(cmd.OutOrStdout(), entries)
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	return cmd
}

func newHistoryCleanupCmd(root *rootOptions) *cobra.Command {
	var maxAgeDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove history entries older than the retention horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			env, err := openEnvironment(cfg, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			days := cfg.Backup.RetentionDays
			if cmd.Flags().Changed("max-age-days") {
				days = maxAgeDays
			}

			removed, err := env.manager.CleanupHistory(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s older than %d days\n",
				removed, pluralEntries(removed), days)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", ledger.DefaultRetentionDays, "age in days beyond which entries are removed (default from config)")
	return cmd
}

func displayHistoryTable(w io.Writer, entries []ledger.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No snapshots recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAGE\tSCOPE\tREASON\tRECORDS\tSIZE\tDIGEST")
	for _, e := range entries {
		scope := e.Scope
		if scope == "" {
			scope = "all"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			humanize.Time(e.Timestamp),
			scope,
			e.Reason,
			humanize.Comma(int64(e.RecordCount)),
			humanize.IBytes(uint64(e.SizeBytes)),
			shortDigest(e.Digest),
		)
	}
	tw.Flush()
}

func shortDigest(d string) string {
	const n = len("sha256:") + 12
	if len(d) > n {
		return d[:n]
	}
	return d
}

func pluralEntries(n int) string {
	if n == 1 {
		return "entry"
	}
	return "entries"
}
