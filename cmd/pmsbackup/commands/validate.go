package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
)

const maxListedWarnings = 20

// errSnapshotInvalid is returned when a checked snapshot has errors.
var errSnapshotInvalid = errors.New("snapshot failed validation")

func newValidateCmd(root *rootOptions) *cobra.Command {
	var (
		format      string
		fromStorage bool
	)

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a snapshot file without restoring it",
		Long: `Check the format version, structure, record counts, integrity digest
and references of a snapshot file. Exits non-zero when the snapshot has errors.
Use "-" to read from stdin, or --from-storage to name an artifact on the
configured storage target. Gzip-compressed input is accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format, "table", "json"); err != nil {
				return err
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			data, err := readInput(cmd.Context(), cfg, logger, args[0], fromStorage, cmd.InOrStdin())
			if err != nil {
				return err
			}
			snap, err := backup.ParseSnapshot(data)
			if err != nil {
				return err
			}

			report := backup.NewValidator(backup.DefaultCatalog(), cfg.Backup.FormatVersion).Validate(snap)
			if format == "json" {
				if err := displayJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), snap, report)
			}

			if !report.Valid {
				return errSnapshotInvalid
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json)")
	cmd.Flags().BoolVar(&fromStorage, "from-storage", false, "read FILE as an artifact name from the storage target")
	return cmd
}

func printReport(w io.Writer, snap *backup.Snapshot, report *backup.ValidationReport) {
	fmt.Fprintf(w, "Created:  %s\n", snap.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Version:  %s\n", snap.FormatVersion)
	fmt.Fprintf(w, "Records:  %d\n", snap.Metadata.TotalRecords)
	fmt.Fprintf(w, "Digest:   %s\n", snap.Metadata.Digest)
	fmt.Fprintf(w, "Valid:    %s\n", yesNo(report.Valid))

	if len(report.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	if len(report.DanglingCounts) > 0 {
		fmt.Fprintln(w, "\nDangling references:")
		keys := make([]string, 0, len(report.DanglingCounts))
		for k := range report.DanglingCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-40s %d\n", k, report.DanglingCounts[k])
		}
	}

	if len(report.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for i, warning := range report.Warnings {
			if i == maxListedWarnings {
				fmt.Fprintf(w, "  ... and %d more\n", len(report.Warnings)-i)
				break
			}
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}
