package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
	"github.com/bagoessprasetyo/property-management-sub001/internal/storage"
)

// errRestoreIncomplete is returned when some collections failed to restore.
var errRestoreIncomplete = errors.New("restore finished with errors")

type restoreFlags struct {
	dryRun      bool
	noValidate  bool
	noSafety    bool
	storeSafety bool
	fromStorage bool
	scope       string
	policy      string
	format      string
}

func newRestoreCmd(root *rootOptions) *cobra.Command {
	flags := &restoreFlags{}

	cmd := &cobra.Command{
		Use:   "restore FILE",
		Short: "Restore a snapshot file into the store",
		Long: `Restore a snapshot file. The snapshot is validated first and a safety
snapshot of the current data is taken before anything is written.

Examples:
  # Preview how many records would be written
  pmsbackup restore pms_backup_all_2026-03-04.json --dry-run

  # Restore one property only, stopping at the first failed collection
  pmsbackup restore backup.json --scope p1 --policy abort_on_failure

  # Restore an artifact written by serve to the storage target
  pmsbackup restore pms_backup_all_2026-03-04_020000.json --from-storage`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, root, flags, args[0])
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "report what would be restored without writing")
	cmd.Flags().BoolVar(&flags.noValidate, "no-validate", false, "skip integrity validation")
	cmd.Flags().BoolVar(&flags.noSafety, "no-safety", false, "skip the pre-restore safety snapshot")
	cmd.Flags().BoolVar(&flags.storeSafety, "store-safety", false, "store the safety snapshot on the configured storage target")
	cmd.Flags().BoolVar(&flags.fromStorage, "from-storage", false, "read FILE as an artifact name from the storage target")
	cmd.Flags().StringVar(&flags.scope, "scope", "", "property id to limit the restore to")
	cmd.Flags().StringVar(&flags.policy, "policy", "", "restore policy (best_effort, abort_on_failure); default from config")
	cmd.Flags().StringVar(&flags.format, "format", "table", "output format (table, json)")
	return cmd
}

func runRestore(cmd *cobra.Command, root *rootOptions, flags *restoreFlags, path string) error {
	if err := checkFormat(flags.format, "table", "json"); err != nil {
		return err
	}
	policy, err := backup.ParseRestorePolicy(flags.policy)
	if err != nil {
		return err
	}
	if flags.policy == "" {
		policy = ""
	}

	cfg, logger, err := root.load()
	if err != nil {
		return err
	}

	data, err := readInput(cmd.Context(), cfg, logger, path, flags.fromStorage, cmd.InOrStdin())
	if err != nil {
		return err
	}
	env, err := openEnvironment(cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	result, restoreErr := env.manager.RestoreFromFile(ctx, data, backup.RestoreOptions{
		ValidateIntegrity:       !flags.noValidate,
		CreateSafetyBackupFirst: !flags.noSafety,
		DryRun:                  flags.dryRun,
		Scope:                   flags.scope,
		Policy:                  policy,
	})

	if flags.storeSafety && result != nil && result.SafetySnapshot != nil {
		if err := storeSafetySnapshot(cmd, env, result.SafetySnapshot, flags.scope); err != nil {
			logger.Error("Failed to store safety snapshot", zap.Error(err))
		}
	}

	if result != nil {
		if flags.format == "json" {
			if err := displayJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
		} else {
			printRestoreResult(cmd.OutOrStdout(), result)
		}
	}

	if restoreErr != nil {
		return restoreErr
	}
	if !result.Success {
		return errRestoreIncomplete
	}
	return nil
}

func storeSafetySnapshot(cmd *cobra.Command, env *environment, snap *backup.Snapshot, scope string) error {
	ctx := cmd.Context()
	target, err := storage.New(ctx, env.logger, env.config.Storage)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	name := "pre_restore_" + env.manager.SnapshotFileName(scope, snap.CreatedAt)
	if err := target.Store(ctx, name, bytes.NewReader(data), int64(len(data))); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Safety snapshot stored as %s (%s)\n", name, humanize.IBytes(uint64(len(data))))
	return nil
}

func printRestoreResult(w io.Writer, result *backup.RestoreResult) {
	mode := "restore"
	if result.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Mode:      %s\n", mode)
	fmt.Fprintf(w, "Success:   %s\n", yesNo(result.Success))
	fmt.Fprintf(w, "Restored:  %s records\n", humanize.Comma(int64(result.RestoredRecords)))
	fmt.Fprintf(w, "Duration:  %s\n", result.Duration.Round(time.Millisecond))
	if result.SafetyDigest != "" {
		fmt.Fprintf(w, "Safety:    %s\n", result.SafetyDigest)
	}
	if result.Cancelled {
		fmt.Fprintln(w, "Cancelled: yes")
	}

	if len(result.Collections) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "COLLECTION\tSTATUS\tRECORDS\tWRITTEN\tERROR")
		for _, c := range result.Collections {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", c.Collection, c.Status, c.Records, c.Written, c.Error)
		}
		tw.Flush()
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for i, warning := range result.Warnings {
			if i == maxListedWarnings {
				fmt.Fprintf(w, "  ... and %d more\n", len(result.Warnings)-i)
				break
			}
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}
