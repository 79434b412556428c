package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
	"github.com/bagoessprasetyo/property-management-sub001/internal/storage"
)

func newSnapshotCmd(root *rootOptions) *cobra.Command {
	var (
		scope  string
		reason string
		output string
		store  bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Build a snapshot of the current data",
		Long: `Build an integrity-sealed snapshot of every collection, or of one
property with --scope, and write it to a file.

Examples:
  # Snapshot everything into ./pms_backup_all_<date>.json
  pmsbackup snapshot

  # Snapshot one property to stdout
  pmsbackup snapshot --scope p1 -o -

  # Also push the file to the configured storage target
  pmsbackup snapshot --store`,
		Args: cobra.NoArgs,
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

			ctx := cmd.Context()
			var buf bytes.Buffer
			name, err := env.manager.DownloadSnapshot(ctx, scope, reason, &buf)
			if err != nil {
				return err
			}

			status := cmd.OutOrStdout()
			switch output {
			case "-":
				if _, err := buf.WriteTo(cmd.OutOrStdout()); err != nil {
					return err
				}
				status = cmd.ErrOrStderr()
			default:
				path := output
				if path == "" {
					path = name
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
				if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
					return fmt.Errorf("failed to write snapshot: %w", err)
				}
				fmt.Fprintf(status, "Snapshot written to %s (%s)\n", path, humanize.IBytes(uint64(buf.Len())))
			}

			if store {
				target, err := storage.New(ctx, logger, cfg.Storage)
				if err != nil {
					return err
				}
				if err := target.Store(ctx, name, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
					return err
				}
				fmt.Fprintf(status, "Snapshot stored as %s on %s\n", name, target.Name())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "property id to limit the snapshot to")
	cmd.Flags().StringVar(&reason, "reason", backup.ReasonManual, "reason recorded in the snapshot and history")
	cmd.Flags().StringVarP(&output, "output", "o", "", `output file ("-" for stdout, default derived from scope and date)`)
	cmd.Flags().BoolVar(&store, "store", false, "also store the snapshot on the configured storage target")
	return cmd
}
