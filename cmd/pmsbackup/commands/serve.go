package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bagoessprasetyo/property-management-sub001/internal/api"
	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
	"github.com/bagoessprasetyo/property-management-sub001/internal/config"
	"github.com/bagoessprasetyo/property-management-sub001/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, scheduled snapshots and history cleanup",
		Long: `Run as a service: serve the HTTP admin API, take scheduled snapshots
into the storage target, prune history and stored artifacts past the
retention horizon, and reload the size ceiling and retention settings when
the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root)
		},
	}
}

func runServe(ctx context.Context, root *rootOptions) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	env, err := openEnvironment(cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	target, err := storage.New(ctx, logger, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage target: %w", err)
	}

	var tasks []*backup.ScheduledTask
	defer func() {
		for _, task := range tasks {
			task.Stop()
		}
	}()

	if cfg.Scheduler.Enabled {
		task, err := env.manager.ScheduleAutomaticSnapshots(ctx, cfg.Scheduler.SnapshotInterval, storeSink(env, target))
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	cleaner, err := env.manager.StartRetentionCleaner(ctx, cfg.Scheduler.CleanupInterval,
		func(ctx context.Context, cutoff time.Time) error {
			removed, err := storage.Prune(ctx, target, cutoff)
			if removed > 0 {
				logger.Info("Pruned stored snapshots",
					zap.Int("removed", removed),
					zap.Time("cutoff", cutoff),
				)
			}
			return err
		})
	if err != nil {
		return err
	}
	tasks = append(tasks, cleaner)

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.NewServer(cfg.API, logger, env.manager, env.metrics)
		if err != nil {
			return err
		}
		if err := server.Start(ctx); err != nil {
			return err
		}
	}

	cfgManager, err := config.NewManager(logger, root.configPath)
	if err != nil {
		return err
	}
	defer cfgManager.Close()
	cfgManager.OnChange(func(c *config.Config) {
		env.manager.SetMaxSnapshotBytes(c.Backup.MaxSnapshotBytes)
		env.manager.SetRetentionDays(c.Backup.RetentionDays)
		env.history.SetMaxEntries(c.Ledger.MaxEntries)
		logger.Info("Applied configuration change",
			zap.String("max_snapshot_size", humanize.IBytes(uint64(c.Backup.MaxSnapshotBytes))),
			zap.Int("retention_days", c.Backup.RetentionDays),
			zap.Int("max_history_entries", c.Ledger.MaxEntries),
		)
	})
	if err := cfgManager.Watch(); err != nil {
		logger.Warn("Configuration hot reload disabled", zap.Error(err))
	}

	logger.Info("pmsbackup started",
		zap.String("version", Version),
		zap.String("storage", target.Name()),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
		zap.Bool("api", cfg.API.Enabled),
	)

	<-ctx.Done()
	logger.Info("Shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown API server gracefully", zap.Error(err))
		}
	}
	return nil
}

// storeSink writes each scheduled snapshot to target under a name that is
// unique per run.
func storeSink(env *environment, target storage.Target) backup.SnapshotSink {
	return func(ctx context.Context, snap *backup.Snapshot) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(env.manager.SnapshotFileName("", snap.CreatedAt), ".json") +
			snap.CreatedAt.UTC().Format("_150405") + ".json"
		if err := target.Store(ctx, name, bytes.NewReader(data), int64(len(data))); err != nil {
			return err
		}
		env.logger.Info("Stored scheduled snapshot",
			zap.String("name", name),
			zap.String("target", target.Name()),
			zap.String("size", humanize.IBytes(uint64(len(data)))),
		)
		return nil
	}
}
