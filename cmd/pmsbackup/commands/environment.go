package commands

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
	"github.com/bagoessprasetyo/property-management-sub001/internal/config"
	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
	"github.com/bagoessprasetyo/property-management-sub001/internal/ledger"
	"github.com/bagoessprasetyo/property-management-sub001/internal/monitoring"
)

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "pms"

// environment holds the components a command works with.
type environment struct {
	config  *config.Config
	logger  *zap.Logger
	gateway gateway.Gateway
	history *ledger.Ledger
	metrics *monitoring.BackupMetrics
	manager *backup.Manager

	closers []func() error
}

func openEnvironment(cfg *config.Config, logger *zap.Logger) (*environment, error) {
	env := &environment{
		config:  cfg,
		logger:  logger,
		metrics: monitoring.NewBackupMetrics(metricsNamespace),
	}

	switch cfg.Gateway.Driver {
	case "", "memory":
		logger.Warn("Using the in-memory gateway; data does not outlive the process")
		env.gateway = gateway.NewMemoryGateway()
	default:
		gw, err := gateway.OpenSQL(logger, cfg.Gateway.SQL())
		if err != nil {
			return nil, err
		}
		env.gateway = gw
		env.closers = append(env.closers, gw.Close)
	}

	store, err := ledger.OpenStore(cfg.Ledger.StoreConfig)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	env.history = ledger.New(logger, store, cfg.Ledger.MaxEntries)
	env.closers = append(env.closers, env.history.Close)

	env.manager, err = backup.NewManager(logger, env.gateway, env.history, cfg.Backup,
		backup.WithMetrics(env.metrics),
	)
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// Close releases resources in reverse order of acquisition.
func (e *environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	_ = e.logger.Sync()
	return errors.Join(errs...)
}
