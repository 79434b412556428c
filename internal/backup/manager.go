package backup

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
	"github.com/bagoessprasetyo/property-management-sub001/internal/ledger"
	"github.com/bagoessprasetyo/property-management-sub001/internal/monitoring"
)

// Config configures a Manager.
type Config struct {
	Product          string          `yaml:"product" validate:"required"`
	MaxSnapshotBytes int64           `yaml:"max_snapshot_bytes" validate:"gt=0"`
	FormatVersion    string          `yaml:"format_version" validate:"required"`
	ExportedBy       string          `yaml:"exported_by"`
	WriteBatchSize   int             `yaml:"write_batch_size" validate:"gt=0"`
	RestorePolicy    RestorePolicy   `yaml:"restore_policy" validate:"oneof=best_effort abort_on_failure"`
	RetentionDays    int             `yaml:"retention_days" validate:"gte=0"`
	Sanitizer        SanitizerConfig `yaml:"sanitizer"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Product:          "pms",
		MaxSnapshotBytes: DefaultMaxSnapshotBytes,
		FormatVersion:    DefaultFormatVersion,
		ExportedBy:       "pms-backup",
		WriteBatchSize:   DefaultWriteBatchSize,
		RestorePolicy:    PolicyBestEffort,
		RetentionDays:    ledger.DefaultRetentionDays,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCatalog replaces the default collection catalog.
func WithCatalog(c *Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(metrics *monitoring.BackupMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock replaces the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the backup service: it builds, validates and restores
// snapshots for one gateway and keeps their history.
type Manager struct {
	logger    *zap.Logger
	config    Config
	catalog   *Catalog
	builder   *Builder
	validator *Validator
	restorer  *Restorer
	history   *ledger.Ledger
	locks     *ScopeLock
	metrics   *monitoring.BackupMetrics
	now       func() time.Time

	retentionDays atomic.Int64
}

// NewManager wires a Manager. A nil history selects an in-memory ledger.
func NewManager(logger *zap.Logger, gw gateway.Gateway, history *ledger.Ledger, config Config, opts ...Option) (*Manager, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	defaults := DefaultConfig()
	if config.Product == "" {
		config.Product = defaults.Product
	}
	if config.FormatVersion == "" {
		config.FormatVersion = defaults.FormatVersion
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaults.RetentionDays
	}
	if _, err := ParseRestorePolicy(string(config.RestorePolicy)); err != nil {
		return nil, err
	}

	m := &Manager{
		logger:  logger.Named("backup"),
		config:  config,
		catalog: DefaultCatalog(),
		history: history,
		locks:   NewScopeLock(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.history == nil {
		m.history = ledger.New(logger, ledger.NewMemoryStore(), ledger.DefaultMaxEntries)
	}
	m.retentionDays.Store(int64(config.RetentionDays))

	m.builder = NewBuilder(m.logger, gw, m.catalog, NewSanitizer(config.Sanitizer), m.history, m.metrics, BuilderConfig{
		MaxSnapshotBytes: config.MaxSnapshotBytes,
		FormatVersion:    config.FormatVersion,
		ExportedBy:       config.ExportedBy,
	})
	m.builder.now = m.now
	m.validator = NewValidator(m.catalog, config.FormatVersion)
	m.restorer = NewRestorer(m.logger, gw, m.catalog, m.validator, m.builder, m.metrics, RestorerConfig{
		WriteBatchSize: config.WriteBatchSize,
		DefaultPolicy:  config.RestorePolicy,
	})

	return m, nil
}

// Catalog returns the collection catalog in use.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// CreateSnapshot builds a snapshot of scope ("" for everything).
func (m *Manager) CreateSnapshot(ctx context.Context, scope, reason string) (*Snapshot, error) {
	release, err := m.acquire(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	return m.builder.Build(ctx, scope, reason)
}

// DownloadSnapshot builds a snapshot, writes its JSON form to w and returns
// the file name it should be saved under.
func (m *Manager) DownloadSnapshot(ctx context.Context, scope, reason string, w io.Writer) (string, error) {
	release, err := m.acquire(ctx, scope)
	if err != nil {
		return "", err
	}
	defer release()

	snap, data, err := m.builder.build(ctx, scope, reason)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return m.SnapshotFileName(scope, snap.CreatedAt), nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SnapshotFileName returns <product>_backup_<scope|all>_<YYYY-MM-DD>.json.
func (m *Manager) SnapshotFileName(scope string, at time.Time) string {
	label := "all"
	if scope != "" {
		label = unsafeFileChars.ReplaceAllString(scope, "-")
	}
	return fmt.Sprintf("%s_backup_%s_%s.json", m.config.Product, label, at.UTC().Format("2006-01-02"))
}

// ValidateSnapshot checks a snapshot without touching the gateway.
func (m *Manager) ValidateSnapshot(s *Snapshot) *ValidationReport {
	report := m.validator.Validate(s)
	m.metrics.ObserveValidation(report.Valid, report.IssueKinds())

	for _, w := range report.Warnings {
		m.logger.Warn("Snapshot validation warning", zap.String("warning", w))
	}
	for _, e := range report.Errors {
		m.logger.Error("Snapshot validation error", zap.String("error", e))
	}
	return report
}

// RestoreSnapshot replays s under the lock of opts.Scope.
func (m *Manager) RestoreSnapshot(ctx context.Context, s *Snapshot, opts RestoreOptions) (*RestoreResult, error) {
	start := time.Now()
	release, err := m.acquire(ctx, opts.Scope)
	if err != nil {
		result := newRestoreResult(opts.DryRun)
		result.Cancelled = true
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		m.metrics.ObserveRestore(result.metricResult(), result.Duration, 0)
		m.logger.Warn("Restore cancelled before start", zap.String("scope", opts.Scope), zap.Error(err))
		return result, err
	}
	defer release()

	return m.restorer.Restore(ctx, s, opts)
}

// RestoreFromFile parses a snapshot document and restores it. A parse
// failure yields a result with a single error.
func (m *Manager) RestoreFromFile(ctx context.Context, data []byte, opts RestoreOptions) (*RestoreResult, error) {
	s, err := ParseSnapshot(data)
	if err != nil {
		m.logger.Error("Restore aborted: unreadable snapshot", zap.Error(err))
		result := newRestoreResult(opts.DryRun)
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}
	return m.RestoreSnapshot(ctx, s, opts)
}

// ListHistory returns snapshot events, oldest first.
func (m *Manager) ListHistory(ctx context.Context) ([]ledger.Entry, error) {
	entries, err := m.history.List(ctx)
	if err != nil {
		return nil, err
	}
	m.metrics.SetHistoryEntries(len(entries))
	return entries, nil
}

// CleanupHistory removes events older than maxAgeDays.
func (m *Manager) CleanupHistory(ctx context.Context, maxAgeDays int) (int, error) {
	removed, err := m.history.Cleanup(ctx, maxAgeDays)
	if err != nil {
		return 0, err
	}
	m.metrics.HistoryPruned(removed)
	return removed, nil
}

// SetMaxSnapshotBytes changes the build size ceiling.
func (m *Manager) SetMaxSnapshotBytes(n int64) {
	m.builder.SetMaxSnapshotBytes(n)
}

// SetRetentionDays changes the horizon used by the periodic cleaner.
func (m *Manager) SetRetentionDays(days int) {
	if days > 0 {
		m.retentionDays.Store(int64(days))
	}
}

// RetentionDays returns the horizon used by the periodic cleaner.
func (m *Manager) RetentionDays() int {
	return int(m.retentionDays.Load())
}

func (m *Manager) acquire(ctx context.Context, scope string) (func(), error) {
	release, err := m.locks.Acquire(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for scope %q: %w", ErrCancelled, scope, err)
	}
	return release, nil
}
