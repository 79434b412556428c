package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
	"github.com/bagoessprasetyo/property-management-sub001/internal/ledger"
	"github.com/bagoessprasetyo/property-management-sub001/internal/monitoring"
)

// DefaultMaxSnapshotBytes is the serialized size ceiling.
const DefaultMaxSnapshotBytes int64 = 50 * 1024 * 1024

// HistoryRecorder receives one entry per successful build.
type HistoryRecorder interface {
	RecordEvent(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
}

// BuilderConfig configures snapshot construction.
type BuilderConfig struct {
	MaxSnapshotBytes int64
	FormatVersion    string
	ExportedBy       string
}

// Builder fetches every catalogued collection and assembles a sealed snapshot.
type Builder struct {
	logger    *zap.Logger
	gateway   gateway.Gateway
	catalog   *Catalog
	sanitizer *Sanitizer
	history   HistoryRecorder
	metrics   *monitoring.BackupMetrics

	formatVersion string
	exportedBy    string
	maxBytes      atomic.Int64
	now           func() time.Time
}

// NewBuilder creates a builder. history and metrics may be nil.
func NewBuilder(logger *zap.Logger, gw gateway.Gateway, catalog *Catalog, sanitizer *Sanitizer,
	history HistoryRecorder, metrics *monitoring.BackupMetrics, config BuilderConfig) *Builder {
	if config.FormatVersion == "" {
		config.FormatVersion = DefaultFormatVersion
	}
	if config.ExportedBy == "" {
		config.ExportedBy = "pms-backup"
	}

	b := &Builder{
		logger:        logger.Named("builder"),
		gateway:       gw,
		catalog:       catalog,
		sanitizer:     sanitizer,
		history:       history,
		metrics:       metrics,
		formatVersion: config.FormatVersion,
		exportedBy:    config.ExportedBy,
		now:           time.Now,
	}
	b.SetMaxSnapshotBytes(config.MaxSnapshotBytes)
	return b
}

// SetMaxSnapshotBytes changes the size ceiling. Non-positive selects the default.
func (b *Builder) SetMaxSnapshotBytes(n int64) {
	if n <= 0 {
		n = DefaultMaxSnapshotBytes
	}
	b.maxBytes.Store(n)
}

// MaxSnapshotBytes returns the current size ceiling.
func (b *Builder) MaxSnapshotBytes() int64 {
	return b.maxBytes.Load()
}

// Build exports every collection, filtered by scope where the collection has
// a scope field, and records the event in the history.
func (b *Builder) Build(ctx context.Context, scope, reason string) (*Snapshot, error) {
	snap, _, err := b.build(ctx, scope, reason)
	return snap, err
}

// build returns the snapshot together with its serialized form.
func (b *Builder) build(ctx context.Context, scope, reason string) (*Snapshot, []byte, error) {
	if reason == "" {
		reason = ReasonManual
	}
	began := time.Now()

	snap, data, err := b.assemble(ctx, scope, reason, b.now())
	if err != nil {
		b.metrics.ObserveSnapshot(reason, 0, 0, 0, err)
		b.logger.Error("Snapshot build failed",
			zap.String("scope", scope),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, nil, err
	}

	size := int64(len(data))
	duration := time.Since(began)
	b.metrics.ObserveSnapshot(reason, duration, snap.Metadata.TotalRecords, size, nil)

	if b.history != nil {
		if _, err := b.history.RecordEvent(ctx, ledger.Entry{
			Timestamp:   snap.CreatedAt,
			Scope:       scope,
			Reason:      reason,
			RecordCount: snap.Metadata.TotalRecords,
			SizeBytes:   size,
			Digest:      snap.Metadata.Digest,
		}); err != nil {
			b.logger.Warn("Failed to record snapshot history", zap.Error(err))
		}
	}

	b.logger.Info("Snapshot built",
		zap.String("scope", scope),
		zap.String("reason", reason),
		zap.Int("records", snap.Metadata.TotalRecords),
		zap.String("size", humanize.IBytes(uint64(size))),
		zap.Duration("duration", duration),
	)
	return snap, data, nil
}

func (b *Builder) assemble(ctx context.Context, scope, reason string, createdAt time.Time) (*Snapshot, []byte, error) {
	if err := cancelErr(ctx); err != nil {
		return nil, nil, err
	}

	specs := b.catalog.Specs()
	results := make([][]gateway.Record, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			var filter gateway.Filter
			if scope != "" && spec.Scoped() {
				filter = gateway.Filter{Field: spec.ScopeField, Value: scope}
			}

			records, err := b.gateway.Fetch(gctx, spec.Name, filter)
			if err != nil {
				return &FetchError{Collection: spec.Name, Err: err}
			}
			results[i] = b.sanitizer.SanitizeAll(records)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := cancelErr(ctx); cerr != nil {
			return nil, nil, cerr
		}
		return nil, nil, err
	}

	snap := NewSnapshot(createdAt, b.formatVersion)
	for i, spec := range specs {
		snap.SetCollection(spec.Name, results[i])
	}
	snap.Metadata.ExportedBy = b.exportedBy
	snap.Metadata.ExportReason = reason
	snap.Metadata.Scope = scope
	if err := snap.Seal(); err != nil {
		return nil, nil, err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if limit := b.MaxSnapshotBytes(); int64(len(data)) > limit {
		return nil, nil, &SizeExceededError{Actual: int64(len(data)), Limit: limit}
	}
	return snap, data, nil
}
