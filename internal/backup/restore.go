package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
	"github.com/bagoessprasetyo/property-management-sub001/internal/monitoring"
)

// DefaultWriteBatchSize is the number of records per Upsert call.
const DefaultWriteBatchSize = 500

// RestorePolicy decides what happens after a collection fails to restore.
type RestorePolicy string

const (
	// PolicyBestEffort attempts every collection regardless of earlier failures.
	PolicyBestEffort RestorePolicy = "best_effort"
	// PolicyAbortOnFailure skips every collection after the first failure.
	PolicyAbortOnFailure RestorePolicy = "abort_on_failure"
)

// ParseRestorePolicy accepts the policy names; empty selects best effort.
func ParseRestorePolicy(s string) (RestorePolicy, error) {
	switch RestorePolicy(s) {
	case "", PolicyBestEffort:
		return PolicyBestEffort, nil
	case PolicyAbortOnFailure:
		return PolicyAbortOnFailure, nil
	default:
		return "", fmt.Errorf("%w: unknown restore policy %q", ErrInvalidOptions, s)
	}
}

// RestoreOptions controls one restore run.
type RestoreOptions struct {
	ValidateIntegrity       bool          `json:"validateIntegrity"`
	CreateSafetyBackupFirst bool          `json:"createSafetyBackupFirst"`
	DryRun                  bool          `json:"dryRun"`
	Scope                   string        `json:"scope,omitempty"`
	Policy                  RestorePolicy `json:"policy,omitempty"`
}

// CollectionStatus is the per-collection restore outcome.
type CollectionStatus string

const (
	StatusRestored CollectionStatus = "restored"
	StatusFailed   CollectionStatus = "failed"
	StatusSkipped  CollectionStatus = "skipped"
	StatusPlanned  CollectionStatus = "planned"
)

// CollectionOutcome reports what happened to one collection.
type CollectionOutcome struct {
	Collection string           `json:"collection"`
	Status     CollectionStatus `json:"status"`
	Records    int              `json:"records"`
	Written    int              `json:"written"`
	Error      string           `json:"error,omitempty"`
}

// RestoreResult is the outcome of a restore. Success is true only when
// Errors is empty.
type RestoreResult struct {
	Success         bool                `json:"success"`
	RestoredRecords int                 `json:"restoredRecords"`
	Errors          []string            `json:"errors"`
	Warnings        []string            `json:"warnings,omitempty"`
	DryRun          bool                `json:"dryRun,omitempty"`
	Cancelled       bool                `json:"cancelled,omitempty"`
	Collections     []CollectionOutcome `json:"collections,omitempty"`
	SafetyDigest    string              `json:"safetySnapshotDigest,omitempty"`
	Duration        time.Duration       `json:"duration"`

	// SafetySnapshot is the pre-restore snapshot, when one was taken.
	SafetySnapshot *Snapshot `json:"-"`
}

func newRestoreResult(dryRun bool) *RestoreResult {
	return &RestoreResult{Errors: []string{}, DryRun: dryRun}
}

// metricResult names the result for metrics.
func (r *RestoreResult) metricResult() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.DryRun && r.Success:
		return "dry_run"
	case r.Success:
		return "success"
	case r.RestoredRecords > 0:
		return "partial"
	default:
		return "failed"
	}
}

// SafetyBuilder takes the pre-restore snapshot.
type SafetyBuilder interface {
	Build(ctx context.Context, scope, reason string) (*Snapshot, error)
}

// RestorerConfig configures replay.
type RestorerConfig struct {
	WriteBatchSize int
	DefaultPolicy  RestorePolicy
}

// Restorer replays snapshots into the gateway in dependency order.
type Restorer struct {
	logger    *zap.Logger
	gateway   gateway.Gateway
	catalog   *Catalog
	validator *Validator
	safety    SafetyBuilder
	metrics   *monitoring.BackupMetrics

	batchSize     int
	defaultPolicy RestorePolicy
}

// NewRestorer creates a restorer. safety and metrics may be nil.
func NewRestorer(logger *zap.Logger, gw gateway.Gateway, catalog *Catalog, validator *Validator,
	safety SafetyBuilder, metrics *monitoring.BackupMetrics, config RestorerConfig) *Restorer {
	if config.WriteBatchSize <= 0 {
		config.WriteBatchSize = DefaultWriteBatchSize
	}
	if config.DefaultPolicy == "" {
		config.DefaultPolicy = PolicyBestEffort
	}
	return &Restorer{
		logger:        logger.Named("restore"),
		gateway:       gw,
		catalog:       catalog,
		validator:     validator,
		safety:        safety,
		metrics:       metrics,
		batchSize:     config.WriteBatchSize,
		defaultPolicy: config.DefaultPolicy,
	}
}

// Restore validates, optionally snapshots the current state, then upserts the
// snapshot's collections parents first. The returned error is non-nil only for
// pre-flight failures and cancellation; collection write failures are
// reported in the result.
func (r *Restorer) Restore(ctx context.Context, s *Snapshot, opts RestoreOptions) (*RestoreResult, error) {
	start := time.Now()
	result := newRestoreResult(opts.DryRun)
	defer func() {
		result.Duration = time.Since(start)
		written := result.RestoredRecords
		if result.DryRun {
			written = 0
		}
		r.metrics.ObserveRestore(result.metricResult(), result.Duration, written)
	}()

	if s == nil {
		err := &ParseError{Err: errors.New("no snapshot given")}
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	policy := opts.Policy
	if policy == "" {
		policy = r.defaultPolicy
	}
	if _, err := ParseRestorePolicy(string(policy)); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	if err := cancelErr(ctx); err != nil {
		return r.cancel(result, err)
	}

	if opts.ValidateIntegrity {
		report := r.validator.Validate(s)
		r.metrics.ObserveValidation(report.Valid, report.IssueKinds())
		for _, w := range report.Warnings {
			r.logger.Warn("Snapshot validation warning", zap.String("warning", w))
		}
		result.Warnings = append(result.Warnings, report.Warnings...)
		if !report.Valid {
			result.Errors = append(result.Errors, report.Errors...)
			r.logger.Error("Restore aborted: snapshot failed validation",
				zap.Strings("errors", report.Errors),
			)
			return result, &ValidationFailedError{Errors: report.Errors}
		}
	}

	if opts.CreateSafetyBackupFirst && !opts.DryRun && r.safety != nil {
		safety, err := r.safety.Build(ctx, opts.Scope, ReasonPreRestore)
		switch {
		case err == nil:
			result.SafetySnapshot = safety
			result.SafetyDigest = safety.Metadata.Digest
		case errors.Is(err, ErrCancelled):
			return r.cancel(result, err)
		default:
			r.logger.Warn("Safety snapshot failed, continuing restore", zap.Error(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("safety snapshot failed: %v", err))
		}
	}

	plan := r.plan(s, opts.Scope, result)

	if opts.DryRun {
		for _, step := range plan {
			result.Collections = append(result.Collections, CollectionOutcome{
				Collection: step.name,
				Status:     StatusPlanned,
				Records:    len(step.records),
			})
		}
		result.RestoredRecords = s.Metadata.TotalRecords
		result.Success = true
		r.logger.Info("Dry-run restore completed",
			zap.Int("records", result.RestoredRecords),
			zap.String("scope", opts.Scope),
		)
		return result, nil
	}

	aborted := false
	for i, step := range plan {
		outcome := CollectionOutcome{Collection: step.name, Records: len(step.records)}
		if aborted {
			outcome.Status = StatusSkipped
			result.Collections = append(result.Collections, outcome)
			continue
		}

		written, err := r.writeCollection(ctx, step.name, step.records)
		outcome.Written = written
		if cerr := cancelErr(ctx); cerr != nil {
			if err == nil {
				// Every upsert committed before the cancellation was seen.
				outcome.Status = StatusRestored
				result.RestoredRecords += len(step.records)
			} else {
				outcome.Status = StatusSkipped
			}
			result.Collections = append(result.Collections, outcome)
			for _, rest := range plan[i+1:] {
				result.Collections = append(result.Collections, CollectionOutcome{
					Collection: rest.name,
					Status:     StatusSkipped,
					Records:    len(rest.records),
				})
			}
			return r.cancel(result, cerr)
		}
		if err != nil {
			werr := &CollectionWriteError{Collection: step.name, Written: written, Err: err}
			outcome.Status = StatusFailed
			outcome.Error = werr.Error()
			result.Errors = append(result.Errors, werr.Error())
			r.metrics.CollectionWriteFailed(step.name)
			r.logger.Error("Collection restore failed",
				zap.String("collection", step.name),
				zap.Int("written", written),
				zap.Error(err),
			)
			if policy == PolicyAbortOnFailure {
				aborted = true
			}
		} else {
			outcome.Status = StatusRestored
			result.RestoredRecords += len(step.records)
		}
		result.Collections = append(result.Collections, outcome)
	}

	result.Success = len(result.Errors) == 0
	r.logger.Info("Restore completed",
		zap.Bool("success", result.Success),
		zap.Int("restored_records", result.RestoredRecords),
		zap.Int("errors", len(result.Errors)),
		zap.String("scope", opts.Scope),
		zap.String("policy", string(policy)),
	)
	return result, nil
}

func (r *Restorer) cancel(result *RestoreResult, err error) (*RestoreResult, error) {
	result.Cancelled = true
	result.Success = false
	r.logger.Warn("Restore cancelled", zap.Int("restored_records", result.RestoredRecords))
	return result, err
}

type restoreStep struct {
	name    string
	records []gateway.Record
}

// plan orders the snapshot's collections for replay and applies the scope.
// Collections without a scope field are narrowed through their references
// to parents that were narrowed.
func (r *Restorer) plan(s *Snapshot, scope string, result *RestoreResult) []restoreStep {
	order := r.catalog.RestoreOrder()
	known := make(map[string]bool, len(order))
	for _, name := range order {
		known[name] = true
	}
	for _, name := range s.CollectionNames() {
		if !known[name] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("collection %q is not in the catalog and was not restored", name))
		}
	}

	kept := make(map[string]map[string]struct{})
	steps := make([]restoreStep, 0, len(order))
	for _, name := range order {
		records, ok := s.Collections[name]
		if !ok {
			continue
		}
		spec, _ := r.catalog.Lookup(name)
		if scope != "" {
			records = r.narrow(spec, records, scope, kept)
		}
		steps = append(steps, restoreStep{name: name, records: records})
	}
	return steps
}

func (r *Restorer) narrow(spec CollectionSpec, records []gateway.Record, scope string,
	kept map[string]map[string]struct{}) []gateway.Record {
	var narrowedRefs []Reference
	for _, ref := range spec.Refs {
		if _, ok := kept[ref.Parent]; ok && ref.Parent != spec.Name {
			narrowedRefs = append(narrowedRefs, ref)
		}
	}
	if !spec.Scoped() && len(narrowedRefs) == 0 {
		return records
	}

	out := make([]gateway.Record, 0, len(records))
	ids := make(map[string]struct{})
	for _, rec := range records {
		if !inScope(spec, rec, scope, narrowedRefs, kept) {
			continue
		}
		out = append(out, rec)
		if id, ok := rec.ID(); ok {
			ids[id] = struct{}{}
		}
	}
	kept[spec.Name] = ids
	return out
}

func inScope(spec CollectionSpec, rec gateway.Record, scope string, refs []Reference,
	kept map[string]map[string]struct{}) bool {
	if spec.Scoped() {
		return gateway.KeyString(rec[spec.ScopeField]) == scope
	}
	for _, ref := range refs {
		if _, ok := kept[ref.Parent][gateway.KeyString(rec[ref.Field])]; ok {
			return true
		}
	}
	return false
}

// writeCollection upserts records in batches and returns how many were
// committed before the first failure.
func (r *Restorer) writeCollection(ctx context.Context, name string, records []gateway.Record) (int, error) {
	written := 0
	for start := 0; start < len(records); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(start+r.batchSize, len(records))
		if err := r.gateway.Upsert(ctx, name, records[start:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}
