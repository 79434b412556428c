// Package ledger keeps the bounded, append-only history of snapshot events.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxEntries is the ledger length cap.
	DefaultMaxEntries = 50
	// DefaultRetentionDays is the age horizon used by periodic cleanup.
	DefaultRetentionDays = 30
)

// ErrInvalidRetention is returned for a negative cleanup horizon.
var ErrInvalidRetention = errors.New("retention days must not be negative")

// Entry records one snapshot event.
type Entry struct {
	ID          string    `json:"id" db:"id"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	Scope       string    `json:"scope,omitempty" db:"scope"`
	Reason      string    `json:"reason" db:"reason"`
	RecordCount int       `json:"recordCount" db:"record_count"`
	SizeBytes   int64     `json:"sizeBytes" db:"size_bytes"`
	Digest      string    `json:"digest,omitempty" db:"digest"`
}

// Store is the durable backing of a Ledger. List returns entries oldest first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context) ([]Entry, error)
	// PruneBefore deletes entries with a timestamp strictly before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Trim deletes the oldest entries until at most max remain.
	Trim(ctx context.Context, max int) (int, error)
	Close() error
}

// Ledger appends snapshot events to a Store and enforces the length cap.
type Ledger struct {
	logger     *zap.Logger
	store      Store
	maxEntries int
	now        func() time.Time

	// Appends and trims are serialized so the cap holds after every event.
	mu sync.Mutex
}

// New creates a ledger over store. A non-positive maxEntries selects the default.
func New(logger *zap.Logger, store Store, maxEntries int) *Ledger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Ledger{
		logger:     logger.Named("ledger"),
		store:      store,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for timestamps and cleanup cutoffs.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetMaxEntries changes the length cap; it applies from the next event.
func (l *Ledger) SetMaxEntries(max int) {
	if max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxEntries = max
}

// RecordEvent appends entry, filling ID and Timestamp when unset, and evicts
// the oldest entries beyond the cap.
func (l *Ledger) RecordEvent(ctx context.Context, entry Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	if err := l.store.Append(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("failed to append history entry: %w", err)
	}

	evicted, err := l.store.Trim(ctx, l.maxEntries)
	if err != nil {
		return entry, fmt.Errorf("failed to trim history: %w", err)
	}
	if evicted > 0 {
		l.logger.Debug("Evicted history entries over cap",
			zap.Int("evicted", evicted),
			zap.Int("max_entries", l.maxEntries),
		)
	}
	return entry, nil
}

// List returns all entries, oldest first.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}

// Cleanup removes entries older than maxAgeDays and returns how many were
// removed. It is independent of the length cap.
func (l *Ledger) Cleanup(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, ErrInvalidRetention
	}

	l.mu.Lock()
	cutoff := l.now().AddDate(0, 0, -maxAgeDays)
	l.mu.Unlock()

	removed, err := l.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}

	l.logger.Info("History cleanup completed",
		zap.Int("max_age_days", maxAgeDays),
		zap.Time("cutoff", cutoff),
		zap.Int("removed", removed),
	)
	return removed, nil
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
