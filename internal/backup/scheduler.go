package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCleanupInterval is how often the retention cleaner runs.
const DefaultCleanupInterval = 24 * time.Hour

// scheduledRunTimeout bounds a single scheduled build.
const scheduledRunTimeout = 30 * time.Minute

// SnapshotSink receives every scheduled snapshot, e.g. to persist it.
type SnapshotSink func(ctx context.Context, s *Snapshot) error

// ScheduledTask is a running periodic job.
type ScheduledTask struct {
	name     string
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// Stop cancels the task and waits for an in-flight run to finish. It is
// safe to call more than once.
func (t *ScheduledTask) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

// Done is closed once the task has exited.
func (t *ScheduledTask) Done() <-chan struct{} {
	return t.done
}

// Interval returns the period between runs.
func (t *ScheduledTask) Interval() time.Duration {
	return t.interval
}

// Status returns the time and error of the last run and the run count.
func (t *ScheduledTask) Status() (lastRun time.Time, lastErr error, runs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun, t.lastErr, t.runs
}

func (t *ScheduledTask) record(at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRun = at
	t.lastErr = err
	t.runs++
}

// ScheduleAutomaticSnapshots builds a global snapshot every interval until
// the task is stopped or ctx is done. Each snapshot is handed to sink when
// sink is non-nil.
func (m *Manager) ScheduleAutomaticSnapshots(ctx context.Context, interval time.Duration, sink SnapshotSink) (*ScheduledTask, error) {
	return m.schedule(ctx, "snapshot", interval, func(ctx context.Context) error {
		runCtx, cancel := context.WithTimeout(ctx, scheduledRunTimeout)
		defer cancel()

		snap, err := m.CreateSnapshot(runCtx, "", ReasonScheduled)
		if err != nil {
			return err
		}
		if sink != nil {
			if err := sink(runCtx, snap); err != nil {
				return fmt.Errorf("failed to deliver scheduled snapshot: %w", err)
			}
		}
		m.logger.Info("Scheduled snapshot completed",
			zap.Int("records", snap.Metadata.TotalRecords),
			zap.String("digest", snap.Metadata.Digest),
		)
		return nil
	})
}

// RetentionHook prunes data kept outside the ledger, such as stored
// snapshot artifacts, that is older than cutoff.
type RetentionHook func(ctx context.Context, cutoff time.Time) error

// StartRetentionCleaner prunes history every interval using the current
// retention horizon, then runs hooks with the same cutoff.
func (m *Manager) StartRetentionCleaner(ctx context.Context, interval time.Duration, hooks ...RetentionHook) (*ScheduledTask, error) {
	if interval == 0 {
		interval = DefaultCleanupInterval
	}
	return m.schedule(ctx, "retention", interval, func(ctx context.Context) error {
		days := m.RetentionDays()
		if _, err := m.CleanupHistory(ctx, days); err != nil {
			return err
		}
		cutoff := m.now().AddDate(0, 0, -days)
		var errs []error
		for _, hook := range hooks {
			if err := hook(ctx, cutoff); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

func (m *Manager) schedule(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) (*ScheduledTask, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid %s interval: %s", name, interval)
	}

	task := &ScheduledTask{
		name:     name,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-task.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	m.logger.Info("Starting scheduled task",
		zap.String("task", name),
		zap.Duration("interval", interval),
	)

	go func() {
		defer close(task.done)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				m.logger.Info("Scheduled task stopped", zap.String("task", name))
				return
			case <-ticker.C:
				err := run(runCtx)
				task.record(m.now(), err)
				if err != nil && !errors.Is(err, ErrCancelled) {
					m.metrics.ScheduledRunFailed()
					m.logger.Error("Scheduled task failed",
						zap.String("task", name),
						zap.Error(err),
					)
				}
			}
		}
	}()

	return task, nil
}
