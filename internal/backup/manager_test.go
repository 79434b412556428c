package backup

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
	"github.com/bagoessprasetyo/property-management-sub001/internal/ledger"
	"github.com/bagoessprasetyo/property-management-sub001/internal/monitoring"
)

func newTestManager(t *testing.T, g gateway.Gateway, config Config) (*Manager, *ledger.Ledger) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	hist := ledger.New(logger, ledger.NewMemoryStore(), 0)

	m, err := NewManager(logger, g, hist, config, WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	return m, hist
}

func TestManager_SnapshotFileName(t *testing.T) {
	m, _ := newTestManager(t, gateway.NewMemoryGateway(), DefaultConfig())

	assert.Equal(t, "pms_backup_all_2026-03-04.json", m.SnapshotFileName("", fixedTime))
	assert.Equal(t, "pms_backup_p1_2026-03-04.json", m.SnapshotFileName("p1", fixedTime))
	assert.Equal(t, "pms_backup_a-b_2026-03-04.json", m.SnapshotFileName("a/../b", fixedTime))
}

func TestManager_DownloadAndRestoreFromFile(t *testing.T) {
	ctx := context.Background()
	source := gateway.NewMemoryGateway()
	seedStore(t, source)
	m, _ := newTestManager(t, source, DefaultConfig())

	var buf bytes.Buffer
	name, err := m.DownloadSnapshot(ctx, "", "", &buf)
	require.NoError(t, err)
	assert.Equal(t, "pms_backup_all_2026-03-04.json", name)

	target := gateway.NewMemoryGateway()
	restorer, _ := newTestManager(t, target, DefaultConfig())
	result, err := restorer.RestoreFromFile(ctx, buf.Bytes(), RestoreOptions{
		ValidateIntegrity:       true,
		CreateSafetyBackupFirst: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 14, result.RestoredRecords)
	assert.Equal(t, 5, target.Count("rooms"))

	history, err := restorer.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ReasonPreRestore, history[0].Reason)
	assert.Zero(t, history[0].RecordCount)
}

func TestManager_RestoreFromFileParseFailure(t *testing.T) {
	m, _ := newTestManager(t, gateway.NewMemoryGateway(), DefaultConfig())

	result, err := m.RestoreFromFile(context.Background(), []byte("{not json"), RestoreOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseFailed)
	assert.False(t, result.Success)
	assert.Len(t, result.Errors, 1)
	assert.Zero(t, result.RestoredRecords)
}

func TestManager_ValidateSnapshot(t *testing.T) {
	g := gateway.NewMemoryGateway()
	seedRoomsOnly(t, g)
	m, _ := newTestManager(t, g, DefaultConfig())

	snap, err := m.CreateSnapshot(context.Background(), "", ReasonManual)
	require.NoError(t, err)

	report := m.ValidateSnapshot(snap)
	assert.True(t, report.Valid)

	snap.Collections["rooms"][0]["number"] = "999"
	report = m.ValidateSnapshot(snap)
	assert.False(t, report.Valid)
	assert.True(t, report.HasIssue(KindDigestMismatch))
}

func TestManager_HistoryAndCleanup(t *testing.T) {
	ctx := context.Background()
	g := gateway.NewMemoryGateway()
	seedRoomsOnly(t, g)
	m, hist := newTestManager(t, g, DefaultConfig())
	hist.SetClock(func() time.Time { return fixedTime })

	_, err := m.CreateSnapshot(ctx, "", ReasonManual)
	require.NoError(t, err)
	_, err = m.CreateSnapshot(ctx, "p1", ReasonEmergency)
	require.NoError(t, err)
	_, err = hist.RecordEvent(ctx, ledger.Entry{Timestamp: fixedTime.AddDate(0, 0, -40), Reason: ReasonScheduled})
	require.NoError(t, err)

	entries, err := m.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ReasonScheduled, entries[0].Reason)
	assert.Equal(t, "p1", entries[2].Scope)
	assert.Equal(t, 4, entries[2].RecordCount)

	removed, err := m.CleanupHistory(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestManager_SizeCeilingCanChange(t *testing.T) {
	g := gateway.NewMemoryGateway()
	seedStore(t, g)
	m, _ := newTestManager(t, g, DefaultConfig())

	m.SetMaxSnapshotBytes(128)
	_, err := m.CreateSnapshot(context.Background(), "", ReasonManual)
	assert.ErrorIs(t, err, ErrSizeExceeded)

	m.SetMaxSnapshotBytes(DefaultMaxSnapshotBytes)
	_, err = m.CreateSnapshot(context.Background(), "", ReasonManual)
	assert.NoError(t, err)
}

func TestManager_ScheduleAutomaticSnapshots(t *testing.T) {
	g := gateway.NewMemoryGateway()
	seedRoomsOnly(t, g)
	m, _ := newTestManager(t, g, DefaultConfig())

	var delivered atomic.Int32
	task, err := m.ScheduleAutomaticSnapshots(context.Background(), 10*time.Millisecond,
		func(_ context.Context, s *Snapshot) error {
			assert.Equal(t, ReasonScheduled, s.Metadata.ExportReason)
			delivered.Add(1)
			return nil
		})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return delivered.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	task.Stop()
	task.Stop()

	after := delivered.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, delivered.Load())

	_, lastErr, runs := task.Status()
	assert.NoError(t, lastErr)
	assert.GreaterOrEqual(t, runs, 2)

	entries, err := m.ListHistory(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)
}

func TestManager_ScheduleStopsWithContext(t *testing.T) {
	m, _ := newTestManager(t, gateway.NewMemoryGateway(), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	task, err := m.StartRetentionCleaner(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, task.Interval())

	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after context cancellation")
	}
}

func TestManager_ScheduleRejectsBadInterval(t *testing.T) {
	m, _ := newTestManager(t, gateway.NewMemoryGateway(), DefaultConfig())

	_, err := m.ScheduleAutomaticSnapshots(context.Background(), 0, nil)
	assert.Error(t, err)
}

func TestManager_RestoreWaitsForBuildOnSameScope(t *testing.T) {
	g := gateway.NewMemoryGateway()
	m, _ := newTestManager(t, g, DefaultConfig())

	release, err := m.locks.Acquire(context.Background(), "p1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, err := m.RestoreSnapshot(ctx, sealedSnapshot(t, nil), RestoreOptions{Scope: "p1"})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, result.Cancelled)

	release()
	result, err = m.RestoreSnapshot(context.Background(), sealedSnapshot(t, nil), RestoreOptions{Scope: "p1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestManager_RestoreLockTimeoutIsReported(t *testing.T) {
	metrics := monitoring.NewBackupMetrics("test")
	m, err := NewManager(zaptest.NewLogger(t), gateway.NewMemoryGateway(), nil, DefaultConfig(), WithMetrics(metrics))
	require.NoError(t, err)

	release, err := m.locks.Acquire(context.Background(), "")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, err := m.RestoreSnapshot(ctx, sealedSnapshot(t, nil), RestoreOptions{Scope: "p1"})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, result.Cancelled)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `waiting for scope "p1"`)
	assert.Equal(t, 1.0, metricValue(t, metrics, "test_backup_restores_total", "result", "cancelled"))
}

func TestNewManager_RejectsUnknownPolicy(t *testing.T) {
	config := DefaultConfig()
	config.RestorePolicy = "sometimes"

	_, err := NewManager(zaptest.NewLogger(t), gateway.NewMemoryGateway(), nil, config)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestManager_RetentionCleanerRunsHooks(t *testing.T) {
	config := DefaultConfig()
	config.RetentionDays = 7
	m, _ := newTestManager(t, gateway.NewMemoryGateway(), config)

	cutoffs := make(chan time.Time, 4)
	task, err := m.StartRetentionCleaner(context.Background(), 10*time.Millisecond,
		func(_ context.Context, cutoff time.Time) error {
			select {
			case cutoffs <- cutoff:
			default:
			}
			return nil
		})
	require.NoError(t, err)
	defer task.Stop()

	select {
	case cutoff := <-cutoffs:
		assert.Equal(t, fixedTime.AddDate(0, 0, -7), cutoff)
	case <-time.After(2 * time.Second):
		t.Fatal("retention hook did not run")
	}
}
