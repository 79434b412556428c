package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)

	kv, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
		"badger": kv,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func TestLedger_RecordEventFillsDefaults(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			l := New(zaptest.NewLogger(t), store, 10)
			l.SetClock(fixedClock(now))

			entry, err := l.RecordEvent(ctx, Entry{Scope: "p1", Reason: "manual", RecordCount: 7})
			require.NoError(t, err)
			assert.NotEmpty(t, entry.ID)
			assert.True(t, entry.Timestamp.Equal(now))

			entries, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, entry.ID, entries[0].ID)
			assert.Equal(t, "p1", entries[0].Scope)
			assert.Equal(t, "manual", entries[0].Reason)
			assert.Equal(t, 7, entries[0].RecordCount)
			assert.True(t, entries[0].Timestamp.Equal(now))
		})
	}
}

func TestLedger_CapEvictsOldestFirst(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			l := New(zaptest.NewLogger(t), store, 3)

			for i := 0; i < 5; i++ {
				_, err := l.RecordEvent(ctx, Entry{
					Timestamp:   base.Add(time.Duration(i) * time.Hour),
					Reason:      "scheduled",
					RecordCount: i,
				})
				require.NoError(t, err)
			}

			entries, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, 2, entries[0].RecordCount)
			assert.Equal(t, 3, entries[1].RecordCount)
			assert.Equal(t, 4, entries[2].RecordCount)
		})
	}
}

func TestLedger_CleanupRemovesOnlyEntriesPastHorizon(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)
			l := New(zaptest.NewLogger(t), store, DefaultMaxEntries)
			l.SetClock(fixedClock(now))

			for _, age := range []int{1, 10, 40} {
				_, err := l.RecordEvent(ctx, Entry{
					Timestamp:   now.AddDate(0, 0, -age),
					Reason:      "manual",
					RecordCount: age,
				})
				require.NoError(t, err)
			}

			removed, err := l.Cleanup(ctx, 30)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			entries, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, 10, entries[0].RecordCount)
			assert.Equal(t, 1, entries[1].RecordCount)

			removed, err = l.Cleanup(ctx, 30)
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestLedger_CleanupRejectsNegativeHorizon(t *testing.T) {
	l := New(zaptest.NewLogger(t), NewMemoryStore(), 0)

	_, err := l.Cleanup(context.Background(), -1)
	assert.ErrorIs(t, err, ErrInvalidRetention)
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		config  StoreConfig
		wantErr bool
	}{
		{"default", StoreConfig{}, false},
		{"sqlite in memory", StoreConfig{Driver: "sqlite"}, false},
		{"badger in memory", StoreConfig{Driver: "badger"}, false},
		{"sqlite file", StoreConfig{Driver: "sqlite", Path: t.TempDir() + "/history.db"}, false},
		{"unknown", StoreConfig{Driver: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := OpenStore(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, store.Close())
		})
	}
}

func TestStores_OrderPreEpochEntriesFirst(t *testing.T) {
	ctx := context.Background()
	stamps := []time.Time{
		time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		time.Date(1969, 7, 20, 20, 17, 0, 0, time.UTC),
		time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 0, 0, time.UTC),
	}

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i, ts := range stamps {
				require.NoError(t, store.Append(ctx, Entry{ID: string(rune('a' + i)), Timestamp: ts, Reason: "manual"}))
			}

			entries, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 4)
			assert.True(t, entries[0].Timestamp.Equal(stamps[2]))
			assert.True(t, entries[1].Timestamp.Equal(stamps[1]))
			assert.True(t, entries[3].Timestamp.Equal(stamps[0]))

			removed, err := store.PruneBefore(ctx, time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			evicted, err := store.Trim(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, 1, evicted)

			entries, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.True(t, entries[0].Timestamp.Equal(stamps[0]))
		})
	}
}
