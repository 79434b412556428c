package backup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
	"github.com/bagoessprasetyo/property-management-sub001/internal/monitoring"
)

var fixedTime = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

// faultyGateway wraps a MemoryGateway with injectable failures and a log of
// write calls.
type faultyGateway struct {
	*gateway.MemoryGateway

	mu         sync.Mutex
	fetchErr   map[string]error
	upsertErr  map[string]error
	upsertLog  []string
	beforeSave func(collection string)
	afterSave  func(collection string)
}

func newFaultyGateway() *faultyGateway {
	return &faultyGateway{
		MemoryGateway: gateway.NewMemoryGateway(),
		fetchErr:      make(map[string]error),
		upsertErr:     make(map[string]error),
	}
}

func (g *faultyGateway) Fetch(ctx context.Context, collection string, filter gateway.Filter) ([]gateway.Record, error) {
	g.mu.Lock()
	err := g.fetchErr[collection]
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return g.MemoryGateway.Fetch(ctx, collection, filter)
}

func (g *faultyGateway) Upsert(ctx context.Context, collection string, records []gateway.Record) error {
	g.mu.Lock()
	g.upsertLog = append(g.upsertLog, collection)
	err := g.upsertErr[collection]
	hook, after := g.beforeSave, g.afterSave
	g.mu.Unlock()

	if hook != nil {
		hook(collection)
	}
	if err != nil {
		return err
	}
	if err := g.MemoryGateway.Upsert(ctx, collection, records); err != nil {
		return err
	}
	if after != nil {
		after(collection)
	}
	return nil
}

func (g *faultyGateway) failFetch(collection string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErr[collection] = err
}

func (g *faultyGateway) failUpsert(collection string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertErr[collection] = err
}

func (g *faultyGateway) writes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.upsertLog...)
}

func (g *faultyGateway) resetWrites() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLog = nil
}

// seedStore loads a small two-property data set:
// 2 properties, 5 rooms, 2 guests, 3 reservations, 2 payments.
func seedStore(t *testing.T, g gateway.Gateway) {
	t.Helper()
	ctx := context.Background()

	data := map[string][]gateway.Record{
		"properties": {
			{"id": "p1", "name": "Seaside Inn"},
			{"id": "p2", "name": "Hillside Lodge"},
		},
		"rooms": {
			{"id": "r1", "property_id": "p1", "number": "101"},
			{"id": "r2", "property_id": "p1", "number": "102"},
			{"id": "r3", "property_id": "p1", "number": "103"},
			{"id": "r4", "property_id": "p2", "number": "201"},
			{"id": "r5", "property_id": "p2", "number": "202"},
		},
		"guests": {
			{"id": "g1", "name": "Ana", "id_number": "3201234567890001", "password": "hunter2"},
			{"id": "g2", "name": "Budi", "passport_number": "X1234567"},
		},
		"reservations": {
			{"id": "res1", "property_id": "p1", "room_id": "r1", "guest_id": "g1"},
			{"id": "res2", "property_id": "p1", "room_id": "r2", "guest_id": "g2"},
			{"id": "res3", "property_id": "p2", "room_id": "r4", "guest_id": "g1"},
		},
		"payments": {
			{"id": "pay1", "reservation_id": "res1", "amount": 120, "card_number": "4111111111111111"},
			{"id": "pay2", "reservation_id": "res3", "amount": 80},
		},
	}
	for name, records := range data {
		require.NoError(t, g.Upsert(ctx, name, records))
	}
}

// seedRoomsOnly loads 2 properties and 5 rooms and nothing else.
func seedRoomsOnly(t *testing.T, g gateway.Gateway) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, g.Upsert(ctx, "properties", []gateway.Record{
		{"id": "p1", "name": "Seaside Inn"},
		{"id": "p2", "name": "Hillside Lodge"},
	}))
	require.NoError(t, g.Upsert(ctx, "rooms", []gateway.Record{
		{"id": "r1", "property_id": "p1", "number": "101"},
		{"id": "r2", "property_id": "p1", "number": "102"},
		{"id": "r3", "property_id": "p1", "number": "103"},
		{"id": "r4", "property_id": "p2", "number": "201"},
		{"id": "r5", "property_id": "p2", "number": "202"},
	}))
}

// sealedSnapshot builds a snapshot holding every default collection, with
// the given overrides, and a correct digest.
func sealedSnapshot(t *testing.T, overrides map[string][]gateway.Record) *Snapshot {
	t.Helper()

	s := NewSnapshot(fixedTime, DefaultFormatVersion)
	for _, name := range DefaultCatalog().Names() {
		s.SetCollection(name, overrides[name])
	}
	s.Metadata.ExportedBy = "test"
	s.Metadata.ExportReason = ReasonManual
	require.NoError(t, s.Seal())
	return s
}

// metricValue reads a counter from the metrics registry. labels are
// name/value pairs the series must carry.
func metricValue(t *testing.T, m *monitoring.BackupMetrics, name string, labels ...string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, metric := range f.GetMetric() {
			have := make(map[string]string)
			for _, l := range metric.GetLabel() {
				have[l.GetName()] = l.GetValue()
			}
			for i := 0; i+1 < len(labels); i += 2 {
				if have[labels[i]] != labels[i+1] {
					continue series
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
