package gateway

import (
	"context"
	"fmt"
	"sync"
)

// MemoryGateway keeps collections in process memory. Fetch returns records
// in first-insert order.
type MemoryGateway struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
}

type memoryTable struct {
	order []string
	rows  map[string]Record
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{tables: make(map[string]*memoryTable)}
}

// Fetch returns copies of the records of a collection matching filter.
func (g *MemoryGateway) Fetch(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	table, ok := g.tables[collection]
	if !ok {
		return []Record{}, nil
	}

	out := make([]Record, 0, len(table.order))
	for _, id := range table.order {
		rec := table.rows[id]
		if !filter.IsZero() && KeyString(rec[filter.Field]) != filter.Value {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Upsert inserts or replaces records by primary key. The batch is applied
// all-or-nothing.
func (g *MemoryGateway) Upsert(ctx context.Context, collection string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		id, ok := rec.ID()
		if !ok {
			return fmt.Errorf("%s: record %d has no %q", collection, i, PrimaryKey)
		}
		ids[i] = id
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	table, ok := g.tables[collection]
	if !ok {
		table = &memoryTable{rows: make(map[string]Record)}
		g.tables[collection] = table
	}
	for i, rec := range records {
		if _, exists := table.rows[ids[i]]; !exists {
			table.order = append(table.order, ids[i])
		}
		table.rows[ids[i]] = rec.Clone()
	}
	return nil
}

// Count returns the number of records stored in a collection.
func (g *MemoryGateway) Count(collection string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if table, ok := g.tables[collection]; ok {
		return len(table.rows)
	}
	return 0
}
