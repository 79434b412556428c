// Package gateway defines the generic entity access the backup subsystem
// reads from and replays into, together with in-memory and SQL adapters.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// PrimaryKey is the field every record is keyed by.
const PrimaryKey = "id"

// Record is a single entity with an open, collection-specific field set.
type Record map[string]any

// ID returns the normalized primary key of the record.
func (r Record) ID() (string, bool) {
	v, ok := r[PrimaryKey]
	if !ok || v == nil {
		return "", false
	}
	key := KeyString(v)
	return key, key != ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter restricts a fetch to records whose Field equals Value.
// The zero Filter matches everything.
type Filter struct {
	Field string
	Value string
}

// IsZero reports whether the filter matches every record.
func (f Filter) IsZero() bool {
	return f.Field == ""
}

// Gateway is the narrow CRUD surface over named entity collections.
// Upsert has insert-or-update semantics keyed by PrimaryKey and never deletes.
type Gateway interface {
	Fetch(ctx context.Context, collection string, filter Filter) ([]Record, error)
	Upsert(ctx context.Context, collection string, records []Record) error
}

// KeyString normalizes a key value so that 7, 7.0, "7" and json.Number("7")
// compare equal.
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return KeyString(float64(t))
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
