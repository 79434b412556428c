package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
)

// DefaultFormatVersion is the snapshot schema version written and expected.
const DefaultFormatVersion = "2.0"

// Snapshot reasons.
const (
	ReasonManual     = "manual"
	ReasonScheduled  = "scheduled"
	ReasonPreRestore = "pre_restore_backup"
	ReasonEmergency  = "emergency"
)

// Top-level document fields that are not collections.
const (
	fieldCreatedAt     = "createdAt"
	fieldFormatVersion = "formatVersion"
	fieldMetadata      = "metadata"
)

// Metadata describes a snapshot's content and provenance.
type Metadata struct {
	TotalRecords int    `json:"totalRecords"`
	Digest       string `json:"dataIntegrity"`
	ExportedBy   string `json:"exportedBy"`
	ExportReason string `json:"exportReason"`
	Scope        string `json:"scope,omitempty"`
}

// Snapshot is a point-in-time export of entity collections. On the wire it is
// a single JSON object with one array-valued field per collection.
type Snapshot struct {
	CreatedAt     time.Time
	FormatVersion string
	Collections   map[string][]gateway.Record
	Metadata      Metadata

	order     []string
	malformed map[string]string
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot(createdAt time.Time, formatVersion string) *Snapshot {
	return &Snapshot{
		CreatedAt:     createdAt.UTC(),
		FormatVersion: formatVersion,
		Collections:   make(map[string][]gateway.Record),
	}
}

// SetCollection stores records under name; new names are appended to the
// output order.
func (s *Snapshot) SetCollection(name string, records []gateway.Record) {
	if s.Collections == nil {
		s.Collections = make(map[string][]gateway.Record)
	}
	if _, exists := s.Collections[name]; !exists {
		s.order = append(s.order, name)
	}
	if records == nil {
		records = []gateway.Record{}
	}
	s.Collections[name] = records
}

// CollectionNames returns collection names in document order. Collections
// added directly to the map come last, sorted.
func (s *Snapshot) CollectionNames() []string {
	names := make([]string, 0, len(s.Collections))
	seen := make(map[string]bool, len(s.Collections))
	for _, name := range s.order {
		if _, ok := s.Collections[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}

	var rest []string
	for name := range s.Collections {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// CountRecords sums the lengths of all collections.
func (s *Snapshot) CountRecords() int {
	total := 0
	for _, records := range s.Collections {
		total += len(records)
	}
	return total
}

// Seal recomputes TotalRecords and the integrity digest from Collections.
func (s *Snapshot) Seal() error {
	digest, err := ComputeDigest(s.Collections)
	if err != nil {
		return err
	}
	s.Metadata.TotalRecords = s.CountRecords()
	s.Metadata.Digest = digest
	return nil
}

// MalformedFields returns top-level fields that were present in the parsed
// document but did not hold an array of records, mapped to what they held.
func (s *Snapshot) MalformedFields() map[string]string {
	out := make(map[string]string, len(s.malformed))
	for k, v := range s.malformed {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the flat wire form with a stable field order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(name string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		buf.Write(data)
		return nil
	}

	if err := writeField(fieldCreatedAt, s.CreatedAt.UTC()); err != nil {
		return nil, err
	}
	if err := writeField(fieldFormatVersion, s.FormatVersion); err != nil {
		return nil, err
	}
	for _, name := range s.CollectionNames() {
		records := s.Collections[name]
		if records == nil {
			records = []gateway.Record{}
		}
		if err := writeField(name, records); err != nil {
			return nil, err
		}
	}
	if err := writeField(fieldMetadata, s.Metadata); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the flat wire form. Numbers are kept as json.Number
// so that re-encoding reproduces them exactly.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("snapshot must be a JSON object")
	}

	*s = Snapshot{Collections: make(map[string][]gateway.Record)}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("invalid value for %q: %w", key, err)
		}

		switch key {
		case fieldCreatedAt:
			if err := json.Unmarshal(raw, &s.CreatedAt); err != nil {
				return fmt.Errorf("invalid %s: %w", fieldCreatedAt, err)
			}
		case fieldFormatVersion:
			if err := json.Unmarshal(raw, &s.FormatVersion); err != nil {
				return fmt.Errorf("invalid %s: %w", fieldFormatVersion, err)
			}
		case fieldMetadata:
			if kind := jsonKind(raw); kind != "object" {
				return fmt.Errorf("invalid %s: expected object, got %s", fieldMetadata, kind)
			}
			if err := json.Unmarshal(raw, &s.Metadata); err != nil {
				return fmt.Errorf("invalid %s: %w", fieldMetadata, err)
			}
		default:
			records, kind := decodeRecords(raw)
			if records == nil {
				if s.malformed == nil {
					s.malformed = make(map[string]string)
				}
				s.malformed[key] = kind
				continue
			}
			s.SetCollection(key, records)
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after snapshot object")
	}
	return nil
}

// ParseSnapshot decodes a snapshot document. Failures are *ParseError.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Err: errors.New("empty document")}
	}

	var s Snapshot
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &s, nil
}

// decodeRecords returns nil and a description of the value when raw is not
// an array of objects.
func decodeRecords(raw json.RawMessage) ([]gateway.Record, string) {
	kind := jsonKind(raw)
	if kind != "array" {
		return nil, kind
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var records []gateway.Record
	if err := dec.Decode(&records); err != nil {
		return nil, "array with non-object elements"
	}
	for _, rec := range records {
		if rec == nil {
			return nil, "array with null elements"
		}
	}
	if records == nil {
		records = []gateway.Record{}
	}
	return records, kind
}

func jsonKind(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "empty"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
