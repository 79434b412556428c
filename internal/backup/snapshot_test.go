package backup

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
)

func TestSnapshot_WireFormRoundTrip(t *testing.T) {
	s := sealedSnapshot(t, map[string][]gateway.Record{
		"properties": {{"id": "p1", "name": "Seaside Inn", "floors": 3}},
		"rooms":      {{"id": "r1", "property_id": "p1", "rate": 45.5}},
	})
	s.Metadata.Scope = "p1"

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &top))
	for _, field := range []string{"createdAt", "formatVersion", "metadata", "properties", "rooms", "guests", "payments"} {
		assert.Contains(t, top, field)
	}
	assert.Contains(t, string(top["metadata"]), `"dataIntegrity":"sha256:`)
	assert.True(t, strings.HasPrefix(string(data), `{"createdAt":"2026-03-04T10:30:00Z","formatVersion":"2.0","properties":`))

	parsed, err := ParseSnapshot(data)
	require.NoError(t, err)
	assert.True(t, parsed.CreatedAt.Equal(s.CreatedAt))
	assert.Equal(t, s.FormatVersion, parsed.FormatVersion)
	assert.Equal(t, s.Metadata, parsed.Metadata)
	assert.Equal(t, s.CollectionNames(), parsed.CollectionNames())
	assert.Equal(t, json.Number("3"), parsed.Collections["properties"][0]["floors"])

	digest, err := ComputeDigest(parsed.Collections)
	require.NoError(t, err)
	assert.Equal(t, s.Metadata.Digest, digest)
}

func TestParseSnapshot_KeepsUnknownCollections(t *testing.T) {
	parsed, err := ParseSnapshot([]byte(`{"formatVersion":"2.0","rooms":[],"invoices":[{"id":1}],"metadata":{}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"rooms", "invoices"}, parsed.CollectionNames())
	assert.Len(t, parsed.Collections["invoices"], 1)
}

func TestParseSnapshot_RecordsMalformedCollections(t *testing.T) {
	parsed, err := ParseSnapshot([]byte(`{"rooms":5,"guests":null,"payments":[1,2],"metadata":{}}`))
	require.NoError(t, err)

	malformed := parsed.MalformedFields()
	assert.Equal(t, "number", malformed["rooms"])
	assert.Equal(t, "null", malformed["guests"])
	assert.Equal(t, "array with non-object elements", malformed["payments"])
	assert.Empty(t, parsed.Collections)
}

func TestParseSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not json", "not a snapshot"},
		{"array", `[]`},
		{"truncated", `{"rooms":[{"id":1}`},
		{"bad createdAt", `{"createdAt":"yesterday"}`},
		{"numeric version", `{"formatVersion":2}`},
		{"metadata not object", `{"metadata":[]}`},
		{"trailing data", `{} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParseFailed)

			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestComputeDigest(t *testing.T) {
	base := map[string][]gateway.Record{
		"properties": {{"id": "p1", "name": "Seaside"}},
		"rooms":      {{"id": "r1", "property_id": "p1"}, {"id": "r2", "property_id": "p1"}},
	}
	want, err := ComputeDigest(base)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(want, "sha256:"))

	t.Run("deterministic", func(t *testing.T) {
		again, err := ComputeDigest(base)
		require.NoError(t, err)
		assert.Equal(t, want, again)
	})

	t.Run("collection and field order do not matter", func(t *testing.T) {
		permuted := map[string][]gateway.Record{}
		permuted["rooms"] = []gateway.Record{{"property_id": "p1", "id": "r1"}, {"property_id": "p1", "id": "r2"}}
		permuted["properties"] = []gateway.Record{{"name": "Seaside", "id": "p1"}}

		got, err := ComputeDigest(permuted)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("record order matters", func(t *testing.T) {
		reordered := map[string][]gateway.Record{
			"properties": base["properties"],
			"rooms":      {base["rooms"][1], base["rooms"][0]},
		}
		got, err := ComputeDigest(reordered)
		require.NoError(t, err)
		assert.NotEqual(t, want, got)
	})

	t.Run("mutation changes digest", func(t *testing.T) {
		mutated := map[string][]gateway.Record{
			"properties": {{"id": "p1", "name": "Seasidf"}},
			"rooms":      base["rooms"],
		}
		got, err := ComputeDigest(mutated)
		require.NoError(t, err)
		assert.NotEqual(t, want, got)
	})

	t.Run("decoded numbers hash like native numbers", func(t *testing.T) {
		native, err := ComputeDigest(map[string][]gateway.Record{"rooms": {{"id": 7, "rate": 45.5}}})
		require.NoError(t, err)
		decoded, err := ComputeDigest(map[string][]gateway.Record{"rooms": {{"id": json.Number("7"), "rate": json.Number("45.5")}}})
		require.NoError(t, err)
		assert.Equal(t, native, decoded)
	})
}
