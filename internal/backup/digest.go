package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
)

const digestPrefix = "sha256:"

// ComputeDigest hashes collections in a canonical form: collection names
// sorted, records in their stored order, record fields sorted by key.
func ComputeDigest(collections map[string][]gateway.Record) (string, error) {
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte{'{'})
	for i, name := range names {
		if i > 0 {
			h.Write([]byte{','})
		}
		key, _ := json.Marshal(name)
		h.Write(key)
		h.Write([]byte{':', '['})
		for j, rec := range collections[name] {
			if j > 0 {
				h.Write([]byte{','})
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return "", fmt.Errorf("failed to encode %s record %d for digest: %w", name, j, err)
			}
			h.Write(data)
		}
		h.Write([]byte{']'})
	}
	h.Write([]byte{'}'})

	return digestPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
