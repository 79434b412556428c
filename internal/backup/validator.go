package backup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
)

// IssueKind classifies a validation finding.
type IssueKind string

const (
	KindVersionMismatch     IssueKind = "VersionMismatch"
	KindMissingCollection   IssueKind = "MissingCollection"
	KindRecordCountMismatch IssueKind = "RecordCountMismatch"
	KindDigestMismatch      IssueKind = "DigestMismatch"
	KindDanglingReference   IssueKind = "DanglingReference"
	KindMissingPrimaryKey   IssueKind = "MissingPrimaryKey"
)

// Severity of an issue. Only errors make a snapshot invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	Severity   Severity  `json:"severity"`
	Collection string    `json:"collection,omitempty"`
	RecordID   string    `json:"recordId,omitempty"`
	Message    string    `json:"message"`
}

// ValidationReport is the outcome of validating a snapshot.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Issues   []Issue  `json:"issues"`
	// DanglingCounts maps "child.field->parent" to the number of records
	// whose reference did not resolve.
	DanglingCounts map[string]int `json:"danglingCounts,omitempty"`
}

func newReport() *ValidationReport {
	return &ValidationReport{
		Errors:   []string{},
		Warnings: []string{},
		Issues:   []Issue{},
	}
}

func (r *ValidationReport) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
	if issue.Severity == SeverityError {
		r.Errors = append(r.Errors, issue.Message)
	} else {
		r.Warnings = append(r.Warnings, issue.Message)
	}
}

// HasIssue reports whether the report contains an issue of kind.
func (r *ValidationReport) HasIssue(kind IssueKind) bool {
	for _, issue := range r.Issues {
		if issue.Kind == kind {
			return true
		}
	}
	return false
}

// IssueKinds lists the kind of every issue, in report order.
func (r *ValidationReport) IssueKinds() []string {
	kinds := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		kinds[i] = string(issue.Kind)
	}
	return kinds
}

// Validator checks snapshots against a catalog and a supported format version.
type Validator struct {
	catalog       *Catalog
	formatVersion string
}

// NewValidator creates a validator.
func NewValidator(catalog *Catalog, formatVersion string) *Validator {
	if formatVersion == "" {
		formatVersion = DefaultFormatVersion
	}
	return &Validator{catalog: catalog, formatVersion: formatVersion}
}

// Validate runs, in order: version, structure, record count, digest,
// referential and primary key checks.
func (v *Validator) Validate(s *Snapshot) *ValidationReport {
	report := newReport()
	if s == nil {
		report.add(Issue{
			Kind:     KindMissingCollection,
			Severity: SeverityError,
			Message:  "snapshot is empty",
		})
		return report
	}

	v.checkVersion(s, report)
	v.checkStructure(s, report)
	v.checkRecordCount(s, report)
	v.checkDigest(s, report)
	v.checkReferences(s, report)
	v.checkPrimaryKeys(s, report)

	report.Valid = len(report.Errors) == 0
	return report
}

func (v *Validator) checkVersion(s *Snapshot, report *ValidationReport) {
	if s.FormatVersion == v.formatVersion {
		return
	}
	report.add(Issue{
		Kind:     KindVersionMismatch,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("format version %q differs from supported version %q", s.FormatVersion, v.formatVersion),
	})
}

func (v *Validator) checkStructure(s *Snapshot, report *ValidationReport) {
	malformed := s.MalformedFields()
	for _, name := range v.catalog.Names() {
		if kind, ok := malformed[name]; ok {
			report.add(Issue{
				Kind:       KindMissingCollection,
				Severity:   SeverityError,
				Collection: name,
				Message:    fmt.Sprintf("collection %q is not a record array (found %s)", name, kind),
			})
			continue
		}
		if _, ok := s.Collections[name]; !ok {
			report.add(Issue{
				Kind:       KindMissingCollection,
				Severity:   SeverityError,
				Collection: name,
				Message:    fmt.Sprintf("missing required collection %q", name),
			})
		}
	}
}

func (v *Validator) checkRecordCount(s *Snapshot, report *ValidationReport) {
	actual := s.CountRecords()
	if actual == s.Metadata.TotalRecords {
		return
	}
	report.add(Issue{
		Kind:     KindRecordCountMismatch,
		Severity: SeverityError,
		Message:  fmt.Sprintf("metadata declares %d records but collections hold %d", s.Metadata.TotalRecords, actual),
	})
}

func (v *Validator) checkDigest(s *Snapshot, report *ValidationReport) {
	digest, err := ComputeDigest(s.Collections)
	if err != nil {
		report.add(Issue{
			Kind:     KindDigestMismatch,
			Severity: SeverityError,
			Message:  fmt.Sprintf("integrity digest could not be computed: %v", err),
		})
		return
	}
	if digest == s.Metadata.Digest {
		return
	}
	report.add(Issue{
		Kind:     KindDigestMismatch,
		Severity: SeverityError,
		Message:  "integrity digest mismatch: snapshot may be corrupted or tampered",
	})
}

func (v *Validator) checkReferences(s *Snapshot, report *ValidationReport) {
	parentKeys := make(map[string]map[string]struct{})
	keysOf := func(parent string) (map[string]struct{}, bool) {
		if keys, ok := parentKeys[parent]; ok {
			return keys, true
		}
		records, ok := s.Collections[parent]
		if !ok {
			return nil, false
		}
		keys := make(map[string]struct{}, len(records))
		for _, rec := range records {
			if id, ok := rec.ID(); ok {
				keys[id] = struct{}{}
			}
		}
		parentKeys[parent] = keys
		return keys, true
	}

	for _, spec := range v.catalog.Specs() {
		if len(spec.Refs) == 0 {
			continue
		}
		for i, rec := range s.Collections[spec.Name] {
			var dangling []string
			for _, ref := range spec.Refs {
				value, present := rec[ref.Field]
				if !present || value == nil {
					continue
				}
				keys, ok := keysOf(ref.Parent)
				if !ok {
					// Missing parent collections are reported by the structure check.
					continue
				}
				key := gateway.KeyString(value)
				if _, found := keys[key]; found {
					continue
				}
				dangling = append(dangling, fmt.Sprintf("%s=%s (%s)", ref.Field, key, ref.Parent))
				if report.DanglingCounts == nil {
					report.DanglingCounts = make(map[string]int)
				}
				report.DanglingCounts[spec.Name+"."+ref.Field+"->"+ref.Parent]++
			}
			if len(dangling) == 0 {
				continue
			}

			id := recordLabel(rec, i)
			report.add(Issue{
				Kind:       KindDanglingReference,
				Severity:   SeverityWarning,
				Collection: spec.Name,
				RecordID:   id,
				Message: fmt.Sprintf("%s record %s references missing parent: %s",
					spec.Name, id, strings.Join(dangling, ", ")),
			})
		}
	}
}

func (v *Validator) checkPrimaryKeys(s *Snapshot, report *ValidationReport) {
	for _, name := range s.CollectionNames() {
		missing := 0
		for _, rec := range s.Collections[name] {
			if _, ok := rec.ID(); !ok {
				missing++
			}
		}
		if missing == 0 {
			continue
		}
		report.add(Issue{
			Kind:       KindMissingPrimaryKey,
			Severity:   SeverityWarning,
			Collection: name,
			Message:    fmt.Sprintf("%s has %d records without %q; they cannot be restored", name, missing, gateway.PrimaryKey),
		})
	}
}

// DanglingSummary returns the dangling counts as sorted "relation: n" lines.
func (r *ValidationReport) DanglingSummary() []string {
	lines := make([]string, 0, len(r.DanglingCounts))
	for relation, n := range r.DanglingCounts {
		lines = append(lines, fmt.Sprintf("%s: %d", relation, n))
	}
	sort.Strings(lines)
	return lines
}

func recordLabel(rec gateway.Record, index int) string {
	if id, ok := rec.ID(); ok {
		return id
	}
	return fmt.Sprintf("#%d", index)
}
