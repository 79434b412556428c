package backup

import (
	"strings"

	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
)

const maskChar = '*'

var (
	defaultRemovedFields = []string{
		"password", "password_hash", "token", "access_token", "refresh_token",
		"secret", "api_key", "credentials", "pin",
	}
	defaultMaskedFields = []string{
		"id_number", "national_id", "passport_number", "ktp_number", "tax_id", "card_number",
	}
)

// SanitizerConfig extends the built-in field lists.
type SanitizerConfig struct {
	RemoveFields []string `yaml:"remove_fields"`
	MaskFields   []string `yaml:"mask_fields"`
}

// Sanitizer strips secrets and masks identification numbers in records.
// Field names match case-insensitively at any nesting depth.
type Sanitizer struct {
	remove map[string]struct{}
	mask   map[string]struct{}
}

// NewSanitizer builds a sanitizer from the defaults plus config.
func NewSanitizer(config SanitizerConfig) *Sanitizer {
	s := &Sanitizer{
		remove: make(map[string]struct{}),
		mask:   make(map[string]struct{}),
	}
	for _, f := range append(append([]string{}, defaultRemovedFields...), config.RemoveFields...) {
		s.remove[strings.ToLower(f)] = struct{}{}
	}
	for _, f := range append(append([]string{}, defaultMaskedFields...), config.MaskFields...) {
		s.mask[strings.ToLower(f)] = struct{}{}
	}
	return s
}

// Sanitize returns a sanitized deep copy of rec; rec is not modified.
func (s *Sanitizer) Sanitize(rec gateway.Record) gateway.Record {
	if rec == nil {
		return nil
	}
	return gateway.Record(s.sanitizeMap(rec))
}

// SanitizeAll sanitizes every record of a collection.
func (s *Sanitizer) SanitizeAll(records []gateway.Record) []gateway.Record {
	out := make([]gateway.Record, len(records))
	for i, rec := range records {
		out[i] = s.Sanitize(rec)
	}
	return out
}

func (s *Sanitizer) sanitizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		name := strings.ToLower(k)
		if _, ok := s.remove[name]; ok {
			continue
		}
		if _, ok := s.mask[name]; ok && v != nil {
			out[k] = MaskValue(gateway.KeyString(v))
			continue
		}
		out[k] = s.sanitizeValue(v)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(v any) any {
	switch t := v.(type) {
	case gateway.Record:
		return gateway.Record(s.sanitizeMap(t))
	case map[string]any:
		return s.sanitizeMap(t)
	case []gateway.Record:
		out := make([]gateway.Record, len(t))
		for i, rec := range t {
			out[i] = s.Sanitize(rec)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = s.sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// MaskValue keeps the first and last two characters of value and replaces
// the rest with '*'. Values of four characters or fewer are fully masked.
func MaskValue(value string) string {
	runes := []rune(value)
	n := len(runes)
	if n == 0 {
		return value
	}
	if n <= 4 {
		return strings.Repeat(string(maskChar), n)
	}
	for i := 2; i < n-2; i++ {
		runes[i] = maskChar
	}
	return string(runes)
}
