package queue

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var placeholderCardIDs = map[string]struct{}{
	"unknown":     {},
	"placeholder": {},
	"tbd":         {},
	"pending":     {},
	"none":        {},
	"n/a":         {},
}

// IsPlaceholderCardID reports whether id is missing or a stand-in value that
// still needs reconciliation against the canonical catalog.
func IsPlaceholderCardID(id string) bool {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if normalized == "" {
		return true
	}
	if _, ok := placeholderCardIDs[normalized]; ok {
		return true
	}
	return strings.HasPrefix(normalized, "placeholder") || strings.HasPrefix(normalized, "tmp-")
}

func reconciliationFor(cmCardID string) string {
	if IsPlaceholderCardID(cmCardID) {
		return ReconciliationPending
	}
	return ReconciliationResolved
}

func normalizeText(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

// Normalize returns a copy with trimmed NFC strings and deduplicated variant tags.
func (t TruthCore) Normalize() TruthCore {
	out := TruthCore{
		Name:        normalizeText(t.Name),
		HP:          t.HP,
		CollectorNo: normalizeText(t.CollectorNo),
		SetName:     normalizeText(t.SetName),
		SetSize:     t.SetSize,
	}
	seen := make(map[string]struct{}, len(t.VariantTags))
	for _, tag := range t.VariantTags {
		tag = normalizeText(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out.VariantTags = append(out.VariantTags, tag)
	}
	return out
}

// Validate checks the fields an accepted job must carry.
func (t TruthCore) Validate() error {
	if t.Name == "" {
		return validation("truth core", "name is required")
	}
	if t.HP < 0 {
		return validation("truth core", "hp must not be negative")
	}
	if t.SetSize < 0 {
		return validation("truth core", "set size must not be negative")
	}
	return nil
}
