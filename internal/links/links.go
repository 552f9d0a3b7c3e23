// Package links extracts typed references from rich-text documents.
package links

import (
	"fmt"
	"strings"
	"unicode"
)

// Variant is the syntactic form of a reference.
type Variant uint8

const (
	// VariantBracket is a free-form bracketed reference: [Target] or [[Target]].
	VariantBracket Variant = iota + 1
	// VariantTag is a hash-prefixed keyword: #target.
	VariantTag
)

// ParseVariant maps an attribute value to a Variant. An empty value is
// treated as a bracket reference, which is what older documents carry.
func ParseVariant(s string) (Variant, bool) {
	switch s {
	case "", "bracket":
		return VariantBracket, true
	case "tag":
		return VariantTag, true
	}
	return 0, false
}

func (v Variant) String() string {
	switch v {
	case VariantBracket:
		return "bracket"
	case VariantTag:
		return "tag"
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

// MarshalText implements encoding.TextMarshaler.
func (v Variant) MarshalText() ([]byte, error) {
	switch v {
	case VariantBracket, VariantTag:
		return []byte(v.String()), nil
	}
	return nil, fmt.Errorf("links: unknown variant %d", uint8(v))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Variant) UnmarshalText(b []byte) error {
	parsed, ok := ParseVariant(string(b))
	if !ok {
		return fmt.Errorf("links: unknown variant %q", b)
	}
	*v = parsed
	return nil
}

// NormalizeKey lowercases s and collapses runs of whitespace to a single space.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}

// Extracted is one reference found in a document. It is not persisted.
type Extracted struct {
	Key          string  `json:"key"`
	RawText      string  `json:"raw_text"`
	AnnotationID string  `json:"annotation_id"`
	Position     int     `json:"position"`
	Variant      Variant `json:"variant"`
	// TargetPageID is the page id the editor cached on the span, if the
	// span was marked as resolved when the document was saved.
	TargetPageID string `json:"target_page_id,omitempty"`
}

// Keys returns the distinct keys of refs in first-seen order.
func Keys(refs []Extracted) []string {
	seen := make(map[string]struct{}, len(refs))
	var out []string
	for _, r := range refs {
		if _, ok := seen[r.Key]; ok {
			continue
		}
		seen[r.Key] = struct{}{}
		out = append(out, r.Key)
	}
	return out
}
