package links

import (
	"strings"

	"github.com/starford/linkgraph/internal/doc"
)

// Extract walks the tree depth-first and returns one entry per link span,
// numbered by emission order. It never fails: marks with an unknown
// variant, no annotation id, or no usable key are skipped.
//
// Adjacent sibling text nodes carrying the same annotation id are one
// span split by formatting (a partly bold reference) and yield one entry.
func Extract(root *doc.Node) []Extracted {
	var (
		out      []Extracted
		prevID   string
		prevPath doc.Path
	)
	doc.Walk(root, func(n *doc.Node, path doc.Path) bool {
		ref, ok := fromSpan(n)
		if !ok {
			prevID, prevPath = "", path
			return true
		}
		merged := ref.AnnotationID == prevID && nextSibling(prevPath, path)
		prevID, prevPath = ref.AnnotationID, path
		if !merged {
			ref.Position = len(out)
			out = append(out, ref)
		}
		return true
	})
	return out
}

// nextSibling reports whether b directly follows a under the same parent.
func nextSibling(a, b doc.Path) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	last := len(a) - 1
	for i := range last {
		if a[i] != b[i] {
			return false
		}
	}
	return a[last]+1 == b[last]
}

func fromSpan(n *doc.Node) (Extracted, bool) {
	_, attrs, ok := n.LinkMark()
	if !ok || attrs.MarkID == "" {
		return Extracted{}, false
	}
	variant, ok := ParseVariant(attrs.Variant)
	if !ok {
		return Extracted{}, false
	}

	raw := strings.TrimSpace(attrs.Text)
	if raw == "" {
		raw = spanText(n.Text, variant)
	}
	key := NormalizeKey(attrs.Key)
	if key == "" {
		key = NormalizeKey(raw)
	}
	if key == "" {
		return Extracted{}, false
	}
	if raw == "" {
		raw = key
	}

	ref := Extracted{
		Key:          key,
		RawText:      raw,
		AnnotationID: attrs.MarkID,
		Variant:      variant,
	}
	if attrs.State == doc.StateExists {
		ref.TargetPageID = attrs.PageID
	}
	return ref, true
}

// spanText strips the variant's literal syntax from a span's visible text.
func spanText(s string, v Variant) string {
	s = strings.TrimSpace(s)
	switch v {
	case VariantTag:
		return strings.TrimPrefix(s, "#")
	case VariantBracket:
		s = strings.TrimPrefix(strings.TrimPrefix(s, "["), "[")
		return strings.TrimSuffix(strings.TrimSuffix(s, "]"), "]")
	}
	return s
}
