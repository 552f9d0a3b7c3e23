package doc

// LinkMarkType is the mark type carried by reference spans.
const LinkMarkType = "unilink"

// Cached resolution states stored in link mark attributes.
const (
	StateMissing = "missing"
	StateExists  = "exists"
)

// Attribute names of a link mark.
const (
	AttrKey     = "key"
	AttrText    = "text"
	AttrVariant = "variant"
	AttrMarkID  = "markId"
	AttrState   = "state"
	AttrPageID  = "pageId"
	AttrHref    = "href"
	AttrCreated = "created"
)

// LinkAttrs is the typed view of a link mark's attributes.
type LinkAttrs struct {
	Key     string
	Text    string
	Variant string
	MarkID  string
	State   string
	PageID  string
	Href    string
	Created bool
}

// Map renders the attributes in their JSON form. Empty page id and href
// are written as null, matching what the editor produces.
func (a LinkAttrs) Map() map[string]any {
	m := map[string]any{
		AttrKey:     a.Key,
		AttrText:    a.Text,
		AttrVariant: a.Variant,
		AttrMarkID:  a.MarkID,
		AttrState:   a.State,
		AttrPageID:  nil,
		AttrHref:    nil,
		AttrCreated: a.Created,
	}
	if a.PageID != "" {
		m[AttrPageID] = a.PageID
	}
	if a.Href != "" {
		m[AttrHref] = a.Href
	}
	return m
}

// Mark wraps the attributes in a link mark.
func (a LinkAttrs) Mark() Mark {
	return Mark{Type: LinkMarkType, Attrs: a.Map()}
}

// LinkAttrsFrom reads a link mark's attributes. Fields with unexpected
// JSON types read as their zero value; ok is false for other mark types.
func LinkAttrsFrom(m Mark) (LinkAttrs, bool) {
	if m.Type != LinkMarkType {
		return LinkAttrs{}, false
	}
	created, _ := m.Attrs[AttrCreated].(bool)
	return LinkAttrs{
		Key:     str(m.Attrs, AttrKey),
		Text:    str(m.Attrs, AttrText),
		Variant: str(m.Attrs, AttrVariant),
		MarkID:  str(m.Attrs, AttrMarkID),
		State:   str(m.Attrs, AttrState),
		PageID:  str(m.Attrs, AttrPageID),
		Href:    str(m.Attrs, AttrHref),
		Created: created,
	}, true
}

// LinkMark returns the index and attributes of the first link mark on a
// text node.
func (n *Node) LinkMark() (int, LinkAttrs, bool) {
	if n == nil || n.Type != TypeText {
		return -1, LinkAttrs{}, false
	}
	for i, m := range n.Marks {
		if a, ok := LinkAttrsFrom(m); ok {
			return i, a, true
		}
	}
	return -1, LinkAttrs{}, false
}

func str(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}
