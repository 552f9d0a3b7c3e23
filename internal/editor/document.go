// Package editor holds documents open in editing sessions.
//
// An open Document owns an in-memory tree that changes only through
// transactions. Each transaction is applied to a copy and swapped in whole,
// so readers and subscribers never see a partly applied change, and it
// becomes one entry in the undo history.
package editor

import (
	"errors"
	"sync"

	"github.com/starford/linkgraph/internal/doc"
)

// ErrClosed is returned when dispatching to a closed document.
var ErrClosed = errors.New("editor: document closed")

const maxUndo = 100

// SetMarkAttrs merges Attrs into the link mark of every span whose
// annotation id is MarkID.
type SetMarkAttrs struct {
	MarkID string         `json:"mark_id"`
	Attrs  map[string]any `json:"attrs"`
}

// Transaction is a group of steps applied atomically.
type Transaction struct {
	Steps []SetMarkAttrs `json:"steps"`
	// Origin names who dispatched the transaction, for subscribers.
	Origin string `json:"origin,omitempty"`
}

// Change is delivered to subscribers once per applied transaction.
type Change struct {
	PageID  string `json:"page_id"`
	Version int    `json:"version"`
	Spans   int    `json:"spans"`
	Origin  string `json:"origin,omitempty"`
}

// Document is a page open for editing.
type Document struct {
	pageID string

	mu      sync.Mutex
	root    *doc.Node
	version int
	undo    []*doc.Node
	subs    map[int]func(Change)
	nextSub int
	closed  bool
}

// NewDocument opens root for editing. The document keeps its own copy.
func NewDocument(pageID string, root *doc.Node) *Document {
	if root == nil {
		root = doc.Empty()
	}
	return &Document{pageID: pageID, root: root.Clone(), subs: map[int]func(Change){}}
}

// PageID returns the id of the page this document edits.
func (d *Document) PageID() string { return d.pageID }

// Snapshot returns a copy of the current tree.
func (d *Document) Snapshot() *doc.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root.Clone()
}

// Version increments once per applied transaction.
func (d *Document) Version() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Dispatch applies tx and returns the number of spans it changed. A
// transaction that matches no span leaves the document, its version and
// its history untouched.
func (d *Document) Dispatch(tx Transaction) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	next := d.root.Clone()
	spans := applySteps(next, tx.Steps)
	if spans == 0 {
		d.mu.Unlock()
		return 0, nil
	}
	change := d.commit(next, spans, tx.Origin)
	subs := d.subscribers()
	d.mu.Unlock()

	notify(subs, change)
	return spans, nil
}

// Replace swaps in a new tree, as when the client sends edited content.
func (d *Document) Replace(root *doc.Node, origin string) error {
	if root == nil {
		root = doc.Empty()
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	change := d.commit(root.Clone(), 0, origin)
	subs := d.subscribers()
	d.mu.Unlock()

	notify(subs, change)
	return nil
}

// Undo reverts the most recent change. It reports false when there is
// nothing to undo.
func (d *Document) Undo() (bool, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false, ErrClosed
	}
	if len(d.undo) == 0 {
		d.mu.Unlock()
		return false, nil
	}
	d.root = d.undo[len(d.undo)-1]
	d.undo = d.undo[:len(d.undo)-1]
	d.version++
	change := Change{PageID: d.pageID, Version: d.version, Origin: "undo"}
	subs := d.subscribers()
	d.mu.Unlock()

	notify(subs, change)
	return true, nil
}

// UndoDepth returns how many changes can be undone.
func (d *Document) UndoDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.undo)
}

// Subscribe registers fn for changes. Call the returned func to stop.
func (d *Document) Subscribe(fn func(Change)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Close rejects further transactions and drops subscribers.
func (d *Document) Close() {
	d.mu.Lock()
	d.closed = true
	d.subs = map[int]func(Change){}
	d.mu.Unlock()
}

// commit must be called with d.mu held.
func (d *Document) commit(next *doc.Node, spans int, origin string) Change {
	d.undo = append(d.undo, d.root)
	if len(d.undo) > maxUndo {
		d.undo = d.undo[len(d.undo)-maxUndo:]
	}
	d.root = next
	d.version++
	return Change{PageID: d.pageID, Version: d.version, Spans: spans, Origin: origin}
}

// subscribers must be called with d.mu held.
func (d *Document) subscribers() []func(Change) {
	out := make([]func(Change), 0, len(d.subs))
	for _, fn := range d.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}

func applySteps(root *doc.Node, steps []SetMarkAttrs) int {
	if len(steps) == 0 {
		return 0
	}
	byID := make(map[string]map[string]any, len(steps))
	for _, s := range steps {
		if s.MarkID == "" {
			continue
		}
		merged := byID[s.MarkID]
		if merged == nil {
			merged = map[string]any{}
			byID[s.MarkID] = merged
		}
		for k, v := range s.Attrs {
			merged[k] = v
		}
	}

	spans := 0
	doc.Walk(root, func(n *doc.Node, _ doc.Path) bool {
		idx, attrs, ok := n.LinkMark()
		if !ok {
			return true
		}
		set, ok := byID[attrs.MarkID]
		if !ok {
			return true
		}
		m := n.Marks[idx].Attrs
		if m == nil {
			m = map[string]any{}
			n.Marks[idx].Attrs = m
		}
		for k, v := range set {
			m[k] = v
		}
		spans++
		return true
	})
	return spans
}
