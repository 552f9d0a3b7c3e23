package editor

import (
	"sort"
	"sync"

	"github.com/starford/linkgraph/internal/doc"
)

// Workspace tracks open documents per editing session.
type Workspace struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Document
}

// NewWorkspace creates an empty Workspace.
func NewWorkspace() *Workspace {
	return &Workspace{sessions: make(map[string]map[string]*Document)}
}

// Open returns the session's document for pageID, opening it from root if
// it is not open yet. The bool is true when a new document was opened.
func (w *Workspace) Open(session, pageID string, root *doc.Node) (*Document, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	docs := w.sessions[session]
	if docs == nil {
		docs = make(map[string]*Document)
		w.sessions[session] = docs
	}
	if d, ok := docs[pageID]; ok {
		return d, false
	}
	d := NewDocument(pageID, root)
	docs[pageID] = d
	return d, true
}

// Get returns an open document.
func (w *Workspace) Get(session, pageID string) (*Document, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d, ok := w.sessions[session][pageID]
	return d, ok
}

// Documents returns the session's open documents ordered by page id.
func (w *Workspace) Documents(session string) []*Document {
	w.mu.RLock()
	docs := make([]*Document, 0, len(w.sessions[session]))
	for _, d := range w.sessions[session] {
		docs = append(docs, d)
	}
	w.mu.RUnlock()
	sort.Slice(docs, func(i, j int) bool { return docs[i].PageID() < docs[j].PageID() })
	return docs
}

// Close closes one document. It reports whether the document was open.
func (w *Workspace) Close(session, pageID string) bool {
	w.mu.Lock()
	d, ok := w.sessions[session][pageID]
	if ok {
		delete(w.sessions[session], pageID)
		if len(w.sessions[session]) == 0 {
			delete(w.sessions, session)
		}
	}
	w.mu.Unlock()
	if ok {
		d.Close()
	}
	return ok
}

// CloseSession closes every document of a session.
func (w *Workspace) CloseSession(session string) {
	w.mu.Lock()
	docs := w.sessions[session]
	delete(w.sessions, session)
	w.mu.Unlock()
	for _, d := range docs {
		d.Close()
	}
}

// CloseAll closes every document of every session.
func (w *Workspace) CloseAll() {
	w.mu.Lock()
	sessions := w.sessions
	w.sessions = make(map[string]map[string]*Document)
	w.mu.Unlock()
	for _, docs := range sessions {
		for _, d := range docs {
			d.Close()
		}
	}
}

// ClosePage closes pageID in every session, as when the page is deleted.
func (w *Workspace) ClosePage(pageID string) int {
	w.mu.Lock()
	var closed []*Document
	for session, docs := range w.sessions {
		if d, ok := docs[pageID]; ok {
			closed = append(closed, d)
			delete(docs, pageID)
			if len(docs) == 0 {
				delete(w.sessions, session)
			}
		}
	}
	w.mu.Unlock()
	for _, d := range closed {
		d.Close()
	}
	return len(closed)
}
