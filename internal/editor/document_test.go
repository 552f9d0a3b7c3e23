package editor

import (
	"errors"
	"sync"
	"testing"

	"github.com/starford/linkgraph/internal/doc"
)

func span(text, markID string) *doc.Node {
	return doc.Text(text, doc.LinkAttrs{Key: text, Text: text, Variant: "bracket", MarkID: markID, State: doc.StateMissing}.Mark())
}

func attrsOf(t *testing.T, root *doc.Node, markID string) []doc.LinkAttrs {
	t.Helper()
	var out []doc.LinkAttrs
	doc.Walk(root, func(n *doc.Node, _ doc.Path) bool {
		if _, a, ok := n.LinkMark(); ok && a.MarkID == markID {
			out = append(out, a)
		}
		return true
	})
	return out
}

func resolveStep(markID string) SetMarkAttrs {
	return SetMarkAttrs{MarkID: markID, Attrs: map[string]any{doc.AttrState: doc.StateExists, doc.AttrPageID: "page-9"}}
}

func TestDispatch_AppliesAtomically(t *testing.T) {
	d := NewDocument("p1", doc.New(doc.Paragraph(span("a", "m1"), span("b", "m2"))))

	var changes []Change
	d.Subscribe(func(c Change) { changes = append(changes, c) })

	n, err := d.Dispatch(Transaction{Steps: []SetMarkAttrs{resolveStep("m1"), resolveStep("m2")}, Origin: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("spans = %d, want 2", n)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change notification, got %d", len(changes))
	}
	if changes[0].Version != 1 || changes[0].Origin != "test" {
		t.Errorf("change = %+v", changes[0])
	}
	if d.UndoDepth() != 1 {
		t.Errorf("undo depth = %d, want 1", d.UndoDepth())
	}
	for _, id := range []string{"m1", "m2"} {
		a := attrsOf(t, d.Snapshot(), id)
		if len(a) != 1 || a[0].State != doc.StateExists || a[0].PageID != "page-9" {
			t.Errorf("%s attrs = %+v", id, a)
		}
		if a[0].Key == "" {
			t.Errorf("%s lost its key", id)
		}
	}
}

func TestDispatch_NoMatchIsNoop(t *testing.T) {
	d := NewDocument("p1", doc.New(doc.Paragraph(span("a", "m1"))))
	notified := false
	d.Subscribe(func(Change) { notified = true })

	n, err := d.Dispatch(Transaction{Steps: []SetMarkAttrs{resolveStep("other")}})
	if err != nil || n != 0 {
		t.Fatalf("Dispatch = %d, %v", n, err)
	}
	if d.Version() != 0 || d.UndoDepth() != 0 || notified {
		t.Error("no-op transaction must not change the document")
	}
}

func TestUndo(t *testing.T) {
	d := NewDocument("p1", doc.New(doc.Paragraph(span("a", "m1"))))
	if _, err := d.Dispatch(Transaction{Steps: []SetMarkAttrs{resolveStep("m1")}}); err != nil {
		t.Fatal(err)
	}
	ok, err := d.Undo()
	if err != nil || !ok {
		t.Fatalf("Undo = %v, %v", ok, err)
	}
	if a := attrsOf(t, d.Snapshot(), "m1"); a[0].State != doc.StateMissing {
		t.Errorf("state after undo = %q", a[0].State)
	}
	if ok, _ := d.Undo(); ok {
		t.Error("second undo should report nothing to undo")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	root := doc.New(doc.Paragraph(span("a", "m1")))
	d := NewDocument("p1", root)
	root.Content = nil

	snap := d.Snapshot()
	snap.Content[0].Content[0].Text = "mutated"
	if d.Snapshot().Content[0].Content[0].Text != "a" {
		t.Error("snapshot mutation leaked into the document")
	}
}

func TestClosedDocument(t *testing.T) {
	d := NewDocument("p1", doc.Empty())
	d.Close()
	if _, err := d.Dispatch(Transaction{Steps: []SetMarkAttrs{resolveStep("m1")}}); !errors.Is(err, ErrClosed) {
		t.Errorf("Dispatch err = %v, want ErrClosed", err)
	}
	if err := d.Replace(doc.Empty(), ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Replace err = %v, want ErrClosed", err)
	}
}

func TestConcurrentReadersSeeWholeTransactions(t *testing.T) {
	var inline []*doc.Node
	var steps []SetMarkAttrs
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		inline = append(inline, span(id, id))
		steps = append(steps, resolveStep(id))
	}
	d := NewDocument("p1", doc.New(doc.Paragraph(inline...)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 50 {
			resolved := 0
			doc.Walk(d.Snapshot(), func(n *doc.Node, _ doc.Path) bool {
				if _, a, ok := n.LinkMark(); ok && a.State == doc.StateExists {
					resolved++
				}
				return true
			})
			if resolved != 0 && resolved != 4 {
				t.Errorf("observed partial transaction: %d of 4 resolved", resolved)
				return
			}
		}
	}()
	if _, err := d.Dispatch(Transaction{Steps: steps}); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
}

func TestWorkspace(t *testing.T) {
	w := NewWorkspace()
	d1, opened := w.Open("s1", "p1", doc.Empty())
	if !opened {
		t.Fatal("expected new document")
	}
	again, opened := w.Open("s1", "p1", doc.Empty())
	if opened || again != d1 {
		t.Error("reopening must return the open document")
	}
	w.Open("s1", "p2", doc.Empty())
	w.Open("s2", "p1", doc.Empty())

	if got := len(w.Documents("s1")); got != 2 {
		t.Errorf("s1 documents = %d, want 2", got)
	}
	if n := w.ClosePage("p1"); n != 2 {
		t.Errorf("ClosePage closed %d, want 2", n)
	}
	if _, ok := w.Get("s2", "p1"); ok {
		t.Error("p1 still open in s2")
	}
	if _, err := d1.Dispatch(Transaction{}); !errors.Is(err, ErrClosed) {
		t.Errorf("closed document accepted dispatch: %v", err)
	}
	if !w.Close("s1", "p2") || w.Close("s1", "p2") {
		t.Error("Close should report true once")
	}
	if len(w.Documents("s1")) != 0 {
		t.Error("session s1 should be empty")
	}
}
