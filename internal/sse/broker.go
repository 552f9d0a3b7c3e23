// Package sse streams page and link graph changes to browsers as
// Server-Sent Events.
//
// Every event carries a sequence id. The broker keeps a short history so
// a client reconnecting with Last-Event-ID receives what it missed, and a
// client may scope its stream to one page with ?page=<id>.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types sent to clients.
const (
	TypePageCreated  = "page.created"
	TypePageSaved    = "page.saved"
	TypePageDeleted  = "page.deleted"
	TypeLinkResolved = "link.resolved"
	// TypeLinksUpdated carries no data; clients refetch backlink panels when
	// they see it. Bursts of page changes collapse into one trailing event.
	TypeLinksUpdated = "links.updated"
)

// Page event kinds accepted by PublishPageEvent.
const (
	KindCreated = "created"
	KindSaved   = "saved"
	KindDeleted = "deleted"
)

var pageTypes = map[string]string{
	KindCreated: TypePageCreated,
	KindSaved:   TypePageSaved,
	KindDeleted: TypePageDeleted,
}

const (
	historySize  = 128
	clientBuffer = 64
	heartbeat    = 15 * time.Second
)

// LinkResolved is the data of a link.resolved event.
type LinkResolved struct {
	Key          string `json:"key"`
	GroupID      string `json:"group_id"`
	TargetPageID string `json:"target_page_id"`
	Spans        int    `json:"spans"`
}

type message struct {
	id     uint64
	typ    string
	pageID string // empty for events every client receives
	data   []byte
}

func (m message) frame() []byte {
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", m.id, m.typ, m.data)
}

type client struct {
	ch     chan []byte
	pageID string
}

func (c *client) wants(m message) bool {
	return c.pageID == "" || m.pageID == "" || m.pageID == c.pageID
}

func (c *client) offer(m message) {
	select {
	case c.ch <- m.frame():
	default:
		// Slow client; it can catch up with Last-Event-ID.
	}
}

type subscribeReq struct {
	c     *client
	after uint64
}

type publishReq struct {
	msg message
	// links schedules a links.updated event after msg.
	links bool
}

// Broker fans events out to SSE clients.
//
// One goroutine owns the client set, the history and the links.updated
// timer; public methods talk to it over channels.
type Broker struct {
	throttle time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan publishReq

	clients atomic.Int64
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. links.updated events are at least throttle
// apart; zero sends one per page change.
func NewBroker(throttle time.Duration) *Broker {
	b := &Broker{
		throttle:      max(throttle, 0),
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan publishReq, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	var (
		clients   = make(map[chan []byte]*client)
		history   []message
		seq       uint64
		lastLinks time.Time
		linksC    <-chan time.Time
	)

	emit := func(m message) {
		seq++
		m.id = seq
		history = append(history, m)
		if len(history) > historySize {
			history = history[len(history)-historySize:]
		}
		for _, c := range clients {
			if c.wants(m) {
				c.offer(m)
			}
		}
	}
	emitLinks := func() {
		lastLinks = time.Now()
		emit(message{typ: TypeLinksUpdated, data: []byte("{}")})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			b.clients.Store(0)
			return

		case req := <-b.subscribeCh:
			for _, m := range history {
				if m.id > req.after && req.c.wants(m) {
					req.c.offer(m)
				}
			}
			clients[req.c.ch] = req.c
			b.clients.Store(int64(len(clients)))

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
				b.clients.Store(int64(len(clients)))
			}

		case req := <-b.publishCh:
			emit(req.msg)
			if !req.links || linksC != nil {
				continue
			}
			if wait := b.throttle - time.Since(lastLinks); wait > 0 {
				linksC = time.After(wait)
			} else {
				emitLinks()
			}

		case <-linksC:
			linksC = nil
			emitLinks()
		}
	}
}

// Close stops the broker and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. A non-empty pageID limits the stream to
// that page's events plus global ones. Events with ids above after are
// replayed from history first.
func (b *Broker) Subscribe(pageID string, after uint64) chan []byte {
	c := &client{ch: make(chan []byte, clientBuffer), pageID: pageID}
	if b.closed.Load() {
		close(c.ch)
		return c.ch
	}
	select {
	case b.subscribeCh <- subscribeReq{c: c, after: after}:
	case <-b.stopped:
		close(c.ch)
	}
	return c.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	return int(b.clients.Load())
}

func (b *Broker) publish(typ, pageID string, data any, links bool) {
	if b.closed.Load() {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Warn("sse: encode event failed", slog.String("type", typ), slog.String("error", err.Error()))
		return
	}
	select {
	case b.publishCh <- publishReq{msg: message{typ: typ, pageID: pageID, data: payload}, links: links}:
	case <-b.stopped:
	}
}

// PublishPageEvent announces a page change and schedules links.updated.
// Unknown kinds are dropped.
func (b *Broker) PublishPageEvent(kind, pageID string) {
	typ, ok := pageTypes[kind]
	if !ok {
		return
	}
	b.publish(typ, pageID, map[string]string{"page_id": pageID}, true)
}

// PublishLinkResolved announces that a link group acquired a target page.
// Page-scoped clients of the target page receive it.
func (b *Broker) PublishLinkResolved(ev LinkResolved) {
	b.publish(TypeLinkResolved, ev.TargetPageID, ev, true)
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("page"), after)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
