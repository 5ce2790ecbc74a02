package realtime

import (
	"context"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

const (
	sendBuffer = 64
	seenWindow = 256
)

// Client is one websocket connection of a user.
type Client struct {
	ID       string
	Username string
	send     func([]byte) error

	mu        sync.Mutex
	closed    bool
	sendChan  chan []byte
	threads   map[string]*threadLog
	seen      mapset.Set[string]
	seenOrder []string
}

// threadLog records which seqs of one thread reached a connection: every seq
// up to floor, plus the seqs in above. Gaps in above are seqs that were
// dropped or have not arrived yet, and stay deliverable.
type threadLog struct {
	floor   int64
	highest int64
	above   mapset.Set[int64]
}

func (l *threadLog) has(seq int64) bool {
	return seq <= l.floor || l.above.Contains(seq)
}

func (l *threadLog) mark(seq int64) {
	if seq > l.highest {
		l.highest = seq
	}
	if seq <= l.floor {
		return
	}
	l.above.Add(seq)
	l.compact()
}

// raise records that the client holds every seq up to seq.
func (l *threadLog) raise(seq int64) {
	if seq <= l.floor {
		return
	}
	l.floor = seq
	if seq > l.highest {
		l.highest = seq
	}
	for _, s := range l.above.ToSlice() {
		if s <= seq {
			l.above.Remove(s)
		}
	}
	l.compact()
}

func (l *threadLog) compact() {
	for l.above.Contains(l.floor + 1) {
		l.floor++
		l.above.Remove(l.floor)
	}
	// A client that never resyncs leaves gaps behind; give up on the oldest.
	for l.above.Cardinality() > seenWindow {
		lowest := l.highest
		for _, s := range l.above.ToSlice() {
			lowest = min(lowest, s)
		}
		l.floor = lowest
		l.above.Remove(lowest)
		for l.above.Contains(l.floor + 1) {
			l.floor++
			l.above.Remove(l.floor)
		}
	}
}

// NewClient wraps a connection writer. send is called from a single goroutine.
func NewClient(username string, send func([]byte) error) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Username: username,
		send:     send,
		sendChan: make(chan []byte, sendBuffer),
		threads:  make(map[string]*threadLog),
		seen:     mapset.NewThreadUnsafeSet[string](),
	}
}

func (c *Client) thread(id string) *threadLog {
	l, ok := c.threads[id]
	if !ok {
		l = &threadLog{above: mapset.NewThreadUnsafeSet[int64]()}
		c.threads[id] = l
	}
	return l
}

// duplicate reports whether e already reached the client. Caller holds c.mu.
func (c *Client) duplicate(e Event) bool {
	if e.Sequenced() {
		l, ok := c.threads[e.ThreadID]
		return ok && l.has(e.Seq)
	}
	return c.seen.Contains(e.ID)
}

// record marks e as delivered once it is queued. Caller holds c.mu.
func (c *Client) record(e Event) {
	if e.Sequenced() {
		c.thread(e.ThreadID).mark(e.Seq)
		return
	}
	c.seen.Add(e.ID)
	c.seenOrder = append(c.seenOrder, e.ID)
	if len(c.seenOrder) > seenWindow {
		c.seen.Remove(c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
}

// Acknowledge records that the client already holds every seq of the thread
// up to afterSeq, as a sync request states.
func (c *Client) Acknowledge(threadID string, afterSeq int64) {
	if threadID == "" || afterSeq <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thread(threadID).raise(afterSeq)
}

// Delivered returns the highest seq delivered for the thread.
func (c *Client) Delivered(threadID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.threads[threadID]; ok {
		return l.highest
	}
	return 0
}

// Reply queues a raw frame, bypassing de-duplication. Used for op acks.
func (c *Client) Reply(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.sendChan <- msg:
		return true
	default:
		return false
	}
}

// Hub routes events to the connections of their recipients.
type Hub struct {
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	clients map[string]mapset.Set[*Client]
}

// NewHub builds an idle hub. Call Run to start routing.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, sendBuffer),
		done:       make(chan struct{}),
		clients:    make(map[string]mapset.Set[*Client]),
	}
}

// Run routes events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.Username]
			if !ok {
				set = mapset.NewThreadUnsafeSet[*Client]()
				h.clients[client.Username] = set
			}
			set.Add(client)
			h.mu.Unlock()
			go h.pump(client)
			h.logger.Debug("client connected", slog.String("client_id", client.ID), slog.String("username", client.Username))
		case client := <-h.unregister:
			h.drop(client)
		case event := <-h.broadcast:
			h.route(event)
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		all := h.clients
		h.clients = make(map[string]mapset.Set[*Client])
		h.mu.Unlock()
		for _, set := range all {
			for _, c := range set.ToSlice() {
				closeClient(c)
			}
		}
	})
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if set, ok := h.clients[client.Username]; ok {
		set.Remove(client)
		if set.Cardinality() == 0 {
			delete(h.clients, client.Username)
		}
	}
	h.mu.Unlock()
	closeClient(client)
	h.logger.Debug("client disconnected", slog.String("client_id", client.ID), slog.String("username", client.Username))
}

func closeClient(c *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.sendChan)
	}
}

func (h *Hub) pump(c *Client) {
	for msg := range c.sendChan {
		if err := c.send(msg); err != nil {
			h.Unregister(c)
			// Drain so a blocked route never waits on a dead connection.
			for range c.sendChan {
			}
			return
		}
	}
}

func (h *Hub) route(e Event) {
	h.mu.RLock()
	var targets []*Client
	for _, name := range e.Recipients {
		if set, ok := h.clients[name]; ok {
			targets = append(targets, set.ToSlice()...)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.Deliver(c, e)
	}
}

// Deliver enqueues an event for one client after de-duplication. It reports
// whether the event was queued. Only queued events count as delivered, so a
// dropped event can be delivered again by a later sync.
func (h *Hub) Deliver(c *Client, e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.duplicate(e) {
		return false
	}
	msg, err := frame(e)
	if err != nil {
		h.logger.Error("encode event frame", slog.String("event_id", e.ID), slog.Any("error", err))
		return false
	}
	select {
	case c.sendChan <- msg:
		c.record(e)
		return true
	default:
		h.logger.Warn("client send buffer full, dropping event",
			slog.String("client_id", c.ID), slog.String("event_id", e.ID), slog.String("type", e.Type))
		return false
	}
}

// Replay answers a sync request: the client holds every seq of threadID up to
// afterSeq, and events are the ones after it. Events already queued to the
// client are skipped. It returns the number of events queued.
func (h *Hub) Replay(c *Client, threadID string, afterSeq int64, events []Event) int {
	c.Acknowledge(threadID, afterSeq)
	queued := 0
	for _, e := range events {
		if h.Deliver(c, e) {
			queued++
		}
	}
	return queued
}

// Register attaches a client. It is a no-op once the hub has stopped.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		closeClient(c)
	}
}

// Unregister detaches a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch hands an event to the routing loop.
func (h *Hub) Dispatch(e Event) {
	select {
	case h.broadcast <- e:
	case <-h.done:
	}
}

// Online reports the number of live connections of a user.
func (h *Hub) Online(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if set, ok := h.clients[username]; ok {
		return set.Cardinality()
	}
	return 0
}
