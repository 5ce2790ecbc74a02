package messaging

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

type memoryThread struct {
	thread   Thread
	messages []Message
}

type memoryRepository struct {
	mu       sync.RWMutex
	threads  map[string]*memoryThread
	byID     map[string]Message
	clientID map[string]string
	blocks   map[string]mapset.Set[string]
}

// NewMemoryRepository builds the in-process store used in dev mode and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		threads:  make(map[string]*memoryThread),
		byID:     make(map[string]Message),
		clientID: make(map[string]string),
		blocks:   make(map[string]mapset.Set[string]),
	}
}

func clientKey(sender, clientMsgID string) string { return sender + "\x00" + clientMsgID }

func (r *memoryRepository) Append(_ context.Context, msg Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ClientMsgID != "" {
		if id, ok := r.clientID[clientKey(msg.Sender, msg.ClientMsgID)]; ok {
			return r.current(id), ErrDuplicateMessage
		}
	}
	t, ok := r.threads[msg.ThreadID]
	if !ok {
		a, b, _ := Participants(msg.ThreadID)
		t = &memoryThread{thread: Thread{ID: msg.ThreadID, Participants: [2]string{a, b}}}
		r.threads[msg.ThreadID] = t
	}
	t.thread.LastSeq++
	t.thread.UpdatedAt = msg.SentAt
	msg.Seq = t.thread.LastSeq
	t.messages = append(t.messages, msg)
	r.byID[msg.ID] = msg
	if msg.ClientMsgID != "" {
		r.clientID[clientKey(msg.Sender, msg.ClientMsgID)] = msg.ID
	}
	return msg, nil
}

// current returns the latest copy of a message, including read stamps.
func (r *memoryRepository) current(id string) Message {
	m := r.byID[id]
	if t, ok := r.threads[m.ThreadID]; ok && m.Seq > 0 && int(m.Seq) <= len(t.messages) {
		return t.messages[m.Seq-1]
	}
	return m
}

func (r *memoryRepository) GetMessage(_ context.Context, id string) (Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byID[id]; !ok {
		return Message{}, ErrMessageNotFound
	}
	return r.current(id), nil
}

func (r *memoryRepository) BySenderClientID(_ context.Context, sender, clientMsgID string) (Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.clientID[clientKey(sender, clientMsgID)]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return r.current(id), nil
}

func (r *memoryRepository) Messages(_ context.Context, threadID string, afterSeq int64, limit int) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[threadID]
	if !ok {
		return nil, nil
	}
	start := int(max(afterSeq, 0))
	if start >= len(t.messages) {
		return nil, nil
	}
	end := min(start+limit, len(t.messages))
	return append([]Message(nil), t.messages[start:end]...), nil
}

func (r *memoryRepository) unread(t *memoryThread, username string) int {
	n := 0
	for _, m := range t.messages {
		if m.Recipient == username && m.ReadAt == nil {
			n++
		}
	}
	return n
}

func (r *memoryRepository) Threads(_ context.Context, username string) ([]ThreadSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ThreadSummary
	for _, t := range r.threads {
		if t.thread.Participants[0] != username && t.thread.Participants[1] != username {
			continue
		}
		th := t.thread
		if n := len(t.messages); n > 0 {
			last := t.messages[n-1]
			th.LastMessage = &last
		}
		out = append(out, ThreadSummary{Thread: th, With: Other(th.ID, username), Unread: r.unread(t, username)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memoryRepository) MarkRead(_ context.Context, threadID, reader string, uptoSeq int64, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[threadID]
	if !ok {
		return 0, nil
	}
	n := 0
	for i := range t.messages {
		m := &t.messages[i]
		if m.Recipient != reader || m.ReadAt != nil || (uptoSeq > 0 && m.Seq > uptoSeq) {
			continue
		}
		stamp := at
		m.ReadAt = &stamp
		n++
	}
	return n, nil
}

func (r *memoryRepository) UnreadCounts(_ context.Context, username string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for id, t := range r.threads {
		if n := r.unread(t, username); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

func (r *memoryRepository) Search(_ context.Context, username, query string, limit int) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	needle := strings.ToLower(query)
	var out []Message
	for _, t := range r.threads {
		if t.thread.Participants[0] != username && t.thread.Participants[1] != username {
			continue
		}
		for _, m := range t.messages {
			if strings.Contains(strings.ToLower(m.Body), needle) {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) Block(_ context.Context, blocker, blocked string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.blocks[blocker]
	if !ok {
		set = mapset.NewThreadUnsafeSet[string]()
		r.blocks[blocker] = set
	}
	set.Add(blocked)
	return nil
}

func (r *memoryRepository) Unblock(_ context.Context, blocker, blocked string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.blocks[blocker]; ok {
		set.Remove(blocked)
	}
	return nil
}

func (r *memoryRepository) Blocked(_ context.Context, blocker string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.blocks[blocker]
	if !ok {
		return nil, nil
	}
	out := set.ToSlice()
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepository) Totals(_ context.Context) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads), len(r.byID), nil
}
