package messaging

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Message kinds.
const (
	KindText          = "text"
	KindCustomRequest = "custom_request"
	KindSystem        = "system"
)

const (
	maxBodyLength = 5000
	defaultLimit  = 50
	maxLimit      = 200
)

var (
	ErrSelfMessage       = errors.New("cannot message yourself")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrInvalidBody       = errors.New("message body must be between 1 and 5000 characters")
	ErrSenderBanned      = errors.New("sender is banned")
	ErrBlocked           = errors.New("messaging between these users is blocked")
	ErrDuplicateMessage  = errors.New("duplicate client message id")
	ErrMessagePending    = errors.New("a message with this client id is still being sent, retry later")
	ErrNotParticipant    = errors.New("not a participant of this thread")
	ErrMessageNotFound   = errors.New("message not found")
	ErrSelfBlock         = errors.New("cannot block yourself")
	ErrEmptyQuery        = errors.New("search query is required")
)

// Message is one entry in a thread. Seq is assigned by the store and grows by
// one per message within a thread.
type Message struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	Seq         int64      `json:"seq"`
	Sender      string     `json:"sender"`
	Recipient   string     `json:"recipient"`
	Body        string     `json:"body"`
	Kind        string     `json:"kind"`
	RequestID   string     `json:"request_id,omitempty"`
	ClientMsgID string     `json:"client_msg_id,omitempty"`
	SentAt      time.Time  `json:"sent_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// Thread groups the messages exchanged by two users.
type Thread struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	LastSeq      int64     `json:"last_seq"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ThreadSummary is a thread as listed for one of its participants.
type ThreadSummary struct {
	Thread
	With   string `json:"with"`
	Unread int    `json:"unread"`
}

// UnreadSummary aggregates unread counts for a user.
type UnreadSummary struct {
	Total   int            `json:"total"`
	Threads map[string]int `json:"threads"`
}

// SendInput is a user-authored message.
type SendInput struct {
	SenderID    string
	Sender      string
	Recipient   string
	Body        string
	ClientMsgID string
}

// ThreadID derives the thread key for two usernames: lowercased, sorted and
// joined with ':', so either side produces the same id.
func ThreadID(a, b string) string {
	pair := []string{strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// Participants splits a thread id back into its two usernames.
func Participants(threadID string) (string, string, bool) {
	a, b, ok := strings.Cut(threadID, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// Other returns the participant of threadID that is not username.
func Other(threadID, username string) string {
	a, b, _ := Participants(threadID)
	if a == username {
		return b
	}
	return a
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}
