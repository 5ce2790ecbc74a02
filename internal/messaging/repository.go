package messaging

import (
	"context"
	"time"
)

// Repository persists threads, messages and blocks.
type Repository interface {
	// Append stores msg as the next message of its thread, creating the thread
	// when needed, and returns it with Seq set. A repeated (sender,
	// client_msg_id) pair returns the stored message and ErrDuplicateMessage.
	Append(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	BySenderClientID(ctx context.Context, sender, clientMsgID string) (Message, error)
	// Messages lists a thread's messages with seq > afterSeq, ascending.
	Messages(ctx context.Context, threadID string, afterSeq int64, limit int) ([]Message, error)
	// Threads lists the user's threads, most recently updated first.
	Threads(ctx context.Context, username string) ([]ThreadSummary, error)
	// MarkRead stamps unread messages addressed to reader with seq <= uptoSeq
	// (0 means all) and returns how many changed.
	MarkRead(ctx context.Context, threadID, reader string, uptoSeq int64, at time.Time) (int, error)
	UnreadCounts(ctx context.Context, username string) (map[string]int, error)
	// Search matches body text within the user's threads, newest first.
	Search(ctx context.Context, username, query string, limit int) ([]Message, error)

	Block(ctx context.Context, blocker, blocked string) error
	Unblock(ctx context.Context, blocker, blocked string) error
	Blocked(ctx context.Context, blocker string) ([]string, error)

	Totals(ctx context.Context) (threads int, messages int, err error)
}
