package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository on PostgreSQL. Sequence numbers
// come from threads.last_seq, bumped under the row lock of the UPDATE.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed message store.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const messageColumns = `id, thread_id, seq, sender, recipient, body, kind, request_id, client_msg_id, sent_at, read_at`

func (r *PostgresRepository) Append(ctx context.Context, msg Message) (Message, error) {
	a, b, ok := Participants(msg.ThreadID)
	if !ok {
		return Message{}, fmt.Errorf("invalid thread id %q", msg.ThreadID)
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO threads (id, user_a, user_b, last_seq, updated_at)
        VALUES ($1, $2, $3, 0, $4) ON CONFLICT (id) DO NOTHING`, msg.ThreadID, a, b, msg.SentAt.UTC()); err != nil {
		return Message{}, err
	}
	if err := tx.QueryRow(ctx, `UPDATE threads SET last_seq = last_seq + 1, updated_at = $2
        WHERE id = $1 RETURNING last_seq`, msg.ThreadID, msg.SentAt.UTC()).Scan(&msg.Seq); err != nil {
		return Message{}, err
	}
	_, err = tx.Exec(ctx, `INSERT INTO messages (`+messageColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.ThreadID, msg.Seq, msg.Sender, msg.Recipient, msg.Body, msg.Kind,
		msg.RequestID, msg.ClientMsgID, msg.SentAt.UTC(), msg.ReadAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && msg.ClientMsgID != "" {
		_ = tx.Rollback(ctx)
		existing, lookupErr := r.BySenderClientID(ctx, msg.Sender, msg.ClientMsgID)
		if lookupErr != nil {
			return Message{}, lookupErr
		}
		return existing, ErrDuplicateMessage
	}
	if err != nil {
		return Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (r *PostgresRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Message{}, ErrMessageNotFound
	}
	return scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (r *PostgresRepository) BySenderClientID(ctx context.Context, sender, clientMsgID string) (Message, error) {
	return scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE sender = $1 AND client_msg_id = $2`, sender, clientMsgID))
}

func (r *PostgresRepository) Messages(ctx context.Context, threadID string, afterSeq int64, limit int) ([]Message, error) {
	rows, err := r.db.Query(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE thread_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`, threadID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PostgresRepository) Threads(ctx context.Context, username string) ([]ThreadSummary, error) {
	rows, err := r.db.Query(ctx, `SELECT t.id, t.user_a, t.user_b, t.last_seq, t.updated_at,
            (SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id AND m.recipient = $1 AND m.read_at IS NULL)
        FROM threads t WHERE t.user_a = $1 OR t.user_b = $1
        ORDER BY t.updated_at DESC`, username)
	if err != nil {
		return nil, err
	}
	var out []ThreadSummary
	for rows.Next() {
		var s ThreadSummary
		if err := rows.Scan(&s.ID, &s.Participants[0], &s.Participants[1], &s.LastSeq, &s.UpdatedAt, &s.Unread); err != nil {
			rows.Close()
			return nil, err
		}
		s.UpdatedAt = s.UpdatedAt.UTC()
		s.With = Other(s.ID, username)
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		last, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages
            WHERE thread_id = $1 AND seq = $2`, out[i].ID, out[i].LastSeq))
		if err == nil {
			out[i].LastMessage = &last
		} else if !errors.Is(err, ErrMessageNotFound) {
			return nil, err
		}
	}
	return out, nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, threadID, reader string, uptoSeq int64, at time.Time) (int, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE messages SET read_at = $3
        WHERE thread_id = $1 AND recipient = $2 AND read_at IS NULL AND ($4 = 0 OR seq <= $4)`,
		threadID, reader, at.UTC(), uptoSeq)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *PostgresRepository) UnreadCounts(ctx context.Context, username string) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT thread_id, COUNT(*) FROM messages
        WHERE recipient = $1 AND read_at IS NULL GROUP BY thread_id`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Search(ctx context.Context, username, query string, limit int) ([]Message, error) {
	pattern := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(query) + "%"
	rows, err := r.db.Query(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE (sender = $1 OR recipient = $1) AND body ILIKE $2
        ORDER BY sent_at DESC LIMIT $3`, username, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PostgresRepository) Block(ctx context.Context, blocker, blocked string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO blocks (blocker, blocked) VALUES ($1, $2) ON CONFLICT DO NOTHING`, blocker, blocked)
	return err
}

func (r *PostgresRepository) Unblock(ctx context.Context, blocker, blocked string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM blocks WHERE blocker = $1 AND blocked = $2`, blocker, blocked)
	return err
}

func (r *PostgresRepository) Blocked(ctx context.Context, blocker string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT blocked FROM blocks WHERE blocker = $1 ORDER BY blocked`, blocker)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PostgresRepository) Totals(ctx context.Context) (int, int, error) {
	var threads, messages int
	err := r.db.QueryRow(ctx, `SELECT (SELECT COUNT(*) FROM threads), (SELECT COUNT(*) FROM messages)`).Scan(&threads, &messages)
	return threads, messages, err
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m  Message
		id uuid.UUID
	)
	err := row.Scan(&id, &m.ThreadID, &m.Seq, &m.Sender, &m.Recipient, &m.Body, &m.Kind,
		&m.RequestID, &m.ClientMsgID, &m.SentAt, &m.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}
	m.ID = id.String()
	m.SentAt = m.SentAt.UTC()
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
