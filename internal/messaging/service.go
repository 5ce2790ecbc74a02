package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/logging"
	"github.com/tradepost/tradepost/internal/moderation"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/realtime"
)

// Users resolves recipients by username.
type Users interface {
	FindByUsername(ctx context.Context, username string) (identity.User, error)
}

// BanChecker reports a user's active ban.
type BanChecker interface {
	ActiveBan(ctx context.Context, userID string) (moderation.Ban, error)
}

// Reporter files moderation reports.
type Reporter interface {
	FileReport(ctx context.Context, in moderation.ReportInput) (moderation.Report, error)
}

// Searcher is an external full-text index over messages.
type Searcher interface {
	Healthy() bool
	Index(ctx context.Context, msg Message) error
	Search(ctx context.Context, username, query string, limit int) ([]Message, error)
}

// Dependencies are the optional collaborators of the service.
type Dependencies struct {
	Dedup    Deduper
	Bans     BanChecker
	Reports  Reporter
	Search   Searcher
	Notifier notification.Notifier
	Broker   realtime.Broker
	Logger   *slog.Logger
}

// Service implements conversations between two users.
type Service struct {
	repo     Repository
	users    Users
	dedup    Deduper
	bans     BanChecker
	reports  Reporter
	searcher Searcher
	notifier notification.Notifier
	broker   realtime.Broker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the messaging service.
func NewService(repo Repository, users Users, deps Dependencies) *Service {
	if deps.Dedup == nil {
		deps.Dedup = NewMemoryDeduper(24 * time.Hour)
	}
	return &Service{
		repo:     repo,
		users:    users,
		dedup:    deps.Dedup,
		bans:     deps.Bans,
		reports:  deps.Reports,
		searcher: deps.Search,
		notifier: deps.Notifier,
		broker:   deps.Broker,
		logger:   logging.Component(deps.Logger, "messaging"),
		now:      time.Now,
	}
}

func normalize(username string) string {
	return identity.NormalizeUsername(username)
}

// Send delivers a user-authored message. With a ClientMsgID, a repeated send
// returns the original message together with ErrDuplicateMessage.
func (s *Service) Send(ctx context.Context, in SendInput) (Message, error) {
	sender, to := normalize(in.Sender), normalize(in.Recipient)
	if sender == to {
		return Message{}, ErrSelfMessage
	}
	body := moderation.Sanitize(in.Body)
	if !moderation.ValidLength(body, 1, maxBodyLength) {
		return Message{}, ErrInvalidBody
	}
	recipient, err := s.users.FindByUsername(ctx, to)
	if errors.Is(err, identity.ErrUserNotFound) {
		return Message{}, ErrRecipientNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if s.bans != nil {
		if _, err := s.bans.ActiveBan(ctx, in.SenderID); err == nil {
			return Message{}, ErrSenderBanned
		} else if !errors.Is(err, moderation.ErrNoActiveBan) {
			return Message{}, err
		}
	}
	blocked, err := s.blockedBetween(ctx, sender, to)
	if err != nil {
		return Message{}, err
	}
	if blocked {
		return Message{}, ErrBlocked
	}

	msg := Message{
		ID:          uuid.NewString(),
		ThreadID:    ThreadID(sender, to),
		Sender:      sender,
		Recipient:   to,
		Body:        body,
		Kind:        KindText,
		ClientMsgID: strings.TrimSpace(in.ClientMsgID),
		SentAt:      s.now().UTC(),
	}
	if msg.ClientMsgID == "" {
		return s.deliver(ctx, msg, recipient.ID)
	}

	key := sender + ":" + msg.ClientMsgID
	_, claimed, err := s.dedup.Claim(ctx, key, msg.ID)
	if err != nil {
		s.logger.Warn("claim dedup key", slog.String("key", key), slog.Any("error", err))
		claimed = true
	}
	if !claimed {
		existing, err := s.repo.BySenderClientID(ctx, sender, msg.ClientMsgID)
		if errors.Is(err, ErrMessageNotFound) {
			// The first send holds the key but has not been stored yet.
			return Message{}, ErrMessagePending
		}
		if err != nil {
			return Message{}, err
		}
		return existing, ErrDuplicateMessage
	}
	stored, err := s.deliver(ctx, msg, recipient.ID)
	if err != nil && !errors.Is(err, ErrDuplicateMessage) {
		if relErr := s.dedup.Release(ctx, key); relErr != nil {
			s.logger.Warn("release dedup key", slog.String("key", key), slog.Any("error", relErr))
		}
	}
	return stored, err
}

// SystemMessage posts a platform message into the thread between from and
// to. It skips ban and block checks. A non-empty requestID marks it as a
// custom request update.
func (s *Service) SystemMessage(ctx context.Context, from, to, body, requestID string) (Message, error) {
	from, to = normalize(from), normalize(to)
	if from == to {
		return Message{}, ErrSelfMessage
	}
	body = moderation.Sanitize(body)
	if !moderation.ValidLength(body, 1, maxBodyLength) {
		return Message{}, ErrInvalidBody
	}
	kind := KindSystem
	if requestID != "" {
		kind = KindCustomRequest
	}
	var recipientID string
	if u, err := s.users.FindByUsername(ctx, to); err == nil {
		recipientID = u.ID
	}
	return s.deliver(ctx, Message{
		ID:        uuid.NewString(),
		ThreadID:  ThreadID(from, to),
		Sender:    from,
		Recipient: to,
		Body:      body,
		Kind:      kind,
		RequestID: requestID,
		SentAt:    s.now().UTC(),
	}, recipientID)
}

func (s *Service) deliver(ctx context.Context, msg Message, recipientID string) (Message, error) {
	stored, err := s.repo.Append(ctx, msg)
	if err != nil {
		return stored, err
	}
	if s.searcher != nil && s.searcher.Healthy() {
		if err := s.searcher.Index(ctx, stored); err != nil {
			s.logger.Warn("index message", slog.String("message_id", stored.ID), slog.Any("error", err))
		}
	}
	if s.notifier != nil && recipientID != "" {
		if err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindNewMessage,
			Destination: recipientID,
			Ref:         stored.ThreadID,
			Body:        "New message from " + stored.Sender,
		}); err != nil {
			s.logger.Warn("notify recipient", slog.String("message_id", stored.ID), slog.Any("error", err))
		}
	}
	if e, err := messageEvent(stored, stored.Sender, stored.Recipient); err == nil {
		s.publish(ctx, e)
	}
	s.logger.Debug("message stored",
		slog.String("thread_id", stored.ThreadID),
		slog.Int64("seq", stored.Seq),
		slog.String("kind", stored.Kind),
	)
	return stored, nil
}

func messageEvent(msg Message, recipients ...string) (realtime.Event, error) {
	e, err := realtime.NewEvent(realtime.TypeMessageCreated, msg, recipients...)
	if err != nil {
		return realtime.Event{}, err
	}
	e.ThreadID = msg.ThreadID
	e.Seq = msg.Seq
	return e, nil
}

func (s *Service) publish(ctx context.Context, e realtime.Event) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, e); err != nil {
		s.logger.Warn("publish event", slog.String("type", e.Type), slog.Any("error", err))
	}
}

// ThreadMessages lists messages of a thread the viewer takes part in.
func (s *Service) ThreadMessages(ctx context.Context, viewer, threadID string, afterSeq int64, limit int) ([]Message, error) {
	viewer = normalize(viewer)
	a, b, ok := Participants(threadID)
	if !ok || (viewer != a && viewer != b) {
		return nil, ErrNotParticipant
	}
	msgs, err := s.repo.Messages(ctx, threadID, afterSeq, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// Messages lists the conversation between viewer and other with seq > afterSeq.
func (s *Service) Messages(ctx context.Context, viewer, other string, afterSeq int64, limit int) ([]Message, error) {
	if normalize(viewer) == normalize(other) {
		return nil, ErrSelfMessage
	}
	return s.ThreadMessages(ctx, viewer, ThreadID(viewer, other), afterSeq, limit)
}

// SyncEvents replays missed messages as realtime events addressed to username.
func (s *Service) SyncEvents(ctx context.Context, username, other string, afterSeq int64) ([]realtime.Event, error) {
	msgs, err := s.Messages(ctx, username, other, afterSeq, maxLimit)
	if err != nil {
		return nil, err
	}
	events := make([]realtime.Event, 0, len(msgs))
	for _, m := range msgs {
		e, err := messageEvent(m, normalize(username))
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// Threads lists the user's conversations, most recent first.
func (s *Service) Threads(ctx context.Context, username string) ([]ThreadSummary, error) {
	threads, err := s.repo.Threads(ctx, normalize(username))
	if err != nil {
		return nil, err
	}
	if threads == nil {
		threads = []ThreadSummary{}
	}
	return threads, nil
}

type readReceipt struct {
	ThreadID string `json:"thread_id"`
	Reader   string `json:"reader"`
	UptoSeq  int64  `json:"upto_seq"`
	Count    int    `json:"count"`
}

// MarkRead marks messages from other to reader as read up to uptoSeq (0 for
// all) and returns how many changed.
func (s *Service) MarkRead(ctx context.Context, reader, other string, uptoSeq int64) (int, error) {
	reader, other = normalize(reader), normalize(other)
	if reader == other {
		return 0, ErrSelfMessage
	}
	threadID := ThreadID(reader, other)
	n, err := s.repo.MarkRead(ctx, threadID, reader, uptoSeq, s.now().UTC())
	if err != nil || n == 0 {
		return n, err
	}
	e, err := realtime.NewEvent(realtime.TypeMessageRead,
		readReceipt{ThreadID: threadID, Reader: reader, UptoSeq: uptoSeq, Count: n}, reader, other)
	if err == nil {
		e.ThreadID = threadID
		s.publish(ctx, e)
	}
	return n, nil
}

// ReadUpTo adapts MarkRead to the websocket read operation.
func (s *Service) ReadUpTo(ctx context.Context, reader, other string, uptoSeq int64) error {
	_, err := s.MarkRead(ctx, reader, other, uptoSeq)
	return err
}

// Unread aggregates the user's unread counts.
func (s *Service) Unread(ctx context.Context, username string) (UnreadSummary, error) {
	counts, err := s.repo.UnreadCounts(ctx, normalize(username))
	if err != nil {
		return UnreadSummary{}, err
	}
	sum := UnreadSummary{Threads: counts}
	for _, n := range counts {
		sum.Total += n
	}
	return sum, nil
}

func (s *Service) blockSet(ctx context.Context, username string) (mapset.Set[string], error) {
	list, err := s.repo.Blocked(ctx, username)
	if err != nil {
		return nil, err
	}
	return mapset.NewThreadUnsafeSet(list...), nil
}

func (s *Service) blockedBetween(ctx context.Context, a, b string) (bool, error) {
	byA, err := s.blockSet(ctx, a)
	if err != nil {
		return false, err
	}
	if byA.Contains(b) {
		return true, nil
	}
	byB, err := s.blockSet(ctx, b)
	if err != nil {
		return false, err
	}
	return byB.Contains(a), nil
}

// Block stops messages in both directions between blocker and blocked.
func (s *Service) Block(ctx context.Context, blocker, blocked string) error {
	blocker, blocked = normalize(blocker), normalize(blocked)
	if blocker == blocked {
		return ErrSelfBlock
	}
	if _, err := s.users.FindByUsername(ctx, blocked); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrRecipientNotFound
		}
		return err
	}
	return s.repo.Block(ctx, blocker, blocked)
}

// Unblock removes a block. Removing a missing block is not an error.
func (s *Service) Unblock(ctx context.Context, blocker, blocked string) error {
	return s.repo.Unblock(ctx, normalize(blocker), normalize(blocked))
}

// Blocked lists the usernames blocker has blocked.
func (s *Service) Blocked(ctx context.Context, blocker string) ([]string, error) {
	list, err := s.repo.Blocked(ctx, normalize(blocker))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// ReportInput is a report raised from a conversation.
type ReportInput struct {
	ReporterID string
	Reporter   string
	Reported   string
	MessageID  string
	Reason     moderation.ReportReason
	Details    string
}

// Report forwards a complaint to moderation with the thread and message
// attached. A referenced message must belong to the reporter's thread.
func (s *Service) Report(ctx context.Context, in ReportInput) (moderation.Report, error) {
	if s.reports == nil {
		return moderation.Report{}, errors.New("reporting is not configured")
	}
	reporter, reported := normalize(in.Reporter), normalize(in.Reported)
	if reporter == reported {
		return moderation.Report{}, moderation.ErrSelfReport
	}
	threadID := ThreadID(reporter, reported)
	if in.MessageID != "" {
		msg, err := s.repo.GetMessage(ctx, in.MessageID)
		if err != nil {
			return moderation.Report{}, err
		}
		if msg.ThreadID != threadID {
			return moderation.Report{}, ErrNotParticipant
		}
	}
	return s.reports.FileReport(ctx, moderation.ReportInput{
		ReporterID:       in.ReporterID,
		ReportedUsername: reported,
		ThreadID:         threadID,
		MessageID:        in.MessageID,
		Reason:           in.Reason,
		Details:          in.Details,
	})
}

// Search finds messages in the user's threads. The external index is used
// while healthy; the store answers otherwise.
func (s *Service) Search(ctx context.Context, username, query string, limit int) ([]Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	username = normalize(username)
	limit = clampLimit(limit)
	if s.searcher != nil && s.searcher.Healthy() {
		hits, err := s.searcher.Search(ctx, username, query, limit)
		if err == nil {
			return hits, nil
		}
		s.logger.Warn("search index failed, using store", slog.Any("error", err))
	}
	hits, err := s.repo.Search(ctx, username, query, limit)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []Message{}
	}
	return hits, nil
}

// Totals reports the number of threads and messages.
func (s *Service) Totals(ctx context.Context) (int, int, error) {
	return s.repo.Totals(ctx)
}
