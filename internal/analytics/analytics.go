package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradepost/tradepost/internal/moderation"
	"github.com/tradepost/tradepost/internal/orders"
)

// ModerationStats reports ban, appeal and report counters.
type ModerationStats interface {
	Stats(ctx context.Context) (moderation.Stats, error)
}

// MessagingTotals reports thread and message counts.
type MessagingTotals interface {
	Totals(ctx context.Context) (threads int, messages int, err error)
}

// OrderCounts reports custom requests per status.
type OrderCounts interface {
	CountByStatus(ctx context.Context) (map[orders.Status]int, error)
}

// Messaging groups conversation totals.
type Messaging struct {
	Threads  int `json:"threads"`
	Messages int `json:"messages"`
}

// Snapshot is the admin dashboard payload.
type Snapshot struct {
	Moderation  moderation.Stats      `json:"moderation"`
	Messaging   Messaging             `json:"messaging"`
	Orders      map[orders.Status]int `json:"custom_requests"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Service gathers dashboard counters from the domain services.
type Service struct {
	moderation ModerationStats
	messaging  MessagingTotals
	orders     OrderCounts
	now        func() time.Time
}

// NewService builds the analytics service.
func NewService(mod ModerationStats, msgs MessagingTotals, ord OrderCounts) *Service {
	return &Service{moderation: mod, messaging: msgs, orders: ord, now: time.Now}
}

// Snapshot queries every source concurrently. Statuses without requests are
// reported as zero.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := s.moderation.Stats(gctx)
		snap.Moderation = stats
		return err
	})
	g.Go(func() error {
		threads, messages, err := s.messaging.Totals(gctx)
		snap.Messaging = Messaging{Threads: threads, Messages: messages}
		return err
	})
	g.Go(func() error {
		counts, err := s.orders.CountByStatus(gctx)
		if err != nil {
			return err
		}
		snap.Orders = make(map[orders.Status]int, len(orders.Statuses))
		for _, st := range orders.Statuses {
			snap.Orders[st] = counts[st]
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	snap.GeneratedAt = s.now().UTC()
	return snap, nil
}
