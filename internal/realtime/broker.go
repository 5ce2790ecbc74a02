package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tradepost/tradepost/internal/notification"
)

// Broker publishes events to every node's hub.
type Broker interface {
	Publish(ctx context.Context, e Event) error
}

// LocalBroker dispatches straight into an in-process hub. Used when Redis is absent.
type LocalBroker struct {
	hub *Hub
}

// NewLocalBroker builds a single-node broker.
func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

// Publish implements Broker.
func (b *LocalBroker) Publish(_ context.Context, e Event) error {
	if len(e.Recipients) == 0 {
		return nil
	}
	b.hub.Dispatch(e)
	return nil
}

// RedisBroker fans events out through a Redis pub/sub channel so that every
// API node delivers to its own websocket connections.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger
}

// NewRedisBroker builds a broker on the given channel.
func NewRedisBroker(rdb *redis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, channel: channel, hub: hub, logger: logger}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	if len(e.Recipients) == 0 {
		return nil
	}
	payload, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Run subscribes to the channel and dispatches decoded events into the hub
// until ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("subscribed to events channel", slog.String("channel", b.channel))

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			b.logger.Warn("receive event", slog.Any("error", err))
			continue
		}
		e, err := Decode([]byte(msg.Payload))
		if err != nil {
			b.logger.Warn("decode event", slog.Any("error", err))
			continue
		}
		b.hub.Dispatch(e)
	}
}

// UsernameLookup resolves a user id to the username the hub is keyed by.
type UsernameLookup func(ctx context.Context, userID string) (string, error)

// Notifier forwards notifications as realtime events.
type Notifier struct {
	broker   Broker
	username UsernameLookup
}

// NewNotifier bridges notification.Notifier onto a broker.
func NewNotifier(broker Broker, username UsernameLookup) *Notifier {
	return &Notifier{broker: broker, username: username}
}

// Send implements notification.Notifier.
func (n *Notifier) Send(ctx context.Context, message notification.Message) error {
	name, err := n.username(ctx, message.Destination)
	if err != nil {
		return fmt.Errorf("resolve notification recipient: %w", err)
	}
	e, err := NewEvent(TypeNotification, message, name)
	if err != nil {
		return err
	}
	return n.broker.Publish(ctx, e)
}
