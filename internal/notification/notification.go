package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Notification kinds.
const (
	KindP2PTransfer        = "p2p_transfer"
	KindFunding            = "funding"
	KindBanIssued          = "ban_issued"
	KindBanLifted          = "ban_lifted"
	KindAppealReviewed     = "appeal_reviewed"
	KindNewMessage         = "new_message"
	KindCustomRequest      = "custom_request"
	KindSellerVerification = "seller_verification"
)

// Message describes a notification payload. Destination is a user id.
type Message struct {
	ID          string    `json:"id" msgpack:"id"`
	Kind        string    `json:"kind" msgpack:"kind"`
	Destination string    `json:"destination" msgpack:"destination"`
	Body        string    `json:"body" msgpack:"body"`
	Ref         string    `json:"ref,omitempty" msgpack:"ref,omitempty"`
	At          time.Time `json:"at" msgpack:"at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("ref", message.Ref),
	)
	return nil
}

// Fanout delivers every message to all wrapped notifiers and joins their errors.
// The message is stamped once so every sink sees the same id.
type Fanout []Notifier

// Send implements Notifier.
func (f Fanout) Send(ctx context.Context, message Message) error {
	message = stamp(message)
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
