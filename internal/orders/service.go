package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/ledger"
	"github.com/tradepost/tradepost/internal/logging"
	"github.com/tradepost/tradepost/internal/messaging"
	"github.com/tradepost/tradepost/internal/moderation"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/payments"
	"github.com/tradepost/tradepost/internal/rbac"
	"github.com/tradepost/tradepost/internal/realtime"
)

const defaultCurrency = "USD"

// Users resolves request parties.
type Users interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
	FindByUsername(ctx context.Context, username string) (identity.User, error)
}

// BanChecker reports a user's active ban.
type BanChecker interface {
	ActiveBan(ctx context.Context, userID string) (moderation.Ban, error)
}

// Escrow moves order funds through the escrow account.
type Escrow interface {
	Hold(ctx context.Context, buyerID, requestID string, amount int64) (payments.TransferResult, error)
	Release(ctx context.Context, sellerID, requestID string, amount int64) (payments.TransferResult, error)
	Refund(ctx context.Context, buyerID, requestID string, amount int64) (payments.TransferResult, error)
}

// Threads posts request updates into the buyer and seller conversation.
type Threads interface {
	SystemMessage(ctx context.Context, from, to, body, requestID string) (messaging.Message, error)
}

// Service runs the custom request state machine.
type Service struct {
	repo     Repository
	users    Users
	bans     BanChecker
	escrow   Escrow
	threads  Threads
	notifier notification.Notifier
	broker   realtime.Broker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the order service. notifier and broker may be nil.
func NewService(repo Repository, users Users, bans BanChecker, escrow Escrow, threads Threads,
	notifier notification.Notifier, broker realtime.Broker, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		bans:     bans,
		escrow:   escrow,
		threads:  threads,
		notifier: notifier,
		broker:   broker,
		logger:   logging.Component(logger, "orders"),
		now:      time.Now,
	}
}

func (s *Service) ensureNotBanned(ctx context.Context, userID string) error {
	if s.bans == nil {
		return nil
	}
	_, err := s.bans.ActiveBan(ctx, userID)
	switch {
	case err == nil:
		return ErrBanned
	case errors.Is(err, moderation.ErrNoActiveBan):
		return nil
	default:
		return err
	}
}

// Create opens a request from the buyer to a verified seller.
func (s *Service) Create(ctx context.Context, in CreateInput) (CustomRequest, error) {
	title := moderation.Sanitize(in.Title)
	description := moderation.Sanitize(in.Description)
	if !moderation.ValidLength(title, 3, 120) || !moderation.ValidLength(description, 1, 2000) {
		return CustomRequest{}, ErrInvalidRequest
	}
	buyer, err := s.users.FindByID(ctx, in.BuyerID)
	if err != nil {
		return CustomRequest{}, err
	}
	if err := s.ensureNotBanned(ctx, buyer.ID); err != nil {
		return CustomRequest{}, err
	}
	seller, err := s.users.FindByUsername(ctx, identity.NormalizeUsername(in.Seller))
	if errors.Is(err, identity.ErrUserNotFound) {
		return CustomRequest{}, ErrSellerNotFound
	}
	if err != nil {
		return CustomRequest{}, err
	}
	if seller.ID == buyer.ID {
		return CustomRequest{}, ErrSelfRequest
	}
	if seller.Role != rbac.RoleSeller {
		return CustomRequest{}, ErrNotSeller
	}
	if !seller.IsVerifiedSeller() {
		return CustomRequest{}, ErrSellerUnverified
	}

	now := s.now().UTC()
	req := CustomRequest{
		ID:          uuid.NewString(),
		BuyerID:     buyer.ID,
		Buyer:       buyer.Username,
		SellerID:    seller.ID,
		Seller:      seller.Username,
		Title:       title,
		Description: description,
		Currency:    defaultCurrency,
		Status:      StatusRequested,
		ThreadID:    messaging.ThreadID(buyer.Username, seller.Username),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return CustomRequest{}, err
	}
	s.announce(ctx, req, req.BuyerID, fmt.Sprintf("%s requested %q", req.Buyer, req.Title))
	return req, nil
}

type party int

const (
	buyerParty party = iota
	sellerParty
	eitherParty
)

// step describes one transition of the state machine.
type step struct {
	by       party
	from     []Status
	to       Status
	banCheck bool
	apply    func(ctx context.Context, req *CustomRequest) error
	message  func(req CustomRequest) string
}

// advance runs one transition with the request locked, so money moved by
// apply and the status change commit together or not at all.
func (s *Service) advance(ctx context.Context, actorID, id string, st step) (CustomRequest, error) {
	var from Status
	req, err := s.repo.Transition(ctx, id, func(req *CustomRequest) error {
		if !req.Involves(actorID) {
			return ErrNotParticipant
		}
		switch {
		case st.by == buyerParty && actorID != req.BuyerID,
			st.by == sellerParty && actorID != req.SellerID:
			return ErrWrongParty
		}
		if !slices.Contains(st.from, req.Status) {
			return ErrInvalidTransition
		}
		if st.banCheck {
			if err := s.ensureNotBanned(ctx, actorID); err != nil {
				return err
			}
		}
		from = req.Status
		if st.apply != nil {
			if err := st.apply(ctx, req); err != nil {
				return err
			}
		}
		req.Status = st.to
		req.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return CustomRequest{}, err
	}
	s.logger.Info("custom request updated",
		slog.String("request_id", req.ID),
		slog.String("from", string(from)),
		slog.String("to", string(req.Status)),
	)
	s.announce(ctx, req, actorID, st.message(req))
	return req, nil
}

// Quote sets or revises the seller's price.
func (s *Service) Quote(ctx context.Context, sellerID, id string, price int64) (CustomRequest, error) {
	if price <= 0 {
		return CustomRequest{}, ErrInvalidPrice
	}
	return s.advance(ctx, sellerID, id, step{
		by:       sellerParty,
		from:     []Status{StatusRequested, StatusQuoted},
		to:       StatusQuoted,
		banCheck: true,
		apply: func(_ context.Context, req *CustomRequest) error {
			req.Price = price
			return nil
		},
		message: func(req CustomRequest) string {
			return fmt.Sprintf("%s quoted %d %s for %q", req.Seller, req.Price, req.Currency, req.Title)
		},
	})
}

// Accept agrees to the quoted price.
func (s *Service) Accept(ctx context.Context, buyerID, id string) (CustomRequest, error) {
	return s.advance(ctx, buyerID, id, step{
		by:       buyerParty,
		from:     []Status{StatusQuoted},
		to:       StatusAccepted,
		banCheck: true,
		message: func(req CustomRequest) string {
			return fmt.Sprintf("%s accepted the quote of %d %s", req.Buyer, req.Price, req.Currency)
		},
	})
}

// Pay moves the price from the buyer's wallet into escrow.
func (s *Service) Pay(ctx context.Context, buyerID, id string) (CustomRequest, error) {
	return s.advance(ctx, buyerID, id, step{
		by:       buyerParty,
		from:     []Status{StatusAccepted},
		to:       StatusPaid,
		banCheck: true,
		apply: func(ctx context.Context, req *CustomRequest) error {
			res, err := s.escrow.Hold(ctx, req.BuyerID, req.ID, req.Price)
			if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
				return err
			}
			req.HoldTxID = res.TransactionID
			return nil
		},
		message: func(req CustomRequest) string {
			return fmt.Sprintf("%s paid %d %s into escrow", req.Buyer, req.Price, req.Currency)
		},
	})
}

// Deliver marks the work as handed over.
func (s *Service) Deliver(ctx context.Context, sellerID, id string) (CustomRequest, error) {
	return s.advance(ctx, sellerID, id, step{
		by:   sellerParty,
		from: []Status{StatusPaid},
		to:   StatusDelivered,
		message: func(req CustomRequest) string {
			return fmt.Sprintf("%s marked %q as delivered", req.Seller, req.Title)
		},
	})
}

// Complete confirms delivery and releases escrow to the seller.
func (s *Service) Complete(ctx context.Context, buyerID, id string) (CustomRequest, error) {
	return s.advance(ctx, buyerID, id, step{
		by:   buyerParty,
		from: []Status{StatusDelivered},
		to:   StatusCompleted,
		apply: func(ctx context.Context, req *CustomRequest) error {
			_, err := s.escrow.Release(ctx, req.SellerID, req.ID, req.Price)
			if errors.Is(err, ledger.ErrDuplicateTransaction) {
				return nil
			}
			return err
		},
		message: func(req CustomRequest) string {
			return fmt.Sprintf("%s completed the order; %d %s released to %s", req.Buyer, req.Price, req.Currency, req.Seller)
		},
	})
}

// Decline closes a request before acceptance. Either party may decline.
func (s *Service) Decline(ctx context.Context, userID, id string) (CustomRequest, error) {
	return s.advance(ctx, userID, id, step{
		by:   eitherParty,
		from: []Status{StatusRequested, StatusQuoted},
		to:   StatusDeclined,
		message: func(req CustomRequest) string {
			return fmt.Sprintf("request %q was declined", req.Title)
		},
	})
}

// Cancel aborts an accepted or paid request. Paid requests are refunded.
func (s *Service) Cancel(ctx context.Context, userID, id string) (CustomRequest, error) {
	return s.advance(ctx, userID, id, step{
		by:   eitherParty,
		from: []Status{StatusAccepted, StatusPaid},
		to:   StatusCancelled,
		apply: func(ctx context.Context, req *CustomRequest) error {
			if req.Status != StatusPaid {
				return nil
			}
			_, err := s.escrow.Refund(ctx, req.BuyerID, req.ID, req.Price)
			if errors.Is(err, ledger.ErrDuplicateTransaction) {
				return nil
			}
			return err
		},
		message: func(req CustomRequest) string {
			if req.HoldTxID != "" {
				return fmt.Sprintf("request %q was cancelled; %d %s refunded to %s", req.Title, req.Price, req.Currency, req.Buyer)
			}
			return fmt.Sprintf("request %q was cancelled", req.Title)
		},
	})
}

// Get returns a request visible to the viewer: its parties or an admin.
func (s *Service) Get(ctx context.Context, id, viewerID string, role rbac.Role) (CustomRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return CustomRequest{}, err
	}
	if role != rbac.RoleAdmin && !req.Involves(viewerID) {
		return CustomRequest{}, ErrNotParticipant
	}
	return req, nil
}

// List returns the viewer's requests. Admins see all of them.
func (s *Service) List(ctx context.Context, userID string, role rbac.Role) ([]CustomRequest, error) {
	if role == rbac.RoleAdmin {
		userID = ""
	}
	list, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []CustomRequest{}
	}
	return list, nil
}

// CountByStatus reports how many requests sit in each status.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}

// announce posts the update into the thread, notifies the counterparty and
// pushes a realtime event to both sides.
func (s *Service) announce(ctx context.Context, req CustomRequest, actorID, body string) {
	from, to, otherID := req.Buyer, req.Seller, req.SellerID
	if actorID == req.SellerID {
		from, to, otherID = req.Seller, req.Buyer, req.BuyerID
	}
	if s.threads != nil {
		if _, err := s.threads.SystemMessage(ctx, from, to, body, req.ID); err != nil {
			s.logger.Warn("post request update", slog.String("request_id", req.ID), slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindCustomRequest,
			Destination: otherID,
			Ref:         req.ID,
			Body:        body,
		}); err != nil {
			s.logger.Warn("notify request update", slog.String("request_id", req.ID), slog.Any("error", err))
		}
	}
	if s.broker != nil {
		e, err := realtime.NewEvent(realtime.TypeRequestUpdated, req, req.Buyer, req.Seller)
		if err == nil {
			err = s.broker.Publish(ctx, e)
		}
		if err != nil {
			s.logger.Warn("publish request update", slog.String("request_id", req.ID), slog.Any("error", err))
		}
	}
}
