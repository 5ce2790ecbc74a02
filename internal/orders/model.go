package orders

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a custom request.
type Status string

const (
	StatusRequested Status = "requested"
	StatusQuoted    Status = "quoted"
	StatusAccepted  Status = "accepted"
	StatusPaid      Status = "paid"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusRequested, StatusQuoted, StatusAccepted, StatusPaid,
	StatusDelivered, StatusCompleted, StatusDeclined, StatusCancelled,
}

var (
	ErrRequestNotFound   = errors.New("custom request not found")
	ErrNotParticipant    = errors.New("not a party to this request")
	ErrWrongParty        = errors.New("this action belongs to the other party")
	ErrInvalidTransition = errors.New("action not allowed in the current status")
	ErrSellerNotFound    = errors.New("seller not found")
	ErrNotSeller         = errors.New("target user is not a seller")
	ErrSellerUnverified  = errors.New("seller is not verified")
	ErrSelfRequest       = errors.New("cannot request from yourself")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrInvalidRequest    = errors.New("title must be 3-120 characters and description 1-2000 characters")
	ErrBanned            = errors.New("banned users cannot do this")
)

// CustomRequest is a buyer's bespoke order placed with a verified seller.
// Price is in minor currency units.
type CustomRequest struct {
	ID          string    `json:"id"`
	BuyerID     string    `json:"buyer_id"`
	Buyer       string    `json:"buyer"`
	SellerID    string    `json:"seller_id"`
	Seller      string    `json:"seller"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Currency    string    `json:"currency"`
	Status      Status    `json:"status"`
	ThreadID    string    `json:"thread_id"`
	HoldTxID    string    `json:"hold_tx_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Involves reports whether userID is the buyer or the seller.
func (r CustomRequest) Involves(userID string) bool {
	return r.BuyerID == userID || r.SellerID == userID
}

// CreateInput opens a request.
type CreateInput struct {
	BuyerID     string
	Seller      string
	Title       string
	Description string
}
