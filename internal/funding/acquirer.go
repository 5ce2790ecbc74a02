package funding

import (
	"context"

	"github.com/google/uuid"
)

const decisionApproved = "approved"

// Acquirer represents a connector to an external card processor.
type Acquirer interface {
	Authorize(ctx context.Context, auth Authorization) (AuthorizationDecision, error)
}

// Direction of a card movement.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Authorization carries the card details for a top-up or a payout.
type Authorization struct {
	Direction  string
	CardNumber string
	Expiry     string
	CVV        string
	Amount     int64
}

// AuthorizationDecision captures the acquirer response.
type AuthorizationDecision struct {
	Reference string
	Status    string
}

// StaticAcquirer approves every request with a synthetic reference.
type StaticAcquirer struct{}

// Authorize implements Acquirer.
func (StaticAcquirer) Authorize(_ context.Context, _ Authorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: decisionApproved}, nil
}
