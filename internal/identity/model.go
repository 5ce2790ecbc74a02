package identity

import (
	"errors"
	"time"

	"github.com/tradepost/tradepost/internal/rbac"
)

// Seller verification states.
const (
	VerificationNone     = "none"
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
)

var (
	ErrUserExists          = errors.New("user exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidUsername     = errors.New("username must be 3-32 characters of a-z, 0-9, '_', '.', '-'")
	ErrWeakPassword        = errors.New("password must be at least 8 characters")
	ErrInvalidRole         = errors.New("role must be buyer or seller")
	ErrNotSeller           = errors.New("only sellers can request verification")
	ErrVerificationState   = errors.New("verification is not in a reviewable state")
	ErrVerificationMissing = errors.New("verification document reference is required")
)

// User represents a marketplace account.
type User struct {
	ID                string
	Username          string
	Email             string
	Role              rbac.Role
	PasswordHash      []byte
	Verification      string
	VerificationRef   string
	VerificationNotes string
	TokenVersion      int
	CreatedAt         time.Time
	LastLogin         *time.Time
}

// IsVerifiedSeller reports whether the user may sell custom orders.
func (u User) IsVerifiedSeller() bool {
	return u.Role == rbac.RoleSeller && u.Verification == VerificationVerified
}

// Registration is the sign-up request.
type Registration struct {
	Username string
	Email    string
	Password string
	Role     rbac.Role
}

// Credentials request structure.
type Credentials struct {
	Username string
	Password string
}
