package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradepost/tradepost/internal/rbac"
)

const minPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidUsername reports whether the normalized username is acceptable.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Service manages the identity lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Register creates a buyer or seller account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	username := NormalizeUsername(reg.Username)
	if !ValidUsername(username) {
		return User{}, ErrInvalidUsername
	}
	if len(reg.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}
	role := reg.Role
	if role == "" {
		role = rbac.RoleBuyer
	}
	if role != rbac.RoleBuyer && role != rbac.RoleSeller {
		return User{}, ErrInvalidRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        strings.TrimSpace(reg.Email),
		Role:         role,
		PasswordHash: hash,
		Verification: VerificationNone,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Provision stores an account with an explicit role. It is used to seed admins.
func (s *Service) Provision(ctx context.Context, reg Registration) (User, error) {
	if !rbac.Valid(reg.Role) {
		return User{}, ErrInvalidRole
	}
	role := reg.Role
	reg.Role = rbac.RoleBuyer
	user, err := s.Register(ctx, reg)
	if err != nil {
		return User{}, err
	}
	if role == rbac.RoleBuyer {
		return user, nil
	}
	user.Role = role
	if err := s.repo.UpdateRole(ctx, user.ID, role); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies credentials and records the login time.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByUsername(ctx, NormalizeUsername(creds.Username))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		return User{}, fmt.Errorf("record login: %w", err)
	}
	user.LastLogin = &now
	return user, nil
}

// FindByID returns the user with the given id.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByUsername returns the user with the given username.
func (s *Service) FindByUsername(ctx context.Context, username string) (User, error) {
	return s.repo.FindByUsername(ctx, NormalizeUsername(username))
}

// SubmitVerification moves a seller from none or rejected to pending.
func (s *Service) SubmitVerification(ctx context.Context, userID, documentRef string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Role != rbac.RoleSeller {
		return User{}, ErrNotSeller
	}
	ref := strings.TrimSpace(documentRef)
	if ref == "" {
		return User{}, ErrVerificationMissing
	}
	if user.Verification != VerificationNone && user.Verification != VerificationRejected {
		return User{}, ErrVerificationState
	}
	if err := s.repo.UpdateVerification(ctx, user.ID, VerificationPending, ref, ""); err != nil {
		return User{}, err
	}
	user.Verification = VerificationPending
	user.VerificationRef = ref
	user.VerificationNotes = ""
	return user, nil
}

// ReviewVerification settles a pending seller verification.
func (s *Service) ReviewVerification(ctx context.Context, userID string, approve bool, notes string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Verification != VerificationPending {
		return User{}, ErrVerificationState
	}
	status := VerificationRejected
	if approve {
		status = VerificationVerified
	}
	notes = strings.TrimSpace(notes)
	if err := s.repo.UpdateVerification(ctx, user.ID, status, user.VerificationRef, notes); err != nil {
		return User{}, err
	}
	user.Verification = status
	user.VerificationNotes = notes
	return user, nil
}

// BumpTokenVersion invalidates every token issued to the user.
func (s *Service) BumpTokenVersion(ctx context.Context, userID string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	user.TokenVersion++
	if err := s.repo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion); err != nil {
		return User{}, err
	}
	return user, nil
}
