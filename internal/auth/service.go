package auth

import (
	"context"
	"errors"
	"time"

	"github.com/tradepost/tradepost/internal/config"
	"github.com/tradepost/tradepost/internal/identity"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenInvalidated = errors.New("token version invalidated")
)

// Service issues and verifies token pairs.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

// NewService builds the token service.
func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues an access and refresh token for an authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	access, err := s.sign(user, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(user, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

func (s *Service) sign(user identity.User, secret string, ttl time.Duration) (string, error) {
	now := s.now()
	return SignHS256(Claims{
		Subject:  user.ID,
		Username: user.Username,
		Role:     string(user.Role),
		Version:  user.TokenVersion,
		IssuedAt: now.Unix(),
		Expires:  now.Add(ttl).Unix(),
	}, []byte(secret))
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	user, err := s.verify(ctx, refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	signed, err := s.sign(user, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// VerifyAccess resolves the current user behind an access token.
// Role and username come from the store, so role changes apply immediately.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (identity.User, error) {
	return s.verify(ctx, accessToken, s.cfg.JWTSecret)
}

func (s *Service) verify(ctx context.Context, token, secret string) (identity.User, error) {
	claims, err := ParseAndVerifyHS256(token, []byte(secret), s.now())
	if err != nil {
		return identity.User{}, ErrInvalidToken
	}
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return identity.User{}, ErrInvalidToken
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenInvalidated
	}
	return user, nil
}

// Logout increments the token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}
