package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/moderation"
	"github.com/tradepost/tradepost/internal/rbac"
	"github.com/tradepost/tradepost/internal/wallet"
)

// BanLookup reports the active ban of a user, if any.
type BanLookup interface {
	ActiveBan(ctx context.Context, userID string) (moderation.Ban, error)
}

// Handler exposes auth endpoints for register/login/refresh/logout.
type Handler struct {
	ids     *identity.Service
	svc     *Service
	wallets *wallet.Service
	bans    BanLookup
	logger  *slog.Logger
}

// NewHandler wires the auth handler. wallets and bans may be nil.
func NewHandler(ids *identity.Service, svc *Service, wallets *wallet.Service, bans BanLookup, logger *slog.Logger) *Handler {
	return &Handler{ids: ids, svc: svc, wallets: wallets, bans: bans, logger: logger}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register creates an account and provisions its wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.ids.Register(c.UserContext(), identity.Registration{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     rbac.Role(req.Role),
	})
	if err != nil {
		return identity.MapError(err)
	}

	var walletID string
	if h.wallets != nil {
		w, err := h.wallets.Create(c.UserContext(), wallet.CreateInput{OwnerID: user.ID})
		if err != nil {
			h.logger.Error("wallet provisioning failed", slog.String("user_id", user.ID), slog.Any("error", err))
		} else {
			walletID = w.ID
		}
	}
	h.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
		slog.String("role", string(user.Role)),
		slog.String("wallet_id", walletID),
	)
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"user":      identity.ToProfile(user),
		"wallet_id": walletID,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User         identity.Profile `json:"user"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresIn    int64            `json:"expires_in"`
	WalletID     string           `json:"wallet_id,omitempty"`
	Ban          *moderation.Ban  `json:"ban,omitempty"`
}

// Login validates credentials and returns a token pair. Banned users still
// receive tokens so they can read their ban and appeal it.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.ids.Authenticate(c.UserContext(), identity.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	pair, err := h.svc.Login(user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	resp := loginResponse{
		User:         identity.ToProfile(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}
	if h.wallets != nil {
		if w, err := h.wallets.GetByOwner(c.UserContext(), user.ID); err == nil {
			resp.WalletID = w.ID
		}
	}
	if h.bans != nil {
		ban, err := h.bans.ActiveBan(c.UserContext(), user.ID)
		switch {
		case err == nil:
			resp.Ban = &ban
		case !errors.Is(err, moderation.ErrNoActiveBan):
			h.logger.Warn("ban lookup failed at login", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}
	return c.Status(http.StatusOK).JSON(resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh issues a new access token using a valid refresh token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	token, exp, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"access_token": token, "expires_in": exp})
}

// Logout invalidates existing tokens by bumping the token version.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.svc.verify(c.UserContext(), req.RefreshToken, h.svc.cfg.RefreshSecret)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	if err := h.svc.Logout(c.UserContext(), user.ID); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}
