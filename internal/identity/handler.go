package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/rbac"
)

// Handler exposes seller verification endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds the identity HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Profile is the public JSON shape of a user.
type Profile struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email,omitempty"`
	Role              rbac.Role  `json:"role"`
	Verification      string     `json:"verification"`
	VerificationNotes string     `json:"verification_notes,omitempty"`
	TokenVersion      int        `json:"token_version"`
	CreatedAt         time.Time  `json:"created_at"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
}

// ToProfile strips secrets from a user.
func ToProfile(u User) Profile {
	return Profile{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		Role:              u.Role,
		Verification:      u.Verification,
		VerificationNotes: u.VerificationNotes,
		TokenVersion:      u.TokenVersion,
		CreatedAt:         u.CreatedAt,
		LastLogin:         u.LastLogin,
	}
}

type verificationRequest struct {
	DocumentRef string `json:"document_ref"`
}

// SubmitVerification handles POST /sellers/verification.
func (h *Handler) SubmitVerification(c *fiber.Ctx) error {
	var req verificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	user, err := h.svc.SubmitVerification(c.UserContext(), uid, req.DocumentRef)
	if err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusAccepted).JSON(ToProfile(user))
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

// ReviewVerification handles POST /admin/sellers/:userId/verification.
func (h *Handler) ReviewVerification(c *fiber.Ctx) error {
	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.svc.ReviewVerification(c.UserContext(), c.Params("userId"), req.Approve, req.Notes)
	if err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusOK).JSON(ToProfile(user))
}

// MapError translates identity errors into HTTP errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotSeller):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrVerificationState):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUserExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidUsername), errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrInvalidRole), errors.Is(err, ErrVerificationMissing):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
