package moderation

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes ban, appeal and report endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds the moderation HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type issueRequest struct {
	UserID          string  `json:"user_id"`
	Username        string  `json:"username"`
	Reason          string  `json:"reason"`
	Type            BanType `json:"type"`
	DurationSeconds int64   `json:"duration_seconds"`
}

func (r issueRequest) input(issuer string) IssueInput {
	return IssueInput{
		UserID:   r.UserID,
		Username: r.Username,
		Reason:   r.Reason,
		Type:     r.Type,
		Duration: time.Duration(r.DurationSeconds) * time.Second,
		IssuedBy: issuer,
	}
}

// Issue handles POST /admin/bans.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	ban, err := h.svc.IssueBan(c.UserContext(), req.input(uid))
	if err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(ban)
}

// List handles GET /admin/bans.
func (h *Handler) List(c *fiber.Ctx) error {
	bans, err := h.svc.ListBans(c.UserContext(), BanFilter{
		UserID:     c.Query("user_id"),
		ActiveOnly: c.QueryBool("active", false),
		Type:       BanType(c.Query("type")),
	})
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"bans": bans})
}

type liftRequest struct {
	Reason LiftReason `json:"reason"`
}

// Lift handles POST /admin/bans/:banId/lift.
func (h *Handler) Lift(c *fiber.Ctx) error {
	var req liftRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	uid, _ := c.Locals("user_id").(string)
	ban, err := h.svc.LiftBan(c.UserContext(), c.Params("banId"), uid, req.Reason)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(ban)
}

// Stats handles GET /admin/bans/stats.
func (h *Handler) Stats(c *fiber.Ctx) error {
	st, err := h.svc.Stats(c.UserContext())
	if err != nil {
		return MapError(err)
	}
	return c.JSON(st)
}

// UserHistory handles GET /admin/bans/users/:userId.
func (h *Handler) UserHistory(c *fiber.Ctx) error {
	bans, err := h.svc.History(c.UserContext(), c.Params("userId"))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"user_id": c.Params("userId"), "bans": bans})
}

// Mine handles GET /bans/me. It is reachable while banned.
func (h *Handler) Mine(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	history, err := h.svc.History(c.UserContext(), uid)
	if err != nil {
		return MapError(err)
	}
	resp := fiber.Map{"active": nil, "history": history}
	if ban, err := h.svc.ActiveBan(c.UserContext(), uid); err == nil {
		resp["active"] = ban
	} else if !errors.Is(err, ErrNoActiveBan) {
		return MapError(err)
	}
	return c.JSON(resp)
}

type appealRequest struct {
	Message string `json:"message"`
}

// Appeal handles POST /bans/:banId/appeal.
func (h *Handler) Appeal(c *fiber.Ctx) error {
	var req appealRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	appeal, err := h.svc.SubmitAppeal(c.UserContext(), c.Params("banId"), uid, req.Message)
	if err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(appeal)
}

// Appeals handles GET /admin/appeals.
func (h *Handler) Appeals(c *fiber.Ctx) error {
	appeals, err := h.svc.ListAppeals(c.UserContext(), AppealStatus(c.Query("status")))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"appeals": appeals})
}

type reviewRequest struct {
	Decision Decision `json:"decision"`
	Notes    string   `json:"notes"`
}

// Review handles POST /admin/appeals/:appealId/review.
func (h *Handler) Review(c *fiber.Ctx) error {
	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	appeal, err := h.svc.ReviewAppeal(c.UserContext(), c.Params("appealId"), ReviewInput{
		ReviewerID: uid,
		Decision:   req.Decision,
		Notes:      req.Notes,
	})
	if err != nil {
		return MapError(err)
	}
	return c.JSON(appeal)
}

// Reports handles GET /admin/reports.
func (h *Handler) Reports(c *fiber.Ctx) error {
	reports, err := h.svc.ListReports(c.UserContext(), ReportStatus(c.Query("status")))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"reports": reports})
}

type resolveRequest struct {
	Action Resolution    `json:"action"`
	Ban    *issueRequest `json:"ban,omitempty"`
}

// Resolve handles POST /admin/reports/:reportId/resolve.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	in := ResolveInput{ReportID: c.Params("reportId"), ResolverID: uid, Action: req.Action}
	if req.Ban != nil {
		ban := req.Ban.input(uid)
		in.Ban = &ban
	}
	report, ban, err := h.svc.ResolveReport(c.UserContext(), in)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"report": report, "ban": ban})
}

// MapError translates moderation errors into HTTP errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrBanNotFound), errors.Is(err, ErrAppealNotFound),
		errors.Is(err, ErrReportNotFound), errors.Is(err, ErrUnknownUser), errors.Is(err, ErrNoActiveBan):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotBanOwner), errors.Is(err, ErrCannotBanAdmin):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyBanned), errors.Is(err, ErrBanInactive),
		errors.Is(err, ErrAppealExists), errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidReason), errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidBanType),
		errors.Is(err, ErrInvalidAppeal), errors.Is(err, ErrInvalidDecision), errors.Is(err, ErrSelfReport),
		errors.Is(err, ErrInvalidReport):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
