package moderation

import (
	"encoding/json"
	"errors"
	"time"
)

// BanType distinguishes bans that expire from those that do not.
type BanType string

const (
	BanTemporary BanType = "temporary"
	BanPermanent BanType = "permanent"
)

// LiftReason records why a ban stopped being active.
type LiftReason string

const (
	LiftExpired        LiftReason = "expired"
	LiftAppealApproved LiftReason = "appeal_approved"
	LiftManual         LiftReason = "manual"
)

// SystemActor is recorded as issuer or lifter for automatic actions.
const SystemActor = "system"

// AppealStatus is the review state of an appeal.
type AppealStatus string

const (
	AppealPending   AppealStatus = "pending"
	AppealApproved  AppealStatus = "approved"
	AppealRejected  AppealStatus = "rejected"
	AppealEscalated AppealStatus = "escalated"
)

// Decision is an admin's verdict on an appeal.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionEscalate Decision = "escalate"
)

// ReportReason classifies a user report.
type ReportReason string

const (
	ReasonSpam          ReportReason = "spam"
	ReasonHarassment    ReportReason = "harassment"
	ReasonFraud         ReportReason = "fraud"
	ReasonInappropriate ReportReason = "inappropriate"
	ReasonOther         ReportReason = "other"
)

// ReportStatus is the lifecycle of a report.
type ReportStatus string

const (
	ReportOpen      ReportStatus = "open"
	ReportDismissed ReportStatus = "dismissed"
	ReportActioned  ReportStatus = "actioned"
)

// Resolution is what a moderator does with an open report.
type Resolution string

const (
	ResolveDismiss Resolution = "dismiss"
	ResolveBan     Resolution = "ban"
)

var (
	ErrBanNotFound       = errors.New("ban not found")
	ErrNoActiveBan       = errors.New("no active ban")
	ErrBanInactive       = errors.New("ban is not active")
	ErrAlreadyBanned     = errors.New("user already has an active ban")
	ErrCannotBanAdmin    = errors.New("admins cannot be banned")
	ErrInvalidReason     = errors.New("reason must be between 3 and 500 characters")
	ErrInvalidDuration   = errors.New("temporary bans need a positive duration within the allowed maximum")
	ErrInvalidBanType    = errors.New("ban type must be temporary or permanent")
	ErrAppealNotFound    = errors.New("appeal not found")
	ErrAppealExists      = errors.New("an appeal was already submitted for this ban")
	ErrInvalidAppeal     = errors.New("appeal message must be between 10 and 2000 characters")
	ErrNotBanOwner       = errors.New("ban belongs to another user")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidDecision   = errors.New("decision must be approve, reject or escalate")
	ErrReportNotFound    = errors.New("report not found")
	ErrSelfReport        = errors.New("users cannot report themselves")
	ErrInvalidReport     = errors.New("invalid report reason or details")
	ErrUnknownUser       = errors.New("user not found")
)

// Ban is a restriction placed on a user account.
type Ban struct {
	ID         string        `json:"id" msgpack:"id"`
	UserID     string        `json:"user_id" msgpack:"user_id"`
	Username   string        `json:"username" msgpack:"username"`
	Reason     string        `json:"reason" msgpack:"reason"`
	Type       BanType       `json:"type" msgpack:"type"`
	Duration   time.Duration `json:"-" msgpack:"duration"`
	IssuedBy   string        `json:"issued_by" msgpack:"issued_by"`
	IssuedAt   time.Time     `json:"issued_at" msgpack:"issued_at"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty" msgpack:"expires_at"`
	Active     bool          `json:"active" msgpack:"active"`
	LiftedAt   *time.Time    `json:"lifted_at,omitempty" msgpack:"lifted_at"`
	LiftedBy   string        `json:"lifted_by,omitempty" msgpack:"lifted_by"`
	LiftReason LiftReason    `json:"lift_reason,omitempty" msgpack:"lift_reason"`
	Appeal     *Appeal       `json:"appeal,omitempty" msgpack:"-"`
}

// MarshalJSON renders the duration in whole seconds.
func (b Ban) MarshalJSON() ([]byte, error) {
	type plain Ban
	return json.Marshal(struct {
		plain
		DurationSeconds int64 `json:"duration_seconds"`
	}{plain: plain(b), DurationSeconds: int64(b.Duration / time.Second)})
}

// ExpiredAt reports whether a temporary ban has run out at now.
func (b Ban) ExpiredAt(now time.Time) bool {
	return b.Type == BanTemporary && b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// Remaining returns the time left on a temporary ban. Permanent bans return 0.
func (b Ban) Remaining(now time.Time) time.Duration {
	if b.ExpiresAt == nil {
		return 0
	}
	return max(b.ExpiresAt.Sub(now), 0)
}

// Appeal is a banned user's request to lift a ban.
type Appeal struct {
	ID          string       `json:"id"`
	BanID       string       `json:"ban_id"`
	UserID      string       `json:"user_id"`
	Message     string       `json:"message"`
	Status      AppealStatus `json:"status"`
	SubmittedAt time.Time    `json:"submitted_at"`
	ReviewedBy  string       `json:"reviewed_by,omitempty"`
	ReviewNotes string       `json:"review_notes,omitempty"`
	ReviewedAt  *time.Time   `json:"reviewed_at,omitempty"`
}

// Report is a user complaint about another user.
type Report struct {
	ID               string       `json:"id"`
	ReporterID       string       `json:"reporter_id"`
	ReportedID       string       `json:"reported_id"`
	ReportedUsername string       `json:"reported_username"`
	ThreadID         string       `json:"thread_id,omitempty"`
	MessageID        string       `json:"message_id,omitempty"`
	Reason           ReportReason `json:"reason"`
	Details          string       `json:"details,omitempty"`
	Status           ReportStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	ResolvedBy       string       `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty"`
}

// IssueInput describes a new ban. Either UserID or Username identifies the target.
type IssueInput struct {
	UserID   string
	Username string
	Reason   string
	Type     BanType
	Duration time.Duration
	IssuedBy string
}

// BanFilter narrows ListBans.
type BanFilter struct {
	UserID     string
	ActiveOnly bool
	Type       BanType
}

// ReviewInput is an admin's appeal review.
type ReviewInput struct {
	ReviewerID string
	Decision   Decision
	Notes      string
}

// ReportInput is a new report. Either ReportedID or ReportedUsername identifies the target.
type ReportInput struct {
	ReporterID       string
	ReportedID       string
	ReportedUsername string
	ThreadID         string
	MessageID        string
	Reason           ReportReason
	Details          string
}

// Stats summarises moderation state for the admin dashboard.
type Stats struct {
	TotalBans        int `json:"total_bans"`
	ActiveBans       int `json:"active_bans"`
	TemporaryActive  int `json:"temporary_active"`
	PermanentActive  int `json:"permanent_active"`
	AppealsPending   int `json:"appeals_pending"`
	AppealsEscalated int `json:"appeals_escalated"`
	OpenReports      int `json:"open_reports"`
}

// Policy holds the configurable moderation limits.
type Policy struct {
	MaxBanDuration   time.Duration
	AutoBanThreshold int
	AutoBanWindow    time.Duration
	AutoBanDuration  time.Duration
}
