package moderation

import (
	"context"
	"time"
)

// Repository persists bans, appeals and reports.
type Repository interface {
	// CreateBan stores a new active ban. It returns ErrAlreadyBanned when the
	// user already has one.
	CreateBan(ctx context.Context, ban Ban) error
	GetBan(ctx context.Context, id string) (Ban, error)
	// ActiveBanFor returns the user's active ban or ErrNoActiveBan.
	ActiveBanFor(ctx context.Context, userID string) (Ban, error)
	ListBans(ctx context.Context, filter BanFilter) ([]Ban, error)
	// DeactivateBan flips an active ban to inactive and returns the updated
	// row. Inactive bans yield ErrBanInactive.
	DeactivateBan(ctx context.Context, id string, at time.Time, by string, reason LiftReason) (Ban, error)
	// DueBans lists active temporary bans expiring at or before now.
	DueBans(ctx context.Context, now time.Time) ([]Ban, error)
	// ActiveTemporary lists every active temporary ban.
	ActiveTemporary(ctx context.Context) ([]Ban, error)

	CreateAppeal(ctx context.Context, appeal Appeal) error
	GetAppeal(ctx context.Context, id string) (Appeal, error)
	AppealForBan(ctx context.Context, banID string) (Appeal, error)
	UpdateAppeal(ctx context.Context, appeal Appeal) error
	ListAppeals(ctx context.Context, status AppealStatus) ([]Appeal, error)

	CreateReport(ctx context.Context, report Report) error
	GetReport(ctx context.Context, id string) (Report, error)
	// ResolveReports moves open reports to status. Already-resolved ids are skipped.
	ResolveReports(ctx context.Context, ids []string, status ReportStatus, by string, at time.Time) (int, error)
	ListReports(ctx context.Context, status ReportStatus) ([]Report, error)
	// OpenReportsAgainst lists open reports about a user created since the given time.
	OpenReportsAgainst(ctx context.Context, reportedID string, since time.Time) ([]Report, error)

	Stats(ctx context.Context) (Stats, error)
}
