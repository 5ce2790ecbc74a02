package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/logging"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/rbac"
	"github.com/tradepost/tradepost/internal/realtime"
)

const (
	minReasonLength  = 3
	maxReasonLength  = 500
	minAppealLength  = 10
	maxAppealLength  = 2000
	maxReportDetails = 1000
)

// Users resolves ban and report targets.
type Users interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
	FindByUsername(ctx context.Context, username string) (identity.User, error)
}

// Scheduler arms and disarms expiry timers for temporary bans.
type Scheduler interface {
	Schedule(ban Ban)
	Cancel(banID string)
}

// Service runs the ban, appeal and report workflows.
type Service struct {
	repo     Repository
	cache    BanCache
	users    Users
	notifier notification.Notifier
	broker   realtime.Broker
	policy   Policy
	logger   *slog.Logger
	sched    Scheduler
	now      func() time.Time
}

// NewService wires the moderation service. cache, notifier and broker may be nil.
func NewService(repo Repository, cache BanCache, users Users, notifier notification.Notifier,
	broker realtime.Broker, policy Policy, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NoopBanCache{}
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		users:    users,
		notifier: notifier,
		broker:   broker,
		policy:   policy,
		logger:   logging.Component(logger, "moderation"),
		now:      time.Now,
	}
}

// AttachScheduler registers the component that expires temporary bans on time.
func (s *Service) AttachScheduler(sched Scheduler) {
	s.sched = sched
}

func (s *Service) resolveUser(ctx context.Context, id, username string) (identity.User, error) {
	var (
		user identity.User
		err  error
	)
	if id != "" {
		user, err = s.users.FindByID(ctx, id)
	} else {
		user, err = s.users.FindByUsername(ctx, identity.NormalizeUsername(username))
	}
	if errors.Is(err, identity.ErrUserNotFound) {
		return identity.User{}, ErrUnknownUser
	}
	return user, err
}

// IssueBan validates and records a ban, then caches it, arms its expiry and
// tells the user.
func (s *Service) IssueBan(ctx context.Context, in IssueInput) (Ban, error) {
	reason := Sanitize(in.Reason)
	if !ValidLength(reason, minReasonLength, maxReasonLength) {
		return Ban{}, ErrInvalidReason
	}
	switch in.Type {
	case BanTemporary:
		if in.Duration <= 0 || (s.policy.MaxBanDuration > 0 && in.Duration > s.policy.MaxBanDuration) {
			return Ban{}, ErrInvalidDuration
		}
	case BanPermanent:
		in.Duration = 0
	default:
		return Ban{}, ErrInvalidBanType
	}

	user, err := s.resolveUser(ctx, in.UserID, in.Username)
	if err != nil {
		return Ban{}, err
	}
	if user.Role == rbac.RoleAdmin {
		return Ban{}, ErrCannotBanAdmin
	}
	if _, err := s.ActiveBan(ctx, user.ID); err == nil {
		return Ban{}, ErrAlreadyBanned
	} else if !errors.Is(err, ErrNoActiveBan) {
		return Ban{}, err
	}

	issuedBy := in.IssuedBy
	if issuedBy == "" {
		issuedBy = SystemActor
	}
	now := s.now().UTC()
	ban := Ban{
		ID:       uuid.NewString(),
		UserID:   user.ID,
		Username: user.Username,
		Reason:   reason,
		Type:     in.Type,
		Duration: in.Duration,
		IssuedBy: issuedBy,
		IssuedAt: now,
		Active:   true,
	}
	if ban.Type == BanTemporary {
		expires := now.Add(in.Duration)
		ban.ExpiresAt = &expires
	}
	if err := s.repo.CreateBan(ctx, ban); err != nil {
		return Ban{}, err
	}

	if err := s.cache.Put(ctx, ban, now); err != nil {
		s.logger.Warn("cache ban", slog.String("ban_id", ban.ID), slog.Any("error", err))
	}
	if s.sched != nil && ban.Type == BanTemporary {
		s.sched.Schedule(ban)
	}
	s.logger.Info("ban issued",
		slog.String("ban_id", ban.ID),
		slog.String("user_id", ban.UserID),
		slog.String("type", string(ban.Type)),
		slog.String("issued_by", ban.IssuedBy),
	)
	body := "Your account has been permanently banned: " + ban.Reason
	if ban.ExpiresAt != nil {
		body = fmt.Sprintf("Your account is banned until %s: %s", ban.ExpiresAt.Format(time.RFC3339), ban.Reason)
	}
	s.notify(ctx, notification.KindBanIssued, ban.UserID, ban.ID, body)
	s.publish(ctx, realtime.TypeBanIssued, ban, ban.Username)
	return ban, nil
}

// LiftBan deactivates an active ban. An empty reason records a manual lift.
func (s *Service) LiftBan(ctx context.Context, banID, liftedBy string, reason LiftReason) (Ban, error) {
	if reason == "" {
		reason = LiftManual
	}
	if liftedBy == "" {
		liftedBy = SystemActor
	}
	return s.deactivate(ctx, banID, liftedBy, reason)
}

func (s *Service) deactivate(ctx context.Context, banID, by string, reason LiftReason) (Ban, error) {
	ban, err := s.repo.DeactivateBan(ctx, banID, s.now().UTC(), by, reason)
	if err != nil {
		return ban, err
	}
	if err := s.cache.Evict(ctx, ban.UserID); err != nil {
		s.logger.Warn("evict cached ban", slog.String("ban_id", ban.ID), slog.Any("error", err))
	}
	if s.sched != nil {
		s.sched.Cancel(ban.ID)
	}
	s.logger.Info("ban lifted",
		slog.String("ban_id", ban.ID),
		slog.String("user_id", ban.UserID),
		slog.String("reason", string(reason)),
	)
	s.notify(ctx, notification.KindBanLifted, ban.UserID, ban.ID, "Your ban has been lifted ("+string(reason)+")")
	s.publish(ctx, realtime.TypeBanLifted, ban, ban.Username)
	return ban, nil
}

// Expire lifts a temporary ban whose time is up. Bans that are already
// inactive or not yet due are left alone.
func (s *Service) Expire(ctx context.Context, banID string) error {
	ban, err := s.repo.GetBan(ctx, banID)
	if err != nil {
		return err
	}
	if !ban.Active || !ban.ExpiredAt(s.now()) {
		return nil
	}
	_, err = s.deactivate(ctx, banID, SystemActor, LiftExpired)
	if errors.Is(err, ErrBanInactive) {
		return nil
	}
	return err
}

// ActiveBan returns the user's active ban or ErrNoActiveBan. A ban found past
// its expiry is expired on the spot.
func (s *Service) ActiveBan(ctx context.Context, userID string) (Ban, error) {
	now := s.now()
	cached, ok, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("read cached ban", slog.String("user_id", userID), slog.Any("error", err))
	}
	if ok && cached.Active && !cached.ExpiredAt(now) {
		return cached, nil
	}

	ban, err := s.repo.ActiveBanFor(ctx, userID)
	if err != nil {
		return Ban{}, err
	}
	if ban.ExpiredAt(now) {
		if err := s.Expire(ctx, ban.ID); err != nil {
			s.logger.Warn("expire on read", slog.String("ban_id", ban.ID), slog.Any("error", err))
		}
		return Ban{}, ErrNoActiveBan
	}
	if err := s.cache.Put(ctx, ban, now); err != nil {
		s.logger.Warn("cache ban", slog.String("ban_id", ban.ID), slog.Any("error", err))
	}
	return ban, nil
}

// GetBan fetches a ban by id.
func (s *Service) GetBan(ctx context.Context, banID string) (Ban, error) {
	return s.repo.GetBan(ctx, banID)
}

// ListBans returns bans matching filter, newest first.
func (s *Service) ListBans(ctx context.Context, filter BanFilter) ([]Ban, error) {
	return s.repo.ListBans(ctx, filter)
}

// History returns every ban a user has received, newest first, with appeals attached.
func (s *Service) History(ctx context.Context, userID string) ([]Ban, error) {
	bans, err := s.repo.ListBans(ctx, BanFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	for i := range bans {
		appeal, err := s.repo.AppealForBan(ctx, bans[i].ID)
		switch {
		case err == nil:
			bans[i].Appeal = &appeal
		case !errors.Is(err, ErrAppealNotFound):
			return nil, err
		}
	}
	return bans, nil
}

// ExpireDue expires every active temporary ban due at or before now and
// returns how many were expired.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.DueBans(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, ban := range due {
		_, err := s.deactivate(ctx, ban.ID, SystemActor, LiftExpired)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrBanInactive):
		default:
			return expired, err
		}
	}
	return expired, nil
}

// Stats summarises moderation state.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// SubmitAppeal files the user's single appeal against an active ban.
func (s *Service) SubmitAppeal(ctx context.Context, banID, userID, message string) (Appeal, error) {
	ban, err := s.repo.GetBan(ctx, banID)
	if err != nil {
		return Appeal{}, err
	}
	if ban.UserID != userID {
		return Appeal{}, ErrNotBanOwner
	}
	if ban.Active && ban.ExpiredAt(s.now()) {
		if err := s.Expire(ctx, ban.ID); err != nil {
			return Appeal{}, err
		}
		ban.Active = false
	}
	if !ban.Active {
		return Appeal{}, ErrBanInactive
	}
	message = Sanitize(message)
	if !ValidLength(message, minAppealLength, maxAppealLength) {
		return Appeal{}, ErrInvalidAppeal
	}

	appeal := Appeal{
		ID:          uuid.NewString(),
		BanID:       ban.ID,
		UserID:      userID,
		Message:     message,
		Status:      AppealPending,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.repo.CreateAppeal(ctx, appeal); err != nil {
		return Appeal{}, err
	}
	s.logger.Info("appeal submitted", slog.String("appeal_id", appeal.ID), slog.String("ban_id", ban.ID))
	return appeal, nil
}

func nextAppealStatus(from AppealStatus, d Decision) (AppealStatus, error) {
	var to AppealStatus
	switch d {
	case DecisionApprove:
		to = AppealApproved
	case DecisionReject:
		to = AppealRejected
	case DecisionEscalate:
		to = AppealEscalated
	default:
		return "", ErrInvalidDecision
	}
	switch {
	case from == AppealPending:
		return to, nil
	case from == AppealEscalated && to != AppealEscalated:
		return to, nil
	default:
		return "", ErrInvalidTransition
	}
}

// ReviewAppeal applies an admin decision. Approval lifts the ban if it is still active.
func (s *Service) ReviewAppeal(ctx context.Context, appealID string, in ReviewInput) (Appeal, error) {
	appeal, err := s.repo.GetAppeal(ctx, appealID)
	if err != nil {
		return Appeal{}, err
	}
	status, err := nextAppealStatus(appeal.Status, in.Decision)
	if err != nil {
		return Appeal{}, err
	}
	notes := Sanitize(in.Notes)
	if !ValidLength(notes, 0, maxAppealLength) {
		return Appeal{}, ErrInvalidAppeal
	}

	now := s.now().UTC()
	appeal.Status = status
	appeal.ReviewedBy = in.ReviewerID
	appeal.ReviewNotes = notes
	appeal.ReviewedAt = &now
	if err := s.repo.UpdateAppeal(ctx, appeal); err != nil {
		return Appeal{}, err
	}

	ban, err := s.repo.GetBan(ctx, appeal.BanID)
	if err != nil {
		return Appeal{}, err
	}
	if status == AppealApproved && ban.Active {
		if _, err := s.deactivate(ctx, ban.ID, in.ReviewerID, LiftAppealApproved); err != nil && !errors.Is(err, ErrBanInactive) {
			return Appeal{}, err
		}
	}
	s.logger.Info("appeal reviewed",
		slog.String("appeal_id", appeal.ID),
		slog.String("status", string(status)),
		slog.String("reviewer", in.ReviewerID),
	)
	s.notify(ctx, notification.KindAppealReviewed, appeal.UserID, appeal.ID, "Your appeal was "+string(status))
	s.publish(ctx, realtime.TypeAppealReviewed, appeal, ban.Username)
	return appeal, nil
}

// ListAppeals returns appeals oldest first. An empty status lists all of them.
func (s *Service) ListAppeals(ctx context.Context, status AppealStatus) ([]Appeal, error) {
	return s.repo.ListAppeals(ctx, status)
}

func validReportReason(r ReportReason) bool {
	switch r {
	case ReasonSpam, ReasonHarassment, ReasonFraud, ReasonInappropriate, ReasonOther:
		return true
	default:
		return false
	}
}

// FileReport records a complaint and bans the reported user automatically once
// enough distinct reporters pile up within the policy window.
func (s *Service) FileReport(ctx context.Context, in ReportInput) (Report, error) {
	reported, err := s.resolveUser(ctx, in.ReportedID, in.ReportedUsername)
	if err != nil {
		return Report{}, err
	}
	if reported.ID == in.ReporterID {
		return Report{}, ErrSelfReport
	}
	details := Sanitize(in.Details)
	if !validReportReason(in.Reason) || !ValidLength(details, 0, maxReportDetails) {
		return Report{}, ErrInvalidReport
	}

	report := Report{
		ID:               uuid.NewString(),
		ReporterID:       in.ReporterID,
		ReportedID:       reported.ID,
		ReportedUsername: reported.Username,
		ThreadID:         in.ThreadID,
		MessageID:        in.MessageID,
		Reason:           in.Reason,
		Details:          details,
		Status:           ReportOpen,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.repo.CreateReport(ctx, report); err != nil {
		return Report{}, err
	}
	s.logger.Info("report filed",
		slog.String("report_id", report.ID),
		slog.String("reported_id", report.ReportedID),
		slog.String("reason", string(report.Reason)),
	)

	if err := s.autoBan(ctx, reported); err != nil {
		s.logger.Warn("auto ban", slog.String("user_id", reported.ID), slog.Any("error", err))
	}
	return report, nil
}

func (s *Service) autoBan(ctx context.Context, user identity.User) error {
	if s.policy.AutoBanThreshold <= 0 || user.Role == rbac.RoleAdmin {
		return nil
	}
	now := s.now().UTC()
	open, err := s.repo.OpenReportsAgainst(ctx, user.ID, now.Add(-s.policy.AutoBanWindow))
	if err != nil {
		return err
	}
	reporters := mapset.NewThreadUnsafeSet[string]()
	ids := make([]string, 0, len(open))
	for _, r := range open {
		reporters.Add(r.ReporterID)
		ids = append(ids, r.ID)
	}
	if reporters.Cardinality() < s.policy.AutoBanThreshold {
		return nil
	}

	_, err = s.IssueBan(ctx, IssueInput{
		UserID:   user.ID,
		Reason:   fmt.Sprintf("Automatic ban: reported by %d users within %s", reporters.Cardinality(), s.policy.AutoBanWindow),
		Type:     BanTemporary,
		Duration: s.policy.AutoBanDuration,
		IssuedBy: SystemActor,
	})
	if errors.Is(err, ErrAlreadyBanned) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.repo.ResolveReports(ctx, ids, ReportActioned, SystemActor, now)
	return err
}

// ResolveInput is a moderator's decision on an open report. Ban overrides the
// default temporary ban when Action is ResolveBan.
type ResolveInput struct {
	ReportID   string
	ResolverID string
	Action     Resolution
	Ban        *IssueInput
}

// ResolveReport dismisses an open report or bans the reported user. The
// returned ban is nil on dismissal or when the user was already banned.
func (s *Service) ResolveReport(ctx context.Context, in ResolveInput) (Report, *Ban, error) {
	report, err := s.repo.GetReport(ctx, in.ReportID)
	if err != nil {
		return Report{}, nil, err
	}
	if report.Status != ReportOpen {
		return Report{}, nil, ErrInvalidTransition
	}

	var (
		issued *Ban
		status ReportStatus
	)
	switch in.Action {
	case ResolveDismiss:
		status = ReportDismissed
	case ResolveBan:
		status = ReportActioned
		ban := IssueInput{
			Reason:   fmt.Sprintf("Reported for %s", report.Reason),
			Type:     BanTemporary,
			Duration: s.policy.AutoBanDuration,
		}
		if in.Ban != nil {
			ban = *in.Ban
		}
		ban.UserID = report.ReportedID
		ban.Username = ""
		ban.IssuedBy = in.ResolverID
		b, err := s.IssueBan(ctx, ban)
		switch {
		case err == nil:
			issued = &b
		case errors.Is(err, ErrAlreadyBanned):
		default:
			return Report{}, nil, err
		}
	default:
		return Report{}, nil, ErrInvalidReport
	}

	now := s.now().UTC()
	if _, err := s.repo.ResolveReports(ctx, []string{report.ID}, status, in.ResolverID, now); err != nil {
		return Report{}, nil, err
	}
	report.Status = status
	report.ResolvedBy = in.ResolverID
	report.ResolvedAt = &now
	return report, issued, nil
}

// ListReports returns reports oldest first. An empty status lists all of them.
func (s *Service) ListReports(ctx context.Context, status ReportStatus) ([]Report, error) {
	return s.repo.ListReports(ctx, status)
}

func (s *Service) notify(ctx context.Context, kind, userID, ref, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: userID, Ref: ref, Body: body}); err != nil {
		s.logger.Warn("notify", slog.String("kind", kind), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, typ string, payload any, username string) {
	if s.broker == nil || username == "" {
		return
	}
	e, err := realtime.NewEvent(typ, payload, username)
	if err == nil {
		err = s.broker.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn("publish event", slog.String("type", typ), slog.Any("error", err))
	}
}
