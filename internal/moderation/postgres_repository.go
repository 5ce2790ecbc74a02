package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed moderation repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const (
	banColumns    = `id, user_id, username, reason, type, duration_seconds, issued_by, issued_at, expires_at, active, lifted_at, lifted_by, lift_reason`
	appealColumns = `id, ban_id, user_id, message, status, submitted_at, reviewed_by, review_notes, reviewed_at`
	reportColumns = `id, reporter_id, reported_id, reported_username, thread_id, message_id, reason, details, status, created_at, resolved_by, resolved_at`
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PostgresRepository) CreateBan(ctx context.Context, ban Ban) error {
	_, err := r.db.Exec(ctx, `INSERT INTO bans (`+banColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ban.ID, ban.UserID, ban.Username, ban.Reason, string(ban.Type), int64(ban.Duration/time.Second),
		ban.IssuedBy, ban.IssuedAt.UTC(), ban.ExpiresAt, ban.Active, ban.LiftedAt, ban.LiftedBy, string(ban.LiftReason))
	if isUniqueViolation(err) {
		return ErrAlreadyBanned
	}
	return err
}

func (r *PostgresRepository) GetBan(ctx context.Context, id string) (Ban, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Ban{}, ErrBanNotFound
	}
	ban, err := scanBan(r.db.QueryRow(ctx, `SELECT `+banColumns+` FROM bans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ban{}, ErrBanNotFound
	}
	return ban, err
}

func (r *PostgresRepository) ActiveBanFor(ctx context.Context, userID string) (Ban, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return Ban{}, ErrNoActiveBan
	}
	ban, err := scanBan(r.db.QueryRow(ctx, `SELECT `+banColumns+` FROM bans WHERE user_id = $1 AND active`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ban{}, ErrNoActiveBan
	}
	return ban, err
}

func (r *PostgresRepository) ListBans(ctx context.Context, filter BanFilter) ([]Ban, error) {
	rows, err := r.db.Query(ctx, `SELECT `+banColumns+` FROM bans
        WHERE ($1 = '' OR user_id::text = $1)
          AND (NOT $2 OR active)
          AND ($3 = '' OR type = $3)
        ORDER BY issued_at DESC`, filter.UserID, filter.ActiveOnly, string(filter.Type))
	if err != nil {
		return nil, err
	}
	return collectBans(rows)
}

func (r *PostgresRepository) DeactivateBan(ctx context.Context, id string, at time.Time, by string, reason LiftReason) (Ban, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Ban{}, ErrBanNotFound
	}
	ban, err := scanBan(r.db.QueryRow(ctx, `UPDATE bans SET active = FALSE, lifted_at = $2, lifted_by = $3, lift_reason = $4
        WHERE id = $1 AND active RETURNING `+banColumns, id, at.UTC(), by, string(reason)))
	if err == nil {
		return ban, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Ban{}, err
	}
	existing, err := r.GetBan(ctx, id)
	if err != nil {
		return Ban{}, err
	}
	return existing, ErrBanInactive
}

func (r *PostgresRepository) DueBans(ctx context.Context, now time.Time) ([]Ban, error) {
	rows, err := r.db.Query(ctx, `SELECT `+banColumns+` FROM bans
        WHERE active AND type = $1 AND expires_at <= $2`, string(BanTemporary), now.UTC())
	if err != nil {
		return nil, err
	}
	return collectBans(rows)
}

func (r *PostgresRepository) ActiveTemporary(ctx context.Context) ([]Ban, error) {
	rows, err := r.db.Query(ctx, `SELECT `+banColumns+` FROM bans WHERE active AND type = $1`, string(BanTemporary))
	if err != nil {
		return nil, err
	}
	return collectBans(rows)
}

func (r *PostgresRepository) CreateAppeal(ctx context.Context, a Appeal) error {
	_, err := r.db.Exec(ctx, `INSERT INTO appeals (`+appealColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.BanID, a.UserID, a.Message, string(a.Status), a.SubmittedAt.UTC(), a.ReviewedBy, a.ReviewNotes, a.ReviewedAt)
	if isUniqueViolation(err) {
		return ErrAppealExists
	}
	return err
}

func (r *PostgresRepository) GetAppeal(ctx context.Context, id string) (Appeal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Appeal{}, ErrAppealNotFound
	}
	return scanAppeal(r.db.QueryRow(ctx, `SELECT `+appealColumns+` FROM appeals WHERE id = $1`, id))
}

func (r *PostgresRepository) AppealForBan(ctx context.Context, banID string) (Appeal, error) {
	if _, err := uuid.Parse(banID); err != nil {
		return Appeal{}, ErrAppealNotFound
	}
	return scanAppeal(r.db.QueryRow(ctx, `SELECT `+appealColumns+` FROM appeals WHERE ban_id = $1`, banID))
}

func (r *PostgresRepository) UpdateAppeal(ctx context.Context, a Appeal) error {
	cmd, err := r.db.Exec(ctx, `UPDATE appeals SET status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5 WHERE id = $1`,
		a.ID, string(a.Status), a.ReviewedBy, a.ReviewNotes, a.ReviewedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAppealNotFound
	}
	return nil
}

func (r *PostgresRepository) ListAppeals(ctx context.Context, status AppealStatus) ([]Appeal, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appealColumns+` FROM appeals
        WHERE ($1 = '' OR status = $1) ORDER BY submitted_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Appeal
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateReport(ctx context.Context, rep Report) error {
	_, err := r.db.Exec(ctx, `INSERT INTO reports (`+reportColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rep.ID, rep.ReporterID, rep.ReportedID, rep.ReportedUsername, rep.ThreadID, rep.MessageID,
		string(rep.Reason), rep.Details, string(rep.Status), rep.CreatedAt.UTC(), rep.ResolvedBy, rep.ResolvedAt)
	return err
}

func (r *PostgresRepository) GetReport(ctx context.Context, id string) (Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Report{}, ErrReportNotFound
	}
	rep, err := scanReport(r.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Report{}, ErrReportNotFound
	}
	return rep, err
}

func (r *PostgresRepository) ResolveReports(ctx context.Context, ids []string, status ReportStatus, by string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmd, err := r.db.Exec(ctx, `UPDATE reports SET status = $1, resolved_by = $2, resolved_at = $3
        WHERE id::text = ANY($4) AND status = $5`, string(status), by, at.UTC(), ids, string(ReportOpen))
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *PostgresRepository) ListReports(ctx context.Context, status ReportStatus) ([]Report, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reportColumns+` FROM reports
        WHERE ($1 = '' OR status = $1) ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	return collectReports(rows)
}

func (r *PostgresRepository) OpenReportsAgainst(ctx context.Context, reportedID string, since time.Time) ([]Report, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reportColumns+` FROM reports
        WHERE reported_id = $1 AND status = $2 AND created_at >= $3`, reportedID, string(ReportOpen), since.UTC())
	if err != nil {
		return nil, err
	}
	return collectReports(rows)
}

func (r *PostgresRepository) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := r.db.QueryRow(ctx, `SELECT
            (SELECT COUNT(*) FROM bans),
            (SELECT COUNT(*) FROM bans WHERE active),
            (SELECT COUNT(*) FROM bans WHERE active AND type = 'temporary'),
            (SELECT COUNT(*) FROM bans WHERE active AND type = 'permanent'),
            (SELECT COUNT(*) FROM appeals WHERE status = 'pending'),
            (SELECT COUNT(*) FROM appeals WHERE status = 'escalated'),
            (SELECT COUNT(*) FROM reports WHERE status = 'open')`).
		Scan(&st.TotalBans, &st.ActiveBans, &st.TemporaryActive, &st.PermanentActive,
			&st.AppealsPending, &st.AppealsEscalated, &st.OpenReports)
	return st, err
}

func scanBan(row pgx.Row) (Ban, error) {
	var (
		b        Ban
		id, uid  uuid.UUID
		typ      string
		seconds  int64
		reason   string
		issuedAt time.Time
	)
	err := row.Scan(&id, &uid, &b.Username, &b.Reason, &typ, &seconds, &b.IssuedBy, &issuedAt,
		&b.ExpiresAt, &b.Active, &b.LiftedAt, &b.LiftedBy, &reason)
	if err != nil {
		return Ban{}, err
	}
	b.ID = id.String()
	b.UserID = uid.String()
	b.Type = BanType(typ)
	b.Duration = time.Duration(seconds) * time.Second
	b.IssuedAt = issuedAt.UTC()
	b.LiftReason = LiftReason(reason)
	return b, nil
}

func collectBans(rows pgx.Rows) ([]Ban, error) {
	defer rows.Close()
	var out []Ban
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanAppeal(row pgx.Row) (Appeal, error) {
	var (
		a              Appeal
		id, banID, uid uuid.UUID
		status         string
	)
	err := row.Scan(&id, &banID, &uid, &a.Message, &status, &a.SubmittedAt, &a.ReviewedBy, &a.ReviewNotes, &a.ReviewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Appeal{}, ErrAppealNotFound
	}
	if err != nil {
		return Appeal{}, err
	}
	a.ID = id.String()
	a.BanID = banID.String()
	a.UserID = uid.String()
	a.Status = AppealStatus(status)
	a.SubmittedAt = a.SubmittedAt.UTC()
	return a, nil
}

func scanReport(row pgx.Row) (Report, error) {
	var (
		rep              Report
		id, reporter, rd uuid.UUID
		reason, status   string
	)
	err := row.Scan(&id, &reporter, &rd, &rep.ReportedUsername, &rep.ThreadID, &rep.MessageID,
		&reason, &rep.Details, &status, &rep.CreatedAt, &rep.ResolvedBy, &rep.ResolvedAt)
	if err != nil {
		return Report{}, err
	}
	rep.ID = id.String()
	rep.ReporterID = reporter.String()
	rep.ReportedID = rd.String()
	rep.Reason = ReportReason(reason)
	rep.Status = ReportStatus(status)
	rep.CreatedAt = rep.CreatedAt.UTC()
	return rep, nil
}

func collectReports(rows pgx.Rows) ([]Report, error) {
	defer rows.Close()
	var out []Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}
