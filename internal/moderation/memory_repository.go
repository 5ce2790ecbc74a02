package moderation

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	bans    map[string]Ban
	active  map[string]string
	appeals map[string]Appeal
	byBan   map[string]string
	reports map[string]Report
}

// NewMemoryRepository builds the in-process store used in dev mode and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		bans:    make(map[string]Ban),
		active:  make(map[string]string),
		appeals: make(map[string]Appeal),
		byBan:   make(map[string]string),
		reports: make(map[string]Report),
	}
}

func (r *memoryRepository) CreateBan(_ context.Context, ban Ban) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[ban.UserID]; exists {
		return ErrAlreadyBanned
	}
	r.bans[ban.ID] = ban
	r.active[ban.UserID] = ban.ID
	return nil
}

func (r *memoryRepository) GetBan(_ context.Context, id string) (Ban, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ban, ok := r.bans[id]
	if !ok {
		return Ban{}, ErrBanNotFound
	}
	return ban, nil
}

func (r *memoryRepository) ActiveBanFor(_ context.Context, userID string) (Ban, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[userID]
	if !ok {
		return Ban{}, ErrNoActiveBan
	}
	return r.bans[id], nil
}

func (r *memoryRepository) ListBans(_ context.Context, filter BanFilter) ([]Ban, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Ban
	for _, b := range r.bans {
		if filter.UserID != "" && b.UserID != filter.UserID {
			continue
		}
		if filter.ActiveOnly && !b.Active {
			continue
		}
		if filter.Type != "" && b.Type != filter.Type {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r *memoryRepository) DeactivateBan(_ context.Context, id string, at time.Time, by string, reason LiftReason) (Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ban, ok := r.bans[id]
	if !ok {
		return Ban{}, ErrBanNotFound
	}
	if !ban.Active {
		return ban, ErrBanInactive
	}
	ban.Active = false
	ban.LiftedAt = &at
	ban.LiftedBy = by
	ban.LiftReason = reason
	r.bans[id] = ban
	delete(r.active, ban.UserID)
	return ban, nil
}

func (r *memoryRepository) DueBans(_ context.Context, now time.Time) ([]Ban, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Ban
	for _, id := range r.active {
		if b := r.bans[id]; b.ExpiredAt(now) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepository) ActiveTemporary(_ context.Context) ([]Ban, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Ban
	for _, id := range r.active {
		if b := r.bans[id]; b.Type == BanTemporary {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepository) CreateAppeal(_ context.Context, appeal Appeal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byBan[appeal.BanID]; exists {
		return ErrAppealExists
	}
	r.appeals[appeal.ID] = appeal
	r.byBan[appeal.BanID] = appeal.ID
	return nil
}

func (r *memoryRepository) GetAppeal(_ context.Context, id string) (Appeal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appeals[id]
	if !ok {
		return Appeal{}, ErrAppealNotFound
	}
	return a, nil
}

func (r *memoryRepository) AppealForBan(_ context.Context, banID string) (Appeal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byBan[banID]
	if !ok {
		return Appeal{}, ErrAppealNotFound
	}
	return r.appeals[id], nil
}

func (r *memoryRepository) UpdateAppeal(_ context.Context, appeal Appeal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appeals[appeal.ID]; !ok {
		return ErrAppealNotFound
	}
	r.appeals[appeal.ID] = appeal
	return nil
}

func (r *memoryRepository) ListAppeals(_ context.Context, status AppealStatus) ([]Appeal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appeal
	for _, a := range r.appeals {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (r *memoryRepository) CreateReport(_ context.Context, report Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.ID] = report
	return nil
}

func (r *memoryRepository) GetReport(_ context.Context, id string) (Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[id]
	if !ok {
		return Report{}, ErrReportNotFound
	}
	return rep, nil
}

func (r *memoryRepository) ResolveReports(_ context.Context, ids []string, status ReportStatus, by string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		rep, ok := r.reports[id]
		if !ok || rep.Status != ReportOpen {
			continue
		}
		rep.Status = status
		rep.ResolvedBy = by
		rep.ResolvedAt = &at
		r.reports[id] = rep
		n++
	}
	return n, nil
}

func (r *memoryRepository) ListReports(_ context.Context, status ReportStatus) ([]Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Report
	for _, rep := range r.reports {
		if status == "" || rep.Status == status {
			out = append(out, rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) OpenReportsAgainst(_ context.Context, reportedID string, since time.Time) ([]Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Report
	for _, rep := range r.reports {
		if rep.ReportedID == reportedID && rep.Status == ReportOpen && !rep.CreatedAt.Before(since) {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (r *memoryRepository) Stats(_ context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{TotalBans: len(r.bans)}
	for _, b := range r.bans {
		if !b.Active {
			continue
		}
		st.ActiveBans++
		if b.Type == BanTemporary {
			st.TemporaryActive++
		} else {
			st.PermanentActive++
		}
	}
	for _, a := range r.appeals {
		switch a.Status {
		case AppealPending:
			st.AppealsPending++
		case AppealEscalated:
			st.AppealsEscalated++
		}
	}
	for _, rep := range r.reports {
		if rep.Status == ReportOpen {
			st.OpenReports++
		}
	}
	return st, nil
}
