package moderation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradepost/tradepost/internal/logging"
)

// Expirer lifts temporary bans when they run out. Timers are armed per ban for
// punctual expiry; a periodic sweep over the store catches anything a timer
// missed, including bans that fell due while the process was down.
type Expirer struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	stopped bool
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
}

// NewExpirer builds an expirer and attaches it to the service as its scheduler.
func NewExpirer(svc *Service, interval time.Duration, logger *slog.Logger) *Expirer {
	if interval <= 0 {
		interval = time.Minute
	}
	e := &Expirer{
		svc:      svc,
		interval: interval,
		logger:   logging.Component(logger, "ban-expirer"),
		timers:   make(map[string]*time.Timer),
	}
	svc.AttachScheduler(e)
	return e
}

// Run re-arms timers for every active temporary ban and sweeps on each tick
// until ctx is cancelled. All timers are stopped before it returns.
func (e *Expirer) Run(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.stopped = false
	e.mu.Unlock()

	bans, err := e.svc.repo.ActiveTemporary(ctx)
	if err != nil {
		e.logger.Error("load active bans", slog.Any("error", err))
	}
	for _, ban := range bans {
		e.Schedule(ban)
	}
	e.sweep(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.stopAll()
			return nil
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Expirer) sweep(ctx context.Context) {
	n, err := e.svc.ExpireDue(ctx, e.svc.now())
	if err != nil {
		e.logger.Error("sweep expired bans", slog.Any("error", err))
		return
	}
	if n > 0 {
		e.logger.Info("expired bans", slog.Int("count", n))
	}
}

// Schedule arms a timer for the ban, replacing any existing one. It is a no-op
// for permanent or inactive bans and while the expirer is not running.
func (e *Expirer) Schedule(ban Ban) {
	if !ban.Active || ban.Type != BanTemporary || ban.ExpiresAt == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil || e.stopped {
		return
	}
	if t, ok := e.timers[ban.ID]; ok {
		t.Stop()
	}
	id := ban.ID
	delay := max(time.Until(*ban.ExpiresAt), 0)
	e.timers[id] = time.AfterFunc(delay, func() { e.fire(id) })
}

// Cancel disarms the ban's timer if one is set.
func (e *Expirer) Cancel(banID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[banID]; ok {
		t.Stop()
		delete(e.timers, banID)
	}
}

// Pending reports how many timers are armed.
func (e *Expirer) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

func (e *Expirer) fire(banID string) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	delete(e.timers, banID)
	ctx := e.ctx
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	if err := e.svc.Expire(ctx, banID); err != nil {
		e.logger.Warn("expire ban", slog.String("ban_id", banID), slog.Any("error", err))
	}
}

func (e *Expirer) stopAll() {
	e.mu.Lock()
	e.stopped = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
