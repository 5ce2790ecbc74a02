package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tradepost/tradepost/internal/analytics"
	"github.com/tradepost/tradepost/internal/auth"
	"github.com/tradepost/tradepost/internal/config"
	"github.com/tradepost/tradepost/internal/funding"
	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/ledger"
	"github.com/tradepost/tradepost/internal/logging"
	"github.com/tradepost/tradepost/internal/messaging"
	"github.com/tradepost/tradepost/internal/middleware"
	"github.com/tradepost/tradepost/internal/moderation"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/orders"
	"github.com/tradepost/tradepost/internal/payments"
	"github.com/tradepost/tradepost/internal/rbac"
	"github.com/tradepost/tradepost/internal/realtime"
	"github.com/tradepost/tradepost/internal/routes"
	"github.com/tradepost/tradepost/internal/search"
	"github.com/tradepost/tradepost/internal/wallet"
)

type components struct {
	handlers routes.Handlers
	guards   routes.Guards
	health   routes.HealthDeps
	runners  []runner
}

// stores picks Postgres-backed repositories when db is set, in-memory ones otherwise.
type stores struct {
	identity   identity.Repository
	wallets    wallet.Repository
	ledger     ledger.Ledger
	moderation moderation.Repository
	messaging  messaging.Repository
	orders     orders.Repository
}

func newStores(db *pgxpool.Pool) stores {
	if db == nil {
		return stores{
			identity:   identity.NewMemoryRepository(),
			wallets:    wallet.NewMemoryRepository(),
			ledger:     ledger.NewInMemory(),
			moderation: moderation.NewMemoryRepository(),
			messaging:  messaging.NewMemoryRepository(),
			orders:     orders.NewMemoryRepository(),
		}
	}
	return stores{
		identity:   identity.NewPostgresRepository(db),
		wallets:    wallet.NewPostgresRepository(db),
		ledger:     ledger.NewPostgresLedger(db),
		moderation: moderation.NewPostgresRepository(db),
		messaging:  messaging.NewPostgresRepository(db),
		orders:     orders.NewPostgresRepository(db),
	}
}

func wire(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client, log *slog.Logger) (components, error) {
	var out components
	st := newStores(db)
	if err := ledger.EnsureSystemAccounts(ctx, st.ledger); err != nil {
		return out, err
	}

	hub := realtime.NewHub(logging.Component(log, "realtime"))
	out.runners = append(out.runners, runner{"hub", hub.Run})

	var (
		broker   realtime.Broker
		inbox    notification.Inbox
		banCache moderation.BanCache
		dedup    messaging.Deduper
	)
	if cache != nil {
		rb := realtime.NewRedisBroker(cache, cfg.EventsChannel, hub, logging.Component(log, "broker"))
		out.runners = append(out.runners, runner{"broker", rb.Run})
		broker = rb
		inbox = notification.NewRedisInbox(cache)
		banCache = moderation.NewRedisBanCache(cache)
		dedup = messaging.NewRedisDeduper(cache, cfg.MessageDedupTTL)
	} else {
		broker = realtime.NewLocalBroker(hub)
		inbox = notification.NewMemoryInbox()
		banCache = moderation.NoopBanCache{}
		dedup = messaging.NewMemoryDeduper(cfg.MessageDedupTTL)
	}

	ids := identity.NewService(st.identity)
	usernameOf := func(ctx context.Context, userID string) (string, error) {
		u, err := ids.FindByID(ctx, userID)
		return u.Username, err
	}
	notifier := notification.Fanout{
		inbox,
		realtime.NewNotifier(broker, usernameOf),
		notification.NewLoggerNotifier(logging.Component(log, "notification")),
	}

	wallets := wallet.NewService(st.wallets, st.ledger)
	pay := payments.NewService(st.ledger, wallets, notifier)
	fund, err := funding.NewService(ctx, st.ledger, wallets, funding.StaticAcquirer{}, notifier)
	if err != nil {
		return out, err
	}

	mod := moderation.NewService(st.moderation, banCache, ids, notifier, broker, moderation.Policy{
		MaxBanDuration:   cfg.MaxBanDuration,
		AutoBanThreshold: cfg.AutoBanThreshold,
		AutoBanWindow:    cfg.AutoBanWindow,
		AutoBanDuration:  cfg.AutoBanDuration,
	}, log)
	expirer := moderation.NewExpirer(mod, cfg.BanSweepInterval, log)
	out.runners = append(out.runners, runner{"ban expirer", expirer.Run})

	deps := messaging.Dependencies{
		Dedup:    dedup,
		Bans:     mod,
		Reports:  mod,
		Notifier: notifier,
		Broker:   broker,
		Logger:   log,
	}
	if cfg.MeiliURL != "" {
		idx := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		out.runners = append(out.runners, runner{"search", idx.Run})
		deps.Search = idx
		out.health.Search = idx
	}
	msgs := messaging.NewService(st.messaging, ids, deps)
	ord := orders.NewService(st.orders, ids, mod, pay, msgs, notifier, broker, log)
	tokens := auth.NewService(cfg, st.identity)

	if err := seedAdmin(ctx, cfg, ids, wallets, log); err != nil {
		return out, err
	}

	ws := websocket.New(realtime.WebSocketHandler(realtime.Options{
		Hub:      hub,
		Sync:     msgs.SyncEvents,
		MarkRead: msgs.ReadUpTo,
		ThreadOf: messaging.ThreadID,
		Logger:   logging.Component(log, "ws"),
	}))

	out.health.DB = db
	out.health.Cache = cache
	out.guards = routes.Guards{
		JWT:       middleware.JWTAuth(tokens),
		BanGuard:  middleware.BanGuard(mod, log),
		LoginRate: middleware.LoginRateLimit(cache, cfg.LoginAttempts, log),
	}
	out.handlers = routes.Handlers{
		Auth:          auth.NewHandler(ids, tokens, wallets, mod, logging.Component(log, "auth")),
		Identity:      identity.NewHandler(ids),
		Wallet:        wallet.NewHandler(wallets),
		Payments:      payments.NewHandler(pay, wallets),
		Funding:       funding.NewHandler(fund),
		Moderation:    moderation.NewHandler(mod),
		Messaging:     messaging.NewHandler(msgs),
		Notifications: notification.NewHandler(inbox),
		Orders:        orders.NewHandler(ord),
		Analytics:     analytics.NewHandler(analytics.NewService(mod, msgs, ord)),
		Me:            routes.MeHandler(ids, wallets, mod),
		WebSocket: func(c *fiber.Ctx) error {
			if !websocket.IsWebSocketUpgrade(c) {
				return fiber.NewError(http.StatusUpgradeRequired, "websocket upgrade required")
			}
			return ws(c)
		},
	}
	return out, nil
}

// seedAdmin provisions the configured admin account once.
func seedAdmin(ctx context.Context, cfg config.Config, ids *identity.Service, wallets *wallet.Service, log *slog.Logger) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil
	}
	_, err := ids.FindByUsername(ctx, identity.NormalizeUsername(cfg.AdminUsername))
	if err == nil {
		return nil
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		return err
	}
	admin, err := ids.Provision(ctx, identity.Registration{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Role:     rbac.RoleAdmin,
	})
	if err != nil {
		return err
	}
	if _, err := wallets.Create(ctx, wallet.CreateInput{OwnerID: admin.ID}); err != nil {
		return err
	}
	log.Info("admin account provisioned", slog.String("username", admin.Username))
	return nil
}
