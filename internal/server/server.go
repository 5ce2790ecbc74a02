package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tradepost/tradepost/internal/config"
	"github.com/tradepost/tradepost/internal/middleware"
	"github.com/tradepost/tradepost/internal/routes"
)

// runner is a background loop owned by the server.
type runner struct {
	name string
	run  func(ctx context.Context) error
}

// Server wraps the Fiber application and the background loops it depends on.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	logger  *slog.Logger
	runners []runner
}

// New builds the HTTP server. db and cache may be nil in development, in
// which case in-memory backends are used.
func New(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client, log *slog.Logger) (*Server, error) {
	if !cfg.IsDev() && (db == nil || cache == nil) {
		return nil, fmt.Errorf("postgres and redis are required when APP_ENV=%s", cfg.Env)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if cfg.IsDev() {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(log))
	if cache != nil {
		app.Use(middleware.Idempotency(cache, cfg.IdempotencyTTL, log))
	}

	c, err := wire(ctx, cfg, db, cache, log)
	if err != nil {
		return nil, err
	}
	routes.Setup(app, c.handlers, c.guards, c.health)

	return &Server{app: app, cfg: cfg, logger: log, runners: c.runners}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves HTTP and the background loops until ctx is cancelled or one of
// them fails, then shuts the listener down within the configured period.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.background(gctx) })
	g.Go(func() error {
		s.logger.Info("http listening", slog.String("addr", s.cfg.Address()))
		return s.app.Listen(s.cfg.Address())
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownPeriod)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) background(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		g.Go(func() error {
			if err := r.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", r.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// errorHandler renders errors as {"error": message}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
