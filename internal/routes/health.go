package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthDeps are the backends reported by /healthz. Nil backends are
// reported as disabled.
type HealthDeps struct {
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Search interface{ Healthy() bool }
}

// RegisterHealthRoutes adds the readiness endpoint. Search is optional and
// never fails the check.
func RegisterHealthRoutes(app *fiber.App, d HealthDeps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		dbStatus, redisStatus, searchStatus := "disabled", "disabled", "disabled"
		healthy := true
		if d.DB != nil {
			dbStatus = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus, healthy = err.Error(), false
			}
		}
		if d.Cache != nil {
			redisStatus = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus, healthy = err.Error(), false
			}
		}
		if d.Search != nil {
			searchStatus = "ok"
			if !d.Search.Healthy() {
				searchStatus = "degraded"
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus, "search": searchStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
