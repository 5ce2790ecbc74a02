package middleware

import (
	"net/http"
	"slices"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/rbac"
)

func callerRole(c *fiber.Ctx) rbac.Role {
	role, _ := c.Locals("role").(string)
	return rbac.Role(role)
}

// RequireRole admits only callers holding one of roles. It must run after JWTAuth.
func RequireRole(roles ...rbac.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !slices.Contains(roles, callerRole(c)) {
			return fiber.NewError(http.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// RequireAction admits callers whose role may perform action.
func RequireAction(action rbac.Action) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !rbac.Can(callerRole(c), action) {
			return fiber.NewError(http.StatusForbidden, "action not permitted for role")
		}
		return c.Next()
	}
}
