package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// RequireUser ensures a customer is authenticated.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.User == nil {
			return fiber.NewError(http.StatusForbidden, "customer account required")
		}
		return c.Next()
	}
}

// RequireStaff ensures a staff member is authenticated.
func RequireStaff() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.Staff == nil {
			return fiber.NewError(http.StatusForbidden, "staff account required")
		}
		return c.Next()
	}
}

// RequireAnyRole ensures caller is authenticated (customer or staff).
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}
