package middleware

import (
	"net/http"
	"strings"

	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

const (
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeForbidden            = "FORBIDDEN"
)

// SecurityHeaders sets headers for a JSON-only API.
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		return c.Next()
	}
}

// RequireJSON rejects request bodies that are not declared as JSON.
// Empty bodies pass so bodiless POSTs like /session/init keep working.
func RequireJSON() fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		default:
			return c.Next()
		}
		if len(c.Body()) == 0 {
			return c.Next()
		}

		ct := strings.ToLower(c.Get(fiber.HeaderContentType))
		if !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			return apperr.New(CodeUnsupportedMediaType, "content-type must be application/json", http.StatusUnsupportedMediaType)
		}
		return c.Next()
	}
}

// IPAllowlist limits a route group to the given client IPs. An empty list
// allows everyone.
func IPAllowlist(allowed []string) fiber.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, ip := range allowed {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if len(set) == 0 {
			return c.Next()
		}
		if _, ok := set[c.IP()]; !ok {
			logger.WithFields(map[string]any{
				"ip":   c.IP(),
				"path": c.Path(),
			}).Warn("[Security] blocked operator request")
			return apperr.New(CodeForbidden, "access denied", http.StatusForbidden)
		}
		return c.Next()
	}
}
