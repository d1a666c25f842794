package security

import (
	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	// HSTS adds Strict-Transport-Security. Enable it only behind TLS.
	HSTS bool
}

// HeadersMiddleware sets response headers for a JSON-only API. Nothing it
// serves is meant to be framed, sniffed or run as a document.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Set("Cache-Control", "no-store")

		if cfg.HSTS {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}
