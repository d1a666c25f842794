package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersMiddleware(t *testing.T) {
	for _, hsts := range []bool{false, true} {
		app := fiber.New()
		app.Use(HeadersMiddleware(HeadersConfig{HSTS: hsts}))
		app.Get("/", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })

		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		require.NoError(t, err)

		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		assert.Equal(t, hsts, resp.Header.Get("Strict-Transport-Security") != "")
	}
}
