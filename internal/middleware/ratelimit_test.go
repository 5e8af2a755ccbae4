package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyApp(tenantID, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if tenantID != "" {
			c.Locals(CtxTenantID, tenantID)
			c.Locals(CtxUserID, userID)
		}
		return c.Next()
	})
	handler := func(c *fiber.Ctx) error { return c.SendString(rateLimitKey(c)) }
	app.Get("/audit-sessions", handler)
	app.Get("/audit-sessions/:id", handler)
	return app
}

func getKey(t *testing.T, app *fiber.App, path string) string {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestRateLimitKeySharedAcrossEndpoints(t *testing.T) {
	app := keyApp("acme", "u-1")
	list := getKey(t, app, "/audit-sessions")
	one := getKey(t, app, "/audit-sessions/6d1f0c5e-4f5b-4a53-9b36-0a9b0f0d8d11")
	assert.Equal(t, "rl:user:acme:u-1", list)
	assert.Equal(t, list, one)
}

func TestRateLimitKeySeparatesTenants(t *testing.T) {
	a := getKey(t, keyApp("acme", "u-1"), "/audit-sessions")
	b := getKey(t, keyApp("globex", "u-1"), "/audit-sessions")
	assert.NotEqual(t, a, b)
}

func TestRateLimitKeyFallsBackToIP(t *testing.T) {
	key := getKey(t, keyApp("", ""), "/audit-sessions")
	assert.True(t, strings.HasPrefix(key, "rl:ip:"), key)
}

func TestRateLimitWithoutRedisPassesThrough(t *testing.T) {
	app := fiber.New()
	app.Use(RateLimitMiddleware(nil, 1, 0))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	}
}
