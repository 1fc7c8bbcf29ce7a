package middleware

import (
	"net/http/httptest"
	"testing"

	"schoolreg/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		origins         string
		wantOrigins     string
		wantCredentials bool
	}{
		{"", "*", false},
		{"*", "*", false},
		{" https://portal.example.edu ", "https://portal.example.edu", true},
		{"https://portal.example.edu,https://admin.example.edu", "https://portal.example.edu,https://admin.example.edu", true},
	}
	for _, tt := range tests {
		t.Run(tt.origins, func(t *testing.T) {
			cfg := CORSConfig(tt.origins)
			assert.Equal(t, tt.wantOrigins, cfg.AllowOrigins)
			assert.Equal(t, tt.wantCredentials, cfg.AllowCredentials)
		})
	}
}

func newStackApp(t *testing.T, origins string) *fiber.App {
	t.Helper()
	useTestConfig(t)
	config.AppConfig.CORSAllowedOrigins = origins

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	require.NotPanics(t, func() { UseGlobal(app) })
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true})
	})
	return app
}

func TestUseGlobalWithDefaultOrigins(t *testing.T) {
	app := newStackApp(t, "*")

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestUseGlobalWithListedOrigins(t *testing.T) {
	app := newStackApp(t, "https://portal.example.edu")

	req := httptest.NewRequest("OPTIONS", "/health", nil)
	req.Header.Set("Origin", "https://portal.example.edu")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://portal.example.edu", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
