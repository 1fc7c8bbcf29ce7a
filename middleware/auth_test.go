package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schoolreg/apperrors"
	"schoolreg/config"
	"schoolreg/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTestConfig(t *testing.T) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig = &config.Config{
		JWTSecret:         "test-secret-at-least-16",
		JWTExpiresIn:      time.Hour,
		SessionCookieName: "schoolreg_session",
		AppEnv:            "test",
	}
	t.Cleanup(func() { config.AppConfig = prev })
}

func TestTokenRoundTrip(t *testing.T) {
	useTestConfig(t)
	admission := "WD/2026/CERT/042"

	token, expiresAt, err := GenerateStudentToken(&models.Student{
		BaseModel:       models.BaseModel{ID: 9},
		Email:           "amina@example.com",
		AdmissionNumber: &admission,
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(9), claims.PrincipalID)
	assert.Equal(t, PrincipalStudent, claims.PrincipalType)
	assert.Equal(t, admission, claims.Username)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	useTestConfig(t)
	token, _, err := GenerateToken(PrincipalStaff, 1, "admin", models.RoleAdmin)
	require.NoError(t, err)

	config.AppConfig.JWTSecret = "another-secret-entirely"
	_, err = ParseToken(token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = ParseToken("not-a-token")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestBlacklistWithoutRedisIsNoop(t *testing.T) {
	useTestConfig(t)
	token, _, err := GenerateToken(PrincipalStaff, 1, "admin", models.RoleAdmin)
	require.NoError(t, err)
	claims, err := ParseToken(token)
	require.NoError(t, err)

	assert.NoError(t, BlacklistToken(context.Background(), claims))
	assert.False(t, isBlacklisted(context.Background(), claims.ID))
}

func TestTokenFromRequest(t *testing.T) {
	useTestConfig(t)
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(tokenFromRequest(c))
	})

	read := func(req *httptestRequest) string {
		resp, err := app.Test(req.build())
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	assert.Equal(t, "from-cookie", read(&httptestRequest{cookie: "from-cookie", bearer: "from-header"}))
	assert.Equal(t, "from-header", read(&httptestRequest{bearer: "from-header"}))
	assert.Equal(t, "from-query", read(&httptestRequest{query: "from-query"}))
	assert.Equal(t, "", read(&httptestRequest{}))
}

type httptestRequest struct {
	cookie, bearer, query string
}

func (r *httptestRequest) build() *http.Request {
	target := "/"
	if r.query != "" {
		target += "?token=" + r.query
	}
	req := httptest.NewRequest("GET", target, nil)
	if r.cookie != "" {
		req.AddCookie(&http.Cookie{Name: "schoolreg_session", Value: r.cookie})
	}
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}
	return req
}

func TestRequireCapability(t *testing.T) {
	useTestConfig(t)

	newApp := func(claims *Claims) *fiber.App {
		app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
		app.Use(func(c *fiber.Ctx) error {
			if claims != nil {
				c.Locals("claims", claims)
			}
			return c.Next()
		})
		app.Delete("/staff/:id", RequireCapability(ActionDelete, ResourceStaff), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNoContent)
		})
		return app
	}

	tests := []struct {
		name   string
		claims *Claims
		want   int
	}{
		{"admin", &Claims{PrincipalType: PrincipalStaff, Role: models.RoleAdmin}, fiber.StatusNoContent},
		{"deputy", &Claims{PrincipalType: PrincipalStaff, Role: models.RoleDeputyAdmin}, fiber.StatusForbidden},
		{"student", &Claims{PrincipalType: PrincipalStudent, Role: models.RoleAdmin}, fiber.StatusForbidden},
		{"anonymous", nil, fiber.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := newApp(tc.claims).Test(httptest.NewRequest("DELETE", "/staff/3", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)

			if tc.want >= 400 {
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, false, body["success"])
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}
