package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"desperado-club/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func echoUser(c *fiber.Ctx) error {
	roles, _ := c.Locals(LocalUserRoles).([]string)
	return c.JSON(fiber.Map{"user": UserID(c), "household": HouseholdID(c), "roles": roles})
}

func TestGatewayAuthMiddleware(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("secret", zap.New(core), "/healthz"))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString("x") })

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"skipped path", "/healthz", "", http.StatusOK},
		{"missing header", "/x", "", http.StatusUnauthorized},
		{"wrong token", "/x", "Bearer nope", http.StatusUnauthorized},
		{"bearer token", "/x", "Bearer secret", http.StatusOK},
		{"raw token", "/x", "secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
	assert.Equal(t, 1, logs.FilterMessage("gateway token invalid").Len())
}

func TestUserContextAndRequireRole(t *testing.T) {
	app := fiber.New()
	secured := app.Group("/", UserContextMiddleware(zap.NewNop()))
	secured.Get("/me", echoUser)
	secured.Get("/admin", RequireRole(RoleAdmin), echoUser)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Roles", "member")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Roles", " member , admin,")
	req.Header.Set("X-Household-ID", "h1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type fakeValidator struct {
	resp *services.ValidateResponse
	err  error
	got  [2]string
}

func (f *fakeValidator) ValidateToken(_ context.Context, token, device string) (*services.ValidateResponse, error) {
	f.got = [2]string{token, device}
	return f.resp, f.err
}

func TestSSEAuthMiddleware(t *testing.T) {
	v := &fakeValidator{resp: &services.ValidateResponse{UserID: "u9", Roles: []string{"member"}}}
	app := fiber.New()
	app.Get("/stream", SSEAuthMiddleware(v, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream?token=abc", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/stream?token=abc&device_id=d1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, [2]string{"abc", "d1"}, v.got)

	v.err = errors.New("expired")
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/stream?token=abc&device_id=d1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
