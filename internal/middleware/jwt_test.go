package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/auth"
)

const jwtTestSecret = "jwt-test-secret"

type brokenRegistry struct {
	auth.TokenRegistry
}

func (brokenRegistry) Check(context.Context, auth.Token) error {
	return errors.New("redis down")
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtTestSecret))
	require.NoError(t, err)
	return token
}

func jwtApp(registry auth.TokenRegistry) *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected(jwtTestSecret, registry))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"username": c.Locals(LocalUsername),
			"role":     c.Locals(LocalUserRole),
			"user_id":  c.Locals(LocalUserID),
		})
	})
	app.Post("/logout", Logout(registry))
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeJSON(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

func TestJWTProtectedPopulatesIdentity(t *testing.T) {
	app := jwtApp(nil)
	token := signed(t, jwt.MapClaims{"sub": "12", "username": "alice", "roles": []string{"Student"}, "exp": time.Now().Add(time.Hour).Unix()})

	resp := doRequest(t, app, http.MethodGet, "/me", token)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Username string `json:"username"`
		Role     string `json:"role"`
		UserID   uint   `json:"user_id"`
	}
	require.NoError(t, decodeJSON(resp, &body))
	require.Equal(t, "alice", body.Username)
	require.Equal(t, "student", body.Role)
	require.Equal(t, uint(12), body.UserID)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := jwtApp(nil)

	require.Equal(t, fiber.StatusUnauthorized, doRequest(t, app, http.MethodGet, "/me", "").StatusCode)

	expired := signed(t, jwt.MapClaims{"username": "alice", "exp": time.Now().Add(-time.Minute).Unix()})
	require.Equal(t, fiber.StatusUnauthorized, doRequest(t, app, http.MethodGet, "/me", expired).StatusCode)

	anonymous := signed(t, jwt.MapClaims{"role": "student"})
	require.Equal(t, fiber.StatusUnauthorized, doRequest(t, app, http.MethodGet, "/me", anonymous).StatusCode)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"username": "alice"}).SignedString([]byte("other"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, doRequest(t, app, http.MethodGet, "/me", forged).StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestJWTProtectedHonoursRegistry(t *testing.T) {
	registry := auth.NewMemoryRegistry(time.Hour, 0)
	t.Cleanup(func() { _ = registry.Close() })
	app := jwtApp(registry)

	now := time.Now()
	token := signed(t, jwt.MapClaims{"username": "alice", "jti": "t-1", "iat": now.Add(-time.Minute).Unix(), "exp": now.Add(time.Hour).Unix()})
	require.Equal(t, fiber.StatusOK, doRequest(t, app, http.MethodGet, "/me", token).StatusCode)

	require.Equal(t, fiber.StatusOK, doRequest(t, app, http.MethodPost, "/logout", token).StatusCode)
	require.Equal(t, fiber.StatusUnauthorized, doRequest(t, app, http.MethodGet, "/me", token).StatusCode)

	withoutID := signed(t, jwt.MapClaims{"username": "bob", "exp": now.Add(time.Hour).Unix()})
	require.Equal(t, fiber.StatusBadRequest, doRequest(t, app, http.MethodPost, "/logout", withoutID).StatusCode)

	require.NoError(t, registry.RevokeUser(context.Background(), "bob", now))
	require.Equal(t, fiber.StatusUnauthorized, doRequest(t, app, http.MethodGet, "/me", withoutID).StatusCode)

	down := jwtApp(brokenRegistry{})
	require.Equal(t, fiber.StatusServiceUnavailable, doRequest(t, down, http.MethodGet, "/me", token).StatusCode)
}
