package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyHS256(t *testing.T) {
	token, err := SignHS256("farmer-1", "farmer", time.Hour, "secret")
	require.NoError(t, err)

	claims, err := ParseAndVerifyHS256(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "farmer-1", claims.Subject)
	assert.Equal(t, "farmer", claims.Role)

	_, err = ParseAndVerifyHS256(token, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignHS256("farmer-1", "farmer", -time.Minute, "secret")
	require.NoError(t, err)
	_, err = ParseAndVerifyHS256(token, "secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareResolvesIdentity(t *testing.T) {
	e := echo.New()
	e.Use(Middleware(MiddlewareConfig{Secret: "secret", TrustGatewayHeaders: true}))
	e.GET("/me", func(c echo.Context) error {
		id, ok := IdentityFrom(c)
		if !ok {
			return c.String(http.StatusOK, "anonymous")
		}
		return c.String(http.StatusOK, id.Role+":"+id.Subject)
	})

	token, err := SignHS256("vet-7", "provider", time.Hour, "secret")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "provider:vet-7", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-Id", "admin-1")
	req.Header.Set("X-Role", "admin")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "admin:admin-1", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, "anonymous", rec.Body.String())
}
