package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEcho(handler echo.HandlerFunc, mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	e.Use(mws...)
	e.GET("/x", handler)
	return e
}

func TestErrorHandlerMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{apperr.Validation("bad date"), http.StatusBadRequest, `"kind":"validation"`},
		{apperr.NotFound("no provider"), http.StatusNotFound, `"kind":"not_found"`},
		{apperr.Authorization("not yours"), http.StatusForbidden, `"kind":"authorization"`},
		{apperr.Conflict("slot no longer available"), http.StatusConflict, `"retry":"requery"`},
		{apperr.State("cannot leave completed"), http.StatusUnprocessableEntity, `"kind":"state"`},
		{errors.New("db down"), http.StatusInternalServerError, `"message":"internal error"`},
	}
	for _, tc := range cases {
		e := newTestEcho(func(echo.Context) error { return tc.err })
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Contains(t, rec.Body.String(), tc.body)
	}
}

func TestRequestIDIsEchoedOrMinted(t *testing.T) {
	var seen string
	e := newTestEcho(func(c echo.Context) error {
		seen = RequestIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}, RequestID())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRateLimiterRejectsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(2)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	e := newTestEcho(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, rl.Middleware())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}
