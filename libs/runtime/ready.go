package runtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// RegisterHealth mounts /healthz (liveness) and /readyz (dependency checks) on e.
func RegisterHealth(e *echo.Echo, checks ...ReadyCheck) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/readyz", func(c echo.Context) error {
		if failures := runChecks(c.Request().Context(), checks); len(failures) > 0 {
			return c.String(http.StatusServiceUnavailable, strings.Join(failures, "; "))
		}
		return c.String(http.StatusOK, "ok")
	})
}

func runChecks(ctx context.Context, checks []ReadyCheck) []string {
	var failures []string
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check.Check(checkCtx)
		cancel()
		if err != nil {
			name := check.Name
			if name == "" {
				name = "dependency"
			}
			failures = append(failures, name+": "+err.Error())
		}
	}
	return failures
}
