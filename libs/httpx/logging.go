package httpx

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func AccessLog(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			req := c.Request()
			evt := logger.Info()
			if c.Response().Status >= 500 {
				evt = logger.Error().Err(err)
			}
			rid, _ := c.Get("request_id").(string)
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Int64("bytes", c.Response().Size).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Str("remote_ip", c.RealIP()).
				Msg("http request")
			return nil
		}
	}
}
