package httpx

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

type Options struct {
	BodyLimitBytes int64
	Timeout        time.Duration
	CORS           CORSPolicy
}

// Stack returns the standard middleware chain in the order it must run.
// Rate limiting is added by the caller because its backend is deployment
// specific.
func Stack(logger zerolog.Logger, opts Options) []echo.MiddlewareFunc {
	mws := []echo.MiddlewareFunc{
		echomw.Recover(),
		RequestID(),
		AccessLog(logger),
	}
	if opts.BodyLimitBytes > 0 {
		mws = append(mws, echomw.BodyLimit(strconv.FormatInt(opts.BodyLimitBytes, 10)+"B"))
	}
	if opts.Timeout > 0 {
		mws = append(mws, echomw.ContextTimeout(opts.Timeout))
	}
	if cors := WithCORS(opts.CORS); cors != nil {
		mws = append(mws, cors)
	}
	return mws
}
