package httpx

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
	Retry   string      `json:"retry,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindState:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// retryHint tells clients how to recover: conflicts need a fresh open-slots
// query, everything else needs a different request.
func retryHint(kind apperr.Kind) string {
	switch kind {
	case apperr.KindConflict:
		return "requery"
	case apperr.KindInternal:
		return "later"
	default:
		return ""
	}
}

// ErrorHandler renders apperr errors and echo HTTP errors as JSON.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if s, ok := he.Message.(string); ok && s != "" {
				msg = s
			}
			kind := kindForStatus(he.Code)
			_ = c.JSON(he.Code, errorBody{Error: errorDetail{Kind: kind, Message: msg, Retry: retryHint(kind)}})
			return
		}

		kind := apperr.KindOf(err)
		if kind == apperr.KindInternal {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("request failed")
		}
		_ = c.JSON(StatusFor(kind), errorBody{Error: errorDetail{
			Kind:    kind,
			Message: apperr.Message(err),
			Retry:   retryHint(kind),
		}})
	}
}

func kindForStatus(code int) apperr.Kind {
	switch {
	case code == http.StatusUnauthorized:
		return apperr.KindUnauthenticated
	case code == http.StatusForbidden:
		return apperr.KindAuthorization
	case code == http.StatusNotFound:
		return apperr.KindNotFound
	case code == http.StatusConflict:
		return apperr.KindConflict
	case code >= 500:
		return apperr.KindInternal
	default:
		return apperr.KindValidation
	}
}
