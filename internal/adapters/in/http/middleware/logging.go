// Package middleware provides echo middleware for the dashboard.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestIDHeader carries the id that ties a request to its log line.
const RequestIDHeader = "X-Request-ID"

// RequestLogger logs every request through zerowrap and attaches the
// logger to the request context for downstream handlers.
func RequestLogger(log zerowrap.Logger) echo.MiddlewareFunc {
	logValues := echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = log.Warn().Err(v.Error)
			}
			event.
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "http").
				Str("request_id", v.RequestID).
				Str(zerowrap.FieldMethod, v.Method).
				Str(zerowrap.FieldPath, v.URI).
				Str(zerowrap.FieldClientIP, v.RemoteIP).
				Str("user_agent", v.UserAgent).
				Int(zerowrap.FieldStatus, v.Status).
				Dur(zerowrap.FieldDuration, v.Latency).
				Msg("HTTP request")
			return nil
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		logged := logValues(next)
		return func(c echo.Context) error {
			req := c.Request()
			requestID := req.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = generateRequestID()
				req.Header.Set(RequestIDHeader, requestID)
			}
			c.Response().Header().Set(RequestIDHeader, requestID)

			c.SetRequest(req.WithContext(zerowrap.WithCtx(req.Context(), log)))
			return logged(c)
		}
	}
}

// fallbackCounter ensures uniqueness when crypto/rand is unavailable.
var fallbackCounter atomic.Uint64

// generateRequestID creates a random 16-byte hex-encoded request ID.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x-%x", time.Now().UnixNano(), fallbackCounter.Add(1))
	}
	return hex.EncodeToString(b)
}

// PanicRecovery turns a handler panic into a logged 500.
func PanicRecovery(log zerowrap.Logger) echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		DisableStackAll:   true,
		DisablePrintStack: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error().
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "http").
				Err(err).
				Str(zerowrap.FieldMethod, c.Request().Method).
				Str(zerowrap.FieldPath, c.Request().URL.Path).
				Bytes("stack", stack).
				Msg("panic recovered")
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
	})
}
