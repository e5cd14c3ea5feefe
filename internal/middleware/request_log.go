package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger logs each request through log using echo's request logger.
// Handler errors are passed to the echo error handler first so the logged
// status is the one sent to the client.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogRoutePath: true,
		LogStatus:    true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			log.WithLevel(requestLevel(v.Method, v.Status)).
				Str("method", v.Method).
				Str("route", v.RoutePath).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Err(v.Error).
				Msg("HTTP request")
			return nil
		},
	})
}

// requestLevel keeps mutations and failures at info or above; reads are
// logged at debug.
func requestLevel(method string, status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	case method == http.MethodGet || method == http.MethodHead:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
