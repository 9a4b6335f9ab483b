package middleware

import (
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/logger"
)

// Logger stores a request-scoped logger carrying the request id in the context.
// Handlers read it back with logger.FromContext.
func Logger(l *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := l.WithFields(logger.Fields{
				"request_id": chiMiddleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			next.ServeHTTP(w, r.WithContext(reqLog.WithContext(r.Context())))
		})
	}
}
