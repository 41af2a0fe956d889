package middleware

import (
	"net/http"
	"runtime/debug"

	apperrors "edubook/pkg/errors"
	"edubook/pkg/logger"
)

func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := RequestIDFromContext(r.Context())

					log.Error("Panic recovered",
						"request_id", requestID,
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)

					apperrors.Internal("Internal server error", nil).Write(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
