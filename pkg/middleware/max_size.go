package middleware

import (
	"net/http"

	apperrors "edubook/pkg/errors"
)

// MaxRequestSize caps the request body. Decoders see *http.MaxBytesError
// once the limit is crossed.
func MaxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				apperrors.RequestTooLarge(limit).Write(w)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
