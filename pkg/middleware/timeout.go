package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	apperrors "edubook/pkg/errors"
)

// deadlineWriter drops handler writes once the deadline response has gone
// out, so a slow handler cannot append to it.
type deadlineWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	expired  bool
	answered bool
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.expired || dw.answered {
		return
	}
	dw.answered = true
	dw.ResponseWriter.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.expired {
		return 0, http.ErrHandlerTimeout
	}
	dw.answered = true
	return dw.ResponseWriter.Write(b)
}

// expire answers with 503 unless the handler already started its response.
func (dw *deadlineWriter) expire() {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.answered {
		return
	}
	dw.expired = true
	dw.answered = true
	apperrors.Timeout("Request timeout").Write(dw.ResponseWriter)
}

// RequestTimeout bounds how long a client waits. Booking writes run on a
// context detached from the request, so an attempt may still commit after
// the 503; clients resolve it through the transaction status endpoint.
func RequestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			dw := &deadlineWriter{ResponseWriter: w}
			done := make(chan any, 1)
			go func() {
				defer func() { done <- recover() }()
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case p := <-done:
				// Re-raise on the serving goroutine so Recovery sees it.
				if p != nil {
					panic(p)
				}
			case <-ctx.Done():
				dw.expire()
			}
		})
	}
}
