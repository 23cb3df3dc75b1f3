package httpx

import (
	"context"
	"net/http"
	"time"
)

// Middleware wraps an http.Handler with extra behaviour.
type Middleware func(http.Handler) http.Handler

// Timeout bounds each request's context. Handlers and their downstream
// calls (DB, redis) observe the deadline through ctx and abort instead of
// hanging on a stalled dependency.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Chain wraps h with the given middlewares; the first middleware is the
// outermost wrapper. Chain(h, a, b, c) serves requests through a, then b,
// then c, then h.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
