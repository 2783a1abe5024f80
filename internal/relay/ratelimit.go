package relay

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

const msgTooManyRequests = "Too many requests. Please try again later."

// RateLimit limits each client IP to requests per window across every route
// it wraps. Clients are keyed by the connection address; mount
// middleware.RealIP in front when the relay sits behind a trusted proxy.
// A non-positive budget disables limiting. onReject may be nil.
func RateLimit(requests int, window time.Duration, onReject func()) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if onReject != nil {
				onReject()
			}
			writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
		}),
	)
}
