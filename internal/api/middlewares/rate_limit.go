package middleware

import (
	"net"
	"net/http"

	"github.com/markdave123-py/docuchat/internal/core/ratelimit"
)

// RateKey identifies the caller for rate limiting: the verified identity
// when there is one, the client address otherwise.
func RateKey(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return id.RateKey()
	}
	return ClientIPKey(r)
}

// ClientIPKey keys a request by its remote address. Behind RealIP this is
// the forwarded client address.
func ClientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimit answers 429 once the caller has spent its budget.
func RateLimit(l ratelimit.Limiter) func(http.Handler) http.Handler {
	return rateLimitBy(l, RateKey)
}

// RateLimitByIP limits by client address only. It runs ahead of
// authentication so rejected and anonymous callers are counted too.
func RateLimitByIP(l ratelimit.Limiter) func(http.Handler) http.Handler {
	return rateLimitBy(l, ClientIPKey)
}

func rateLimitBy(l ratelimit.Limiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// errors are logged by the limiter, which admits the request
			if ok, _ := l.Allow(r.Context(), key(r)); !ok {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
