package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByAccount limits requests per account, keyed by the bearer token
// subject. The token is verified here because chi middleware runs before the
// huma auth layer. Requests without a valid token are keyed by IP.
func RateLimitByAccount(verifier TokenVerifier, requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.NewRateLimiter(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := GetUserClaims(r.Context()); claims != nil && claims.AccountID != "" {
				return "account:" + claims.AccountID, nil
			}
			if claims, err := validateToken(verifier, bearerToken(r.Header.Get("Authorization"))); err == nil {
				return "account:" + claims.AccountID, nil
			}
			return httprate.KeyByIP(r)
		}),
	)

	return limiter.Handler
}

// RateLimitMutations applies the account limiter to non-GET requests only.
func RateLimitMutations(verifier TokenVerifier, requestsPerMinute int) func(http.Handler) http.Handler {
	limit := RateLimitByAccount(verifier, requestsPerMinute)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
