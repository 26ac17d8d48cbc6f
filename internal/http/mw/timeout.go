package mw

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jmylchreest/subledger/internal/constants"
)

// panicWithStack captures a panic value along with its stack trace.
type panicWithStack struct {
	value interface{}
	stack []byte
}

// TimeoutConfig defines timeout behavior for different path suffixes.
type TimeoutConfig struct {
	// Default timeout for most endpoints
	Default time.Duration
	// Extended timeout for calls that wait on the payment gateway
	Extended time.Duration
	// Path suffixes that get the extended timeout (e.g. "/renew")
	ExtendedSuffixes []string
	// Path prefixes that skip the timeout entirely (e.g. "/metrics")
	SkipPrefixes []string
}

// DefaultTimeoutConfig returns the server's request timeouts.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Default:          constants.DefaultRequestTimeout,
		Extended:         constants.RenewalRequestTimeout,
		ExtendedSuffixes: []string{"/renew", "/cancel"},
		SkipPrefixes:     []string{"/metrics"},
	}
}

func (c TimeoutConfig) timeoutFor(path string) (time.Duration, bool) {
	for _, prefix := range c.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return 0, false
		}
	}
	for _, suffix := range c.ExtendedSuffixes {
		if strings.HasSuffix(path, suffix) {
			return c.Extended, true
		}
	}
	return c.Default, true
}

// Timeout returns a middleware that bounds request handling time and answers
// 504 when the deadline passes first. Panics in the handler are re-raised on
// the serving goroutine with the original stack attached.
func Timeout(cfg TimeoutConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timeout, ok := cfg.timeoutFor(r.URL.Path)
			if !ok || timeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			panicChan := make(chan *panicWithStack, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicChan <- &panicWithStack{value: p, stack: debug.Stack()}
					}
				}()
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case p := <-panicChan:
				panic(fmt.Sprintf("%v\n\nOriginal stack trace:\n%s", p.value, p.stack))
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					w.WriteHeader(http.StatusGatewayTimeout)
				}
			}
		})
	}
}
