package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func doRequest(h http.Handler, method, remoteAddr, authHeader string) int {
	req := httptest.NewRequest(method, "/api/v1/subscription/renew", nil)
	req.RemoteAddr = remoteAddr
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

// ========================================
// RateLimitByAccount Tests
// ========================================

func TestRateLimitByAccount_KeysByTokenSubject(t *testing.T) {
	h := RateLimitByAccount(testVerifier(), 2)(okHandler)
	token := "Bearer " + testToken(t, "acct_1")

	// Same account from different IPs shares one budget.
	if code := doRequest(h, http.MethodPost, "10.0.0.1:1000", token); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := doRequest(h, http.MethodPost, "10.0.0.2:1000", token); code != http.StatusOK {
		t.Fatalf("second request = %d", code)
	}
	if code := doRequest(h, http.MethodPost, "10.0.0.3:1000", token); code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", code)
	}

	// A different account is unaffected.
	other := "Bearer " + testToken(t, "acct_2")
	if code := doRequest(h, http.MethodPost, "10.0.0.1:1000", other); code != http.StatusOK {
		t.Errorf("other account = %d, want 200", code)
	}
}

func TestRateLimitByAccount_FallsBackToIP(t *testing.T) {
	h := RateLimitByAccount(testVerifier(), 1)(okHandler)

	if code := doRequest(h, http.MethodPost, "192.168.1.1:1", ""); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	if code := doRequest(h, http.MethodPost, "192.168.1.1:2", "Bearer invalid"); code != http.StatusTooManyRequests {
		t.Errorf("second from same IP = %d, want 429", code)
	}
	if code := doRequest(h, http.MethodPost, "192.168.1.2:1", ""); code != http.StatusOK {
		t.Errorf("different IP = %d, want 200", code)
	}
}

func TestRateLimitByAccount_ZeroDisables(t *testing.T) {
	h := RateLimitByAccount(testVerifier(), 0)(okHandler)
	for i := range 5 {
		if code := doRequest(h, http.MethodPost, "10.0.0.1:1", ""); code != http.StatusOK {
			t.Fatalf("request %d = %d", i, code)
		}
	}
}

func TestRateLimitMutations_SkipsReads(t *testing.T) {
	h := RateLimitMutations(testVerifier(), 1)(okHandler)
	token := "Bearer " + testToken(t, "acct_1")

	for i := range 3 {
		if code := doRequest(h, http.MethodGet, "10.0.0.1:1", token); code != http.StatusOK {
			t.Fatalf("GET %d = %d", i, code)
		}
	}
	if code := doRequest(h, http.MethodPost, "10.0.0.1:1", token); code != http.StatusOK {
		t.Fatalf("first POST = %d", code)
	}
	if code := doRequest(h, http.MethodPost, "10.0.0.1:1", token); code != http.StatusTooManyRequests {
		t.Errorf("second POST = %d, want 429", code)
	}
}

func TestRateLimitByIP(t *testing.T) {
	h := RateLimitByIP(1)(okHandler)

	if code := doRequest(h, http.MethodGet, "172.16.0.1:1", ""); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	if code := doRequest(h, http.MethodGet, "172.16.0.1:1", ""); code != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", code)
	}
}
