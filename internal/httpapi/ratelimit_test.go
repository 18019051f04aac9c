package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterByIP(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
		req.RemoteAddr = ip + ":12345"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		return recorder.Code
	}

	if request("10.0.0.1") != http.StatusOK || request("10.0.0.1") != http.StatusOK {
		t.Fatal("burst requests should pass")
	}
	if request("10.0.0.1") != http.StatusTooManyRequests {
		t.Fatal("expected the third request to be limited")
	}
	if request("10.0.0.2") != http.StatusOK {
		t.Fatal("other clients must not share the bucket")
	}
}

func TestRateLimiterByToken(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 1, TokenPerMinute: 1, TokenBurst: 2})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/teller/call-next", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		req.Header.Set("Authorization", "Bearer "+token)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		return recorder.Code
	}

	// Authenticated traffic is keyed by token, so two tellers behind one
	// NAT do not contend.
	if request("token-a") != http.StatusOK || request("token-b") != http.StatusOK {
		t.Fatal("distinct tokens should have distinct buckets")
	}
	if request("token-a") != http.StatusOK {
		t.Fatal("burst request should pass")
	}
	if request("token-a") != http.StatusTooManyRequests {
		t.Fatal("expected token bucket to be exhausted")
	}
}
