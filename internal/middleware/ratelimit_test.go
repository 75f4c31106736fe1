package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time { return c.t }

func newTestLimiter() (*RateLimiter, *stepClock) {
	clock := &stepClock{t: time.Now()}
	rl := NewRateLimiter()
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiterAllow(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		if ok, _ := rl.Allow("key", 5, time.Minute); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, retry := rl.Allow("key", 5, time.Minute); ok {
		t.Error("6th request should be denied")
	} else if retry <= 0 || retry > time.Minute {
		t.Errorf("retry = %v, want within window", retry)
	}
	if ok, _ := rl.Allow("other", 5, time.Minute); !ok {
		t.Error("separate key should have its own budget")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl, clock := newTestLimiter()

	for i := 0; i < 3; i++ {
		rl.Allow("key", 3, time.Minute)
	}
	if ok, _ := rl.Allow("key", 3, time.Minute); ok {
		t.Error("should be blocked within window")
	}

	clock.t = clock.t.Add(time.Minute)
	if ok, _ := rl.Allow("key", 3, time.Minute); !ok {
		t.Error("should be allowed after window expires")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, clock := newTestLimiter()

	rl.Allow("expired", 5, time.Second)
	clock.t = clock.t.Add(2 * time.Second)
	rl.Allow("active", 5, time.Minute)

	if removed := rl.Cleanup(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.windows["expired"]; ok {
		t.Error("expired entry should have been cleaned up")
	}
	if _, ok := rl.windows["active"]; !ok {
		t.Error("active entry should still exist")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := newTestLimiter()
	handler := RateLimit(rl, ByIP(nil, "login"), 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/login", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest("POST", "/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// A forged forwarding header from an untrusted peer does not reset the budget.
	forged := httptest.NewRequest("POST", "/login", nil)
	forged.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, forged)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("forged header: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	other := httptest.NewRequest("POST", "/login", nil)
	other.RemoteAddr = "198.51.100.20:4000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRealIP(t *testing.T) {
	pt, err := NewProxyTrust([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("NewProxyTrust: %v", err)
	}

	tests := []struct {
		name    string
		trust   *ProxyTrust
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare via proxy", pt, map[string]string{"CF-Connecting-IP": "198.51.100.1"}, "10.0.0.1:1234", "198.51.100.1"},
		{"xff via proxy", pt, map[string]string{"X-Forwarded-For": "203.0.113.5"}, "10.0.0.1:1234", "203.0.113.5"},
		{"xff skips trusted hops", pt, map[string]string{"X-Forwarded-For": "203.0.113.5, 198.51.100.9, 10.1.2.3"}, "192.0.2.1:80", "198.51.100.9"},
		{"xff all trusted", pt, map[string]string{"X-Forwarded-For": "10.9.9.9, 10.1.1.1"}, "10.0.0.1:1234", "10.9.9.9"},
		{"untrusted peer ignores cloudflare", pt, map[string]string{"CF-Connecting-IP": "198.51.100.1"}, "203.0.113.50:1234", "203.0.113.50"},
		{"untrusted peer ignores xff", pt, map[string]string{"X-Forwarded-For": "198.51.100.2"}, "203.0.113.50:1234", "203.0.113.50"},
		{"nil trust ignores xff", nil, map[string]string{"X-Forwarded-For": "198.51.100.2"}, "10.0.0.1:1234", "10.0.0.1"},
		{"remote addr", pt, nil, "192.0.2.7:5555", "192.0.2.7"},
		{"remote without port", nil, nil, "192.0.2.8", "192.0.2.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := tt.trust.RealIP(req); got != tt.want {
				t.Errorf("RealIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewProxyTrustInvalid(t *testing.T) {
	for _, p := range []string{"not-an-ip", "10.0.0.0/99"} {
		_, err := NewProxyTrust([]string{p})
		errutil.AssertErrorCode(t, err, errutil.CodeConfiguration)
	}
}
