package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

// ProxyTrust holds the peers allowed to report the client address through
// CF-Connecting-IP or X-Forwarded-For. A nil or empty ProxyTrust ignores
// those headers and uses RemoteAddr.
type ProxyTrust struct {
	prefixes []netip.Prefix
}

// NewProxyTrust parses proxies as CIDR prefixes or bare addresses.
func NewProxyTrust(proxies []string) (*ProxyTrust, error) {
	pt := &ProxyTrust{}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, oops.Code(errutil.CodeConfiguration).
					Public("trusted proxy must be an IP address or CIDR").
					With("proxy", p).
					Wrap(err)
			}
			pt.prefixes = append(pt.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, oops.Code(errutil.CodeConfiguration).
				Public("trusted proxy must be an IP address or CIDR").
				With("proxy", p).
				Wrap(err)
		}
		addr = addr.Unmap()
		pt.prefixes = append(pt.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return pt, nil
}

func (pt *ProxyTrust) trusts(ip string) bool {
	if pt == nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range pt.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RealIP returns the client address. Forwarding headers count only when the
// direct peer is trusted; X-Forwarded-For is walked right to left past
// trusted hops.
func (pt *ProxyTrust) RealIP(r *http.Request) string {
	peer := remoteHost(r)
	if !pt.trusts(peer) {
		return peer
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !pt.trusts(hop) {
				return hop
			}
		}
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether key is still within limit for its current window,
// and how long until that window resets.
func (rl *RateLimiter) Allow(key string, limit int, d time.Duration) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		rl.windows[key] = &window{count: 1, resetAt: now.Add(d)}
		return true, d
	}
	w.count++
	return w.count <= limit, w.resetAt.Sub(now)
}

// Cleanup drops windows that have ended and returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// ByIP keys requests on the client IP, scoped to name so separate routes
// keep separate budgets.
func ByIP(pt *ProxyTrust, name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return name + ":" + pt.RealIP(r)
	}
}

// RateLimit rejects requests over limit per window with 429 and a
// Retry-After header.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := limiter.Allow(keyFunc(r), limit, d)
			if !ok {
				secs := int(retry.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				errutil.WriteError(w, nil, oops.Code(errutil.CodeTooManyAttempts).
					Public("too many requests").
					Errorf("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
