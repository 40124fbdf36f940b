package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit is a rate limiting profile: sustained requests per second plus
// burst capacity.
type Limit struct {
	Rate  rate.Limit
	Burst int
}

// Limiter profiles. Protocol endpoints that take credentials get the
// strict profile; discovery and health endpoints are effectively
// unthrottled for well behaved callers. Each profile can be overridden
// via environment variables, e.g. RATELIMIT_STRICT_RATE and
// RATELIMIT_STRICT_BURST (useful for testing).
var (
	StrictLimit   = Limit{Rate: 1, Burst: 5}
	ModerateLimit = Limit{Rate: 5, Burst: 10}
	LenientLimit  = Limit{Rate: 10, Burst: 30}
	PublicLimit   = Limit{Rate: 50, Burst: 100}
)

func init() {
	StrictLimit = parseLimitFromEnv("STRICT", StrictLimit)
	ModerateLimit = parseLimitFromEnv("MODERATE", ModerateLimit)
	LenientLimit = parseLimitFromEnv("LENIENT", LenientLimit)
	PublicLimit = parseLimitFromEnv("PUBLIC", PublicLimit)
}

func parseLimitFromEnv(prefix string, def Limit) Limit {
	l := def
	if val := os.Getenv("RATELIMIT_" + prefix + "_RATE"); val != "" {
		if r, err := strconv.ParseFloat(val, 64); err == nil && r > 0 {
			l.Rate = rate.Limit(r)
		}
	}
	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if b, err := strconv.Atoi(val); err == nil && b > 0 {
			l.Burst = b
		}
	}
	return l
}

// clientIP extracts the caller's IP, honouring proxy headers so every
// client behind a load balancer is not throttled as one.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitByIP throttles each remote IP to the given profile. Idle
// entries are evicted after ten minutes so the limiter map does not
// grow without bound.
func RateLimitByIP(l Limit) Middleware {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*ipLimiter)
	)

	go func() {
		for range time.Tick(time.Minute) {
			mu.Lock()
			for ip, entry := range limiters {
				if time.Since(entry.lastSeen) > 10*time.Minute {
					delete(limiters, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ip := clientIP(req)

			mu.Lock()
			entry, ok := limiters[ip]
			if !ok {
				entry = &ipLimiter{limiter: rate.NewLimiter(l.Rate, l.Burst)}
				limiters[ip] = entry
			}
			entry.lastSeen = time.Now()
			mu.Unlock()

			if !entry.limiter.Allow() {
				// When the next token becomes available.
				reservation := entry.limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				retryAfter := max(int(delay.Seconds()), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limit_exceeded",
					"error_description": "Too many requests. Please try again later.",
				})
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}
