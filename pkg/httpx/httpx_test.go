package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	h := RateLimitByIP(Limit{Rate: 1, Burst: 3})(okHandler())

	for i := range 3 {
		rec := doRequest(h, "10.0.0.1:1234", nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}
}

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	h := RateLimitByIP(Limit{Rate: 0.001, Burst: 2})(okHandler())

	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234", nil).Code)
	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234", nil).Code)

	rec := doRequest(h, "10.0.0.1:1234", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	require.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestRateLimitTracksIPsSeparately(t *testing.T) {
	h := RateLimitByIP(Limit{Rate: 0.001, Burst: 1})(okHandler())

	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:5678", nil).Code)

	// A different caller has its own bucket.
	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:1234", nil).Code)
}

func TestRateLimitHonoursForwardedFor(t *testing.T) {
	h := RateLimitByIP(Limit{Rate: 0.001, Burst: 1})(okHandler())

	headers := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}
	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234", headers).Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, "10.0.0.1:1234", headers).Code)

	// Same proxy hop, different originating client.
	other := map[string]string{"X-Forwarded-For": "203.0.113.8"}
	require.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1234", other).Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4242"
	require.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "198.51.100.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", clientIP(req))
}

func TestParseSpaceDelimitedFields(t *testing.T) {
	require.Nil(t, ParseSpaceDelimitedFields(""))
	require.Nil(t, ParseSpaceDelimitedFields("   "))
	require.Equal(t, []string{"openid", "profile"}, ParseSpaceDelimitedFields("openid profile"))
	require.Equal(t, []string{"openid", "profile"}, ParseSpaceDelimitedFields("  openid\tprofile "))
}

func TestChainOrdering(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mw("outer"), mw("inner"))
	doRequest(h, "10.0.0.1:1234", nil)

	require.Equal(t, []string{"outer", "inner"}, order)
}
