package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const secret = "middleware-test-secret"

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func echoRequester() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := GetRequesterID(r.Context())
		w.Write([]byte(id))
	})
}

func TestAuthMiddleware(t *testing.T) {
	handler := AuthMiddleware(NewHS256Verifier(secret), zaptest.NewLogger(t))(echoRequester())
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"valid", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "user_1", "exp": exp}), http.StatusOK, "user_1"},
		{"missing header", "", http.StatusUnauthorized, "Authorization header required"},
		{"no bearer prefix", signed(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "user_1", "exp": exp}), http.StatusUnauthorized, "Bearer"},
		{"wrong secret", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "user_1", "exp": exp}), http.StatusUnauthorized, "Invalid token"},
		{"wrong algorithm", "Bearer " + signed(t, jwt.SigningMethodHS512, []byte(secret), jwt.MapClaims{"sub": "user_1", "exp": exp}), http.StatusUnauthorized, "Invalid token"},
		{"expired", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "user_1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, "Invalid token"},
		{"no expiry", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "user_1"}), http.StatusUnauthorized, "Invalid token"},
		{"no subject", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"exp": exp}), http.StatusUnauthorized, "Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.body)
		})
	}
}

type staticVerifier struct {
	subject string
	err     error
}

func (s staticVerifier) Verify(context.Context, string) (string, error) {
	return s.subject, s.err
}

func TestChainVerifier(t *testing.T) {
	ctx := context.Background()

	subject, err := ChainVerifier{
		staticVerifier{err: assert.AnError},
		staticVerifier{subject: "user_2"},
	}.Verify(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "user_2", subject)

	_, err = ChainVerifier{staticVerifier{err: assert.AnError}}.Verify(ctx, "token")
	assert.ErrorIs(t, err, assert.AnError)

	_, err = ChainVerifier{}.Verify(ctx, "token")
	assert.Error(t, err)
}

func TestGetRequesterID(t *testing.T) {
	_, ok := GetRequesterID(context.Background())
	assert.False(t, ok)

	_, ok = GetRequesterID(WithRequesterID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := GetRequesterID(WithRequesterID(context.Background(), "user_1"))
	assert.True(t, ok)
	assert.Equal(t, "user_1", id)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, NewClientIPResolver(nil))
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	// buckets are per client
	assert.Equal(t, http.StatusOK, call("10.0.0.2"))

	rl.evictIdle(time.Now().Add(visitorTTL + time.Second))
	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

func TestRateLimiterIgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	call := func(rl *RateLimiter, peer, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = peer + ":5555"
		req.Header.Set("X-Forwarded-For", forwarded)
		rr := httptest.NewRecorder()
		rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rr, req)
		return rr.Code
	}

	direct := NewRateLimiter(1, 1, NewClientIPResolver(nil))
	assert.Equal(t, http.StatusOK, call(direct, "192.0.2.1", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, call(direct, "192.0.2.1", "198.51.100.2"), "a new header value is not a new client")

	proxied := NewRateLimiter(1, 1, NewClientIPResolver([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}))
	assert.Equal(t, http.StatusOK, call(proxied, "10.0.0.1", "198.51.100.1"))
	assert.Equal(t, http.StatusOK, call(proxied, "10.0.0.1", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, call(proxied, "10.0.0.1", "203.0.113.50, 198.51.100.2"), "hops left of the proxy's entry are ignored")
}

func TestClientIP(t *testing.T) {
	ips := NewClientIPResolver([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("fd00::/8"),
	})

	tests := []struct {
		name      string
		peer      string
		forwarded []string
		want      string
	}{
		{"untrusted peer", "192.0.2.1:1234", []string{"203.0.113.7"}, "192.0.2.1"},
		{"trusted peer without header", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"single proxy", "10.0.0.1:1234", []string{"203.0.113.7"}, "203.0.113.7"},
		{"client supplied hops", "10.0.0.1:1234", []string{"198.51.100.9, 203.0.113.7"}, "203.0.113.7"},
		{"proxy chain", "10.0.0.1:1234", []string{"203.0.113.7, 10.0.0.2", "10.0.0.3"}, "203.0.113.7"},
		{"only proxies", "10.0.0.1:1234", []string{"10.0.0.2"}, "10.0.0.2"},
		{"garbage hop", "10.0.0.1:1234", []string{"203.0.113.7, nonsense"}, "10.0.0.1"},
		{"ipv6 proxy", "[fd00::1]:443", []string{"2001:db8::7"}, "2001:db8::7"},
		{"no port", "192.0.2.1", nil, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.peer
			for _, v := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, ips.ClientIP(req))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	var none *ClientIPResolver
	assert.Equal(t, "192.0.2.1", none.ClientIP(req))
}

func TestMonitorMiddlewareUsesRouteTemplate(t *testing.T) {
	InitPrometheus(prometheus.NewRegistry())

	r := mux.NewRouter()
	r.Use(MonitorMiddleware)
	r.HandleFunc("/api/v1/users/{athleteId}/streak", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/v1/users/{athleteId}/streak", http.MethodGet, "Forbidden"))
	rejected := testutil.ToFloat64(authRejections.WithLabelValues("403_forbidden"))

	for _, id := range []string{"ath-1", "ath-2"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/users/"+id+"/streak", nil))
		require.Equal(t, http.StatusForbidden, rr.Code)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/v1/users/{athleteId}/streak", http.MethodGet, "Forbidden")))
	assert.Equal(t, rejected+2, testutil.ToFloat64(authRejections.WithLabelValues("403_forbidden")))
}

func TestBasicAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name       string
		user, pass string
		reqUser    string
		reqPass    string
		want       int
	}{
		{"valid", "metrics", "s3cret", "metrics", "s3cret", http.StatusOK},
		{"wrong password", "metrics", "s3cret", "metrics", "nope", http.StatusUnauthorized},
		{"unconfigured", "", "", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.SetBasicAuth(tt.reqUser, tt.reqPass)
			rr := httptest.NewRecorder()
			BasicAuthMiddleware(tt.user, tt.pass)(ok).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := RequestLogger(zap.New(core), NewClientIPResolver(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "/ok", entries[0].ContextMap()["path"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.EqualValues(t, http.StatusNotFound, entries[1].ContextMap()["status"])
}

func TestRecoverer(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := Recoverer(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error": "Internal server error"}`, rr.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "boom", logs.All()[0].ContextMap()["panic"])
}
