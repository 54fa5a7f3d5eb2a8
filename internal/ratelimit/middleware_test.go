package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThrottledRouter(h *testHarness, identity func(c *gin.Context) Identity, opts ...MiddlewareOption) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		SetIdentity(c, identity(c))
		c.Next()
	})
	r.Use(Middleware(h.engine, opts...))
	r.GET("/*path", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func serve(r http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareRejectsWith429AndRetryAfter(t *testing.T) {
	h := newHarness(t, allEnabled(1, 10000*time.Second))
	r := newThrottledRouter(h, func(*gin.Context) Identity { return Identity{} })

	first := serve(r, "/users/sign_in", "192.0.2.1:1234")
	require.Equal(t, http.StatusOK, first.Code)

	second := serve(r, "/users/sign_in", "192.0.2.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "400", second.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Retry later"}`, second.Body.String())

	other := serve(r, "/users/sign_in", "192.0.2.2:1234")
	assert.Equal(t, http.StatusOK, other.Code)

	health := serve(r, "/-/health", "192.0.2.1:1234")
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestMiddlewareUsesContextIdentity(t *testing.T) {
	h := newHarness(t, allEnabled(1, time.Hour))
	r := newThrottledRouter(h, func(c *gin.Context) Identity {
		if user := c.GetHeader("X-User"); user != "" {
			return Authenticated(user)
		}
		return Identity{}
	})

	call := func(user, remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v4/todos", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, call("a", "192.0.2.1:1"))
	assert.Equal(t, http.StatusOK, call("b", "192.0.2.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, call("a", "192.0.2.9:1"))
}

func TestMiddlewareRateLimitHeadersAndCustomResponder(t *testing.T) {
	h := newHarness(t, allEnabled(0, time.Minute))
	r := newThrottledRouter(h, func(*gin.Context) Identity { return Identity{} },
		WithResponder(JSONResponder{Now: h.clock.Now, Headers: true}))

	w := serve(r, "/x", "192.0.2.1:1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("RateLimit-Reset"))

	var seen Result
	r2 := newThrottledRouter(h, func(*gin.Context) Identity { return Identity{} },
		WithResponder(ResponderFunc(func(c *gin.Context, res Result) {
			seen = res
			c.String(http.StatusServiceUnavailable, "slow down")
		})))
	w = serve(r2, "/x", "192.0.2.1:1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, Reject, seen.Decision)
	assert.Equal(t, CategoryUnauthenticated, seen.Category)
}

func TestRetryAfter(t *testing.T) {
	now := testEpoch
	assert.Equal(t, 1, RetryAfter(Result{}, now))
	assert.Equal(t, 1, RetryAfter(Result{ResetAt: now.Add(-time.Second)}, now))
	assert.Equal(t, 2, RetryAfter(Result{ResetAt: now.Add(1500 * time.Millisecond)}, now))
}

func TestIdentityFromContextDefaultsToAbsent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, Identity{}, IdentityFromContext(c))

	SetIdentity(c, Anonymous("1.1.1.1"))
	assert.Equal(t, Anonymous("1.1.1.1"), IdentityFromContext(c))
}
