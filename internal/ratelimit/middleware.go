package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	identityContextKey = "throttleIdentity"
	resultContextKey   = "throttleResult"
)

// SetIdentity stores the resolved identity on the gin context.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityContextKey, id)
}

// IdentityFromContext returns the identity stored by SetIdentity.
func IdentityFromContext(c *gin.Context) Identity {
	if v, ok := c.Get(identityContextKey); ok {
		if id, okID := v.(Identity); okID {
			return id
		}
	}
	return Identity{}
}

// ResultFromContext returns the throttle result recorded for the request.
func ResultFromContext(c *gin.Context) (Result, bool) {
	v, ok := c.Get(resultContextKey)
	if !ok {
		return Result{}, false
	}
	res, okRes := v.(Result)
	return res, okRes
}

// Responder turns a Reject decision into a response.
type Responder interface {
	Reject(c *gin.Context, res Result)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(c *gin.Context, res Result)

// Reject calls f.
func (f ResponderFunc) Reject(c *gin.Context, res Result) { f(c, res) }

// JSONResponder answers 429 with Retry-After and optional RateLimit headers.
type JSONResponder struct {
	Now func() time.Time
	// Headers adds RateLimit-Limit, RateLimit-Remaining and RateLimit-Reset.
	Headers bool
}

// Reject aborts the request with 429.
func (r JSONResponder) Reject(c *gin.Context, res Result) {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	retryAfter := RetryAfter(res, now)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	if r.Headers && res.Classified {
		c.Header("RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(res.Remaining()))
		c.Header("RateLimit-Reset", strconv.Itoa(retryAfter))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Retry later"})
}

// RetryAfter returns whole seconds until the window resets, at least 1.
func RetryAfter(res Result, now time.Time) int {
	if res.ResetAt.IsZero() {
		return 1
	}
	secs := int(math.Ceil(res.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

type middlewareOptions struct {
	responder Responder
	identity  func(c *gin.Context) Identity
}

// MiddlewareOption customizes Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithResponder replaces the rejection responder.
func WithResponder(r Responder) MiddlewareOption {
	return func(o *middlewareOptions) {
		if r != nil {
			o.responder = r
		}
	}
}

// WithIdentityFunc replaces how the identity is read from the request.
func WithIdentityFunc(fn func(c *gin.Context) Identity) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.identity = fn
		}
	}
}

// Middleware throttles requests with engine. Admitted requests pass through
// unchanged; rejected requests are handed to the responder and aborted.
func Middleware(engine *Engine, opts ...MiddlewareOption) gin.HandlerFunc {
	o := middlewareOptions{
		responder: JSONResponder{Now: engine.Now},
		identity:  IdentityFromContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return func(c *gin.Context) {
		req := HTTPRequest{Request: c.Request, Address: c.ClientIP()}
		res := engine.Decide(c.Request.Context(), req, o.identity(c))
		c.Set(resultContextKey, res)
		if res.Allowed() {
			c.Next()
			return
		}
		log.WithFields(log.Fields{
			"category":   res.Category.String(),
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
			"request_id": c.GetString("requestID"),
		}).Info("rate limit: request throttled")
		o.responder.Reject(c, res)
		if !c.IsAborted() {
			c.Abort()
		}
	}
}
