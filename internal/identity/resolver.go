// Package identity resolves the caller of a request from tokens and session cookies.
package identity

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/throttlegate/internal/clock"
	"github.com/router-for-me/throttlegate/internal/models"
	"github.com/router-for-me/throttlegate/internal/ratelimit"
	"github.com/router-for-me/throttlegate/internal/security"
)

const (
	// SessionCookie holds the signed session token.
	SessionCookie = "_throttlegate_session"
	// PrivateTokenHeader carries a personal or private token.
	PrivateTokenHeader = "PRIVATE-TOKEN"

	userContextKey = "currentUser"
	atomMediaType  = "application/atom+xml"
)

// UserLookup is the subset of Store the resolver needs.
type UserLookup interface {
	UserForToken(ctx context.Context, token string, kinds ...models.TokenKind) (*models.User, error)
	UserByID(ctx context.Context, id uint64) (*models.User, error)
}

// Resolver maps request credentials to a throttle identity.
type Resolver struct {
	users      UserLookup
	secret     string
	classifier *ratelimit.Classifier
	clock      clock.Clock
}

// NewResolver constructs a Resolver. classifier decides which paths accept API tokens.
func NewResolver(users UserLookup, sessionSecret string, classifier *ratelimit.Classifier, c clock.Clock) *Resolver {
	if classifier == nil {
		classifier = ratelimit.NewClassifier(ratelimit.DefaultPolicy())
	}
	return &Resolver{
		users:      users,
		secret:     sessionSecret,
		classifier: classifier,
		clock:      clock.OrSystem(c),
	}
}

// Middleware resolves the caller and stores the identity for the throttle middleware.
func (r *Resolver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := r.Resolve(c)
		if user != nil {
			c.Set(userContextKey, user)
			ratelimit.SetIdentity(c, IdentityFor(user))
		} else {
			ratelimit.SetIdentity(c, ratelimit.Anonymous(c.ClientIP()))
		}
		c.Next()
	}
}

// Resolve returns the authenticated user for the request, or nil.
func (r *Resolver) Resolve(c *gin.Context) *models.User {
	ctx := c.Request.Context()
	if r.classifier.IsAPIPath(c.Request.URL.Path) {
		if user := r.fromTokens(ctx, apiTokens(c.Request)); user != nil {
			return user
		}
	}
	if isFeedRequest(c.Request) {
		if user := r.fromTokens(ctx, feedTokens(c.Request)); user != nil {
			return user
		}
	}
	return r.fromSession(c)
}

// CurrentUser returns the user stored by Middleware.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(userContextKey); ok {
		if user, okUser := v.(*models.User); okUser {
			return user
		}
	}
	return nil
}

// IdentityFor returns the throttle identity of user.
func IdentityFor(user *models.User) ratelimit.Identity {
	if user == nil || user.ID == 0 {
		return ratelimit.Identity{}
	}
	return ratelimit.Authenticated(strconv.FormatUint(user.ID, 10))
}

type presentedToken struct {
	value string
	kinds []models.TokenKind
}

func (r *Resolver) fromTokens(ctx context.Context, tokens []presentedToken) *models.User {
	for _, tok := range tokens {
		if tok.value == "" {
			continue
		}
		user, errLookup := r.users.UserForToken(ctx, tok.value, tok.kinds...)
		if errLookup != nil {
			log.WithError(errLookup).Warn("identity: token lookup failed")
			return nil
		}
		if user != nil {
			return user
		}
	}
	return nil
}

func (r *Resolver) fromSession(c *gin.Context) *models.User {
	if r.secret == "" {
		return nil
	}
	raw, errCookie := c.Cookie(SessionCookie)
	if errCookie != nil || raw == "" {
		return nil
	}
	claims, errParse := security.ParseToken(r.secret, security.AudienceSession, raw, r.clock.Now())
	if errParse != nil {
		return nil
	}
	user, errLookup := r.users.UserByID(c.Request.Context(), claims.UserID)
	if errLookup != nil {
		log.WithError(errLookup).Warn("identity: session user lookup failed")
		return nil
	}
	return user
}

var (
	personalKinds = []models.TokenKind{models.TokenKindPersonal}
	bearerKinds   = []models.TokenKind{models.TokenKindOAuth, models.TokenKindPersonal}
	feedKinds     = []models.TokenKind{models.TokenKindFeed}
)

func apiTokens(req *http.Request) []presentedToken {
	query := req.URL.Query()
	return []presentedToken{
		{value: strings.TrimSpace(query.Get("private_token")), kinds: personalKinds},
		{value: strings.TrimSpace(req.Header.Get(PrivateTokenHeader)), kinds: personalKinds},
		{value: strings.TrimSpace(query.Get("access_token")), kinds: bearerKinds},
		{value: bearerToken(req), kinds: bearerKinds},
	}
}

func feedTokens(req *http.Request) []presentedToken {
	query := req.URL.Query()
	return []presentedToken{
		{value: strings.TrimSpace(query.Get("feed_token")), kinds: feedKinds},
		{value: strings.TrimSpace(query.Get("rss_token")), kinds: feedKinds},
	}
}

func bearerToken(req *http.Request) string {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func isFeedRequest(req *http.Request) bool {
	if strings.HasSuffix(req.URL.Path, ".atom") {
		return true
	}
	for _, accept := range strings.Split(req.Header.Get("Accept"), ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(accept), ";")
		if strings.EqualFold(strings.TrimSpace(mediaType), atomMediaType) {
			return true
		}
	}
	return false
}
