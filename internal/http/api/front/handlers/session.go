package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/throttlegate/internal/clock"
	"github.com/router-for-me/throttlegate/internal/config"
	"github.com/router-for-me/throttlegate/internal/identity"
	"github.com/router-for-me/throttlegate/internal/security"
)

// SessionHandler signs users in and out with a session cookie.
type SessionHandler struct {
	users  *identity.Store
	jwtCfg config.JWTConfig
	clock  clock.Clock
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(users *identity.Store, jwtCfg config.JWTConfig, c clock.Clock) *SessionHandler {
	return &SessionHandler{users: users, jwtCfg: jwtCfg, clock: clock.OrSystem(c)}
}

// signInRequest accepts either form fields or JSON.
type signInRequest struct {
	Login    string `json:"login" form:"login"`
	Password string `json:"password" form:"password"`
}

// SignInPage describes the sign-in form.
func (h *SessionHandler) SignInPage(c *gin.Context) {
	if user := identity.CurrentUser(c); user != nil {
		c.JSON(http.StatusOK, gin.H{"signed_in": true, "username": user.Username})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signed_in": false, "fields": []string{"login", "password"}})
}

// SignIn checks the password and sets the session cookie.
func (h *SessionHandler) SignIn(c *gin.Context) {
	var body signInRequest
	if errBind := c.ShouldBind(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	login := strings.TrimSpace(body.Login)
	if login == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing login or password"})
		return
	}

	user, errAuth := h.users.Authenticate(c.Request.Context(), login, body.Password)
	if errAuth != nil {
		if errors.Is(errAuth, identity.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid login or password"})
			return
		}
		log.WithError(errAuth).Error("sign in: authenticate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}

	token, errIssue := security.IssueToken(h.jwtCfg.Secret, security.AudienceSession, user.ID, user.Username, false, h.clock.Now(), h.jwtCfg.Expiry)
	if errIssue != nil {
		log.WithError(errIssue).Error("sign in: issue session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(identity.SessionCookie, token, int(h.jwtCfg.Expiry.Seconds()), "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "redirect": "/dashboard"})
}

// SignOut clears the session cookie.
func (h *SessionHandler) SignOut(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(identity.SessionCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	c.Status(http.StatusNoContent)
}
