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

// AuthHandler issues admin tokens.
type AuthHandler struct {
	users  *identity.Store
	jwtCfg config.JWTConfig
	clock  clock.Clock
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users *identity.Store, jwtCfg config.JWTConfig, c clock.Clock) *AuthHandler {
	return &AuthHandler{users: users, jwtCfg: jwtCfg, clock: clock.OrSystem(c)}
}

// loginRequest is the admin login payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges admin credentials for a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username or password"})
		return
	}

	user, errAuth := h.users.Authenticate(c.Request.Context(), username, body.Password)
	if errAuth != nil {
		if errors.Is(errAuth, identity.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		log.WithError(errAuth).Error("admin login: authenticate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if !user.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return
	}

	now := h.clock.Now()
	token, errIssue := security.IssueToken(h.jwtCfg.Secret, security.AudienceAdmin, user.ID, user.Username, true, now, h.jwtCfg.Expiry)
	if errIssue != nil {
		log.WithError(errIssue).Error("admin login: issue token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": now.Add(h.jwtCfg.Expiry),
		"username":   user.Username,
	})
}
