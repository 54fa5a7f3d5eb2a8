package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/throttlegate/internal/identity"
	"github.com/router-for-me/throttlegate/internal/models"
)

// AccessTokenHandler manages personal, OAuth and feed tokens for users.
type AccessTokenHandler struct {
	store *identity.Store
}

// NewAccessTokenHandler constructs an AccessTokenHandler.
func NewAccessTokenHandler(store *identity.Store) *AccessTokenHandler {
	return &AccessTokenHandler{store: store}
}

// createTokenRequest is the payload for issuing a token.
type createTokenRequest struct {
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateForUser issues a token for a user. The plaintext is returned once.
func (h *AccessTokenHandler) CreateForUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body createTokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	kind := models.TokenKind(strings.ToLower(strings.TrimSpace(body.Kind)))
	if kind == "" {
		kind = models.TokenKindPersonal
	}
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
		return
	}

	ctx := c.Request.Context()
	user, errUser := h.store.UserByID(ctx, userID)
	if errUser != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	plaintext, row, errCreate := h.store.CreateToken(ctx, user.ID, name, kind, body.ExpiresAt)
	if errCreate != nil {
		if errors.Is(errCreate, identity.ErrUnknownTokenKind) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
			return
		}
		log.WithError(errCreate).Error("admin tokens: create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create token failed"})
		return
	}
	out := formatToken(row)
	out["token"] = plaintext
	c.JSON(http.StatusCreated, out)
}

// ListByUser returns the tokens of a user without their secrets.
func (h *AccessTokenHandler) ListByUser(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	rows, errList := h.store.ListTokens(c.Request.Context(), userID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tokens failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatToken(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

// Revoke revokes a token by ID.
func (h *AccessTokenHandler) Revoke(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	revoked, errRevoke := h.store.RevokeToken(c.Request.Context(), id)
	if errRevoke != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke failed"})
		return
	}
	if !revoked {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func formatToken(t *models.AccessToken) gin.H {
	return gin.H{
		"id":         t.ID,
		"user_id":    t.UserID,
		"name":       t.Name,
		"kind":       t.Kind,
		"prefix":     t.Prefix,
		"expires_at": t.ExpiresAt,
		"revoked_at": t.RevokedAt,
		"created_at": t.CreatedAt,
	}
}
