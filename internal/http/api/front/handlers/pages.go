package handlers

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/throttlegate/internal/identity"
	"github.com/router-for-me/throttlegate/internal/models"
)

// PageHandler serves the signed-in pages and the demo API.
type PageHandler struct{}

// NewPageHandler constructs a PageHandler.
func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

// Health answers liveness probes.
func (h *PageHandler) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Dashboard renders a dashboard page, or an Atom feed for *.atom paths.
func (h *PageHandler) Dashboard(c *gin.Context) {
	user := identity.CurrentUser(c)
	page := strings.TrimPrefix(c.Param("path"), "/")
	if strings.HasSuffix(page, ".atom") {
		h.feed(c, user, strings.TrimSuffix(page, ".atom"))
		return
	}
	if user == nil {
		c.Redirect(http.StatusFound, "/users/sign_in")
		return
	}
	if page == "" {
		page = "home"
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "username": user.Username})
}

// API answers any /api/v4 request for an authenticated caller.
func (h *PageHandler) API(c *gin.Context) {
	user := identity.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "401 Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"resource": strings.TrimPrefix(c.Param("path"), "/"),
		"user_id":  user.ID,
		"username": user.Username,
	})
}

type atomFeed struct {
	XMLName xml.Name `xml:"http://www.w3.org/2005/Atom feed"`
	ID      string   `xml:"id"`
	Title   string   `xml:"title"`
	Updated string   `xml:"updated"`
	Author  string   `xml:"author>name"`
}

func (h *PageHandler) feed(c *gin.Context, user *models.User, name string) {
	if user == nil {
		c.Status(http.StatusUnauthorized)
		return
	}
	body, errMarshal := xml.Marshal(atomFeed{
		ID:      "tag:throttlegate," + name + ":" + strconv.FormatUint(user.ID, 10),
		Title:   name,
		Updated: time.Now().UTC().Format(time.RFC3339),
		Author:  user.Username,
	})
	if errMarshal != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/atom+xml; charset=utf-8", append([]byte(xml.Header), body...))
}
