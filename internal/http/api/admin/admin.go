package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/router-for-me/throttlegate/internal/clock"
	"github.com/router-for-me/throttlegate/internal/config"
	handlers "github.com/router-for-me/throttlegate/internal/http/api/admin/handlers"
	"github.com/router-for-me/throttlegate/internal/identity"
	"github.com/router-for-me/throttlegate/internal/models"
	"github.com/router-for-me/throttlegate/internal/ratelimit"
	"github.com/router-for-me/throttlegate/internal/security"
)

// Dependencies are the collaborators the admin routes need.
type Dependencies struct {
	DB       *gorm.DB
	JWT      config.JWTConfig
	Users    *identity.Store
	Throttle *ratelimit.ConfigStore
	Reloader handlers.SettingsReloader
	Clock    clock.Clock
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil || deps.DB == nil {
		return
	}
	now := clock.OrSystem(deps.Clock)

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(deps.Users, deps.JWT, now)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(deps.DB, deps.JWT, now))

	settingHandler := handlers.NewSettingHandler(deps.DB, deps.Reloader)
	authed.POST("/settings", settingHandler.Create)
	authed.GET("/settings", settingHandler.List)
	authed.GET("/settings/:key", settingHandler.Get)
	authed.PUT("/settings/:key", settingHandler.Update)
	authed.DELETE("/settings/:key", settingHandler.Delete)

	if deps.Throttle != nil {
		throttleHandler := handlers.NewThrottleHandler(deps.Throttle)
		authed.GET("/throttle", throttleHandler.Get)
	}

	userHandler := handlers.NewUserHandler(deps.DB)
	authed.POST("/users", userHandler.Create)
	authed.GET("/users", userHandler.List)
	authed.GET("/users/:id", userHandler.Get)
	authed.PUT("/users/:id", userHandler.Update)
	authed.DELETE("/users/:id", userHandler.Delete)
	authed.POST("/users/:id/disable", userHandler.Disable)
	authed.POST("/users/:id/enable", userHandler.Enable)
	authed.PUT("/users/:id/password", userHandler.ChangePassword)

	tokenHandler := handlers.NewAccessTokenHandler(deps.Users)
	authed.POST("/users/:id/tokens", tokenHandler.CreateForUser)
	authed.GET("/users/:id/tokens", tokenHandler.ListByUser)
	authed.DELETE("/tokens/:id", tokenHandler.Revoke)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig, now clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token, now.Now())
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !user.Admin || !user.CanSignIn() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", user.ID)
		c.Set("adminUsername", user.Username)
		c.Next()
	}
}
