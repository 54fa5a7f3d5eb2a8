package front

import (
	"github.com/gin-gonic/gin"

	"github.com/router-for-me/throttlegate/internal/clock"
	"github.com/router-for-me/throttlegate/internal/config"
	"github.com/router-for-me/throttlegate/internal/http/api/front/handlers"
	"github.com/router-for-me/throttlegate/internal/identity"
)

// RegisterFrontRoutes registers the sign-in flow, dashboard pages and the demo API.
func RegisterFrontRoutes(r *gin.Engine, users *identity.Store, jwtCfg config.JWTConfig, c clock.Clock) {
	if r == nil || users == nil {
		return
	}

	pages := handlers.NewPageHandler()
	r.GET("/-/health", pages.Health)
	r.GET("/-/readiness", pages.Health)
	r.GET("/-/liveness", pages.Health)

	sessions := handlers.NewSessionHandler(users, jwtCfg, c)
	r.GET("/users/sign_in", sessions.SignInPage)
	r.POST("/users/sign_in", sessions.SignIn)
	r.POST("/users/sign_out", sessions.SignOut)

	r.GET("/dashboard/*path", pages.Dashboard)
	r.GET("/api/v4/*path", pages.API)
	r.POST("/api/v4/*path", pages.API)
}
