package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/throttlegate/internal/ratelimit"
)

// ThrottleHandler reports the throttle rules in effect.
type ThrottleHandler struct {
	store *ratelimit.ConfigStore
}

// NewThrottleHandler constructs a ThrottleHandler.
func NewThrottleHandler(store *ratelimit.ConfigStore) *ThrottleHandler {
	return &ThrottleHandler{store: store}
}

// Get returns the current snapshot per category and whether it is stale.
func (h *ThrottleHandler) Get(c *gin.Context) {
	snapshot := h.store.Current()
	categories := make(gin.H, len(ratelimit.Categories))
	for _, category := range ratelimit.Categories {
		rule := snapshot.Rule(category)
		categories[category.String()] = gin.H{
			"enabled":             rule.Enabled,
			"requests_per_period": rule.Limit,
			"period_in_seconds":   rule.Period.Seconds(),
		}
	}
	out := gin.H{
		"categories": categories,
		"settings":   ratelimit.SnapshotSettings(snapshot),
		"stale":      false,
	}
	if state, stale := h.store.Stale(); stale {
		out["stale"] = true
		out["stale_since"] = state.Since
		out["stale_error"] = state.Err.Error()
		out["stale_sources"] = state.Sources
	}
	c.JSON(http.StatusOK, out)
}
