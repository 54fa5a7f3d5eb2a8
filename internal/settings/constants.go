package settings

import "strings"

// Setting key layout for throttle rules: throttle_<category>_<field>.
const (
	// ThrottleKeyPrefix namespaces throttle rules in the settings table.
	ThrottleKeyPrefix = "throttle_"
	// FieldEnabled toggles a category.
	FieldEnabled = "enabled"
	// FieldRequestsPerPeriod is the per-window request limit.
	FieldRequestsPerPeriod = "requests_per_period"
	// FieldPeriodInSeconds is the window length in seconds.
	FieldPeriodInSeconds = "period_in_seconds"
)

// Category names as they appear inside setting keys.
const (
	CategoryUnauthenticated  = "unauthenticated"
	CategoryAuthenticatedAPI = "authenticated_api"
	CategoryAuthenticatedWeb = "authenticated_web"
)

// Defaults applied when no setting row exists.
const (
	DefaultThrottleEnabled = false
	// DefaultUnauthenticatedRequests is the unauthenticated limit per period.
	DefaultUnauthenticatedRequests = 3600
	// DefaultAuthenticatedRequests is the authenticated API and web limit per period.
	DefaultAuthenticatedRequests = 7200
	// DefaultPeriodInSeconds is the window length for every category.
	DefaultPeriodInSeconds = 3600
)

// Fields lists the per-category fields in key order.
var Fields = []string{FieldEnabled, FieldRequestsPerPeriod, FieldPeriodInSeconds}

// Categories lists the category names in key order.
var Categories = []string{CategoryUnauthenticated, CategoryAuthenticatedAPI, CategoryAuthenticatedWeb}

// ThrottleKey builds the setting key for a category field.
func ThrottleKey(category, field string) string {
	return ThrottleKeyPrefix + category + "_" + field
}

// SplitThrottleKey splits a throttle setting key into category and field.
// ok is false for keys outside the throttle namespace or with an unknown field.
func SplitThrottleKey(key string) (category, field string, ok bool) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, ThrottleKeyPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(key, ThrottleKeyPrefix)
	for _, f := range Fields {
		suffix := "_" + f
		if strings.HasSuffix(rest, suffix) {
			category = strings.TrimSuffix(rest, suffix)
			if category == "" {
				return "", "", false
			}
			return category, f, true
		}
	}
	return "", "", false
}

// DefaultRequests returns the default limit for a category name.
func DefaultRequests(category string) int {
	if category == CategoryUnauthenticated {
		return DefaultUnauthenticatedRequests
	}
	return DefaultAuthenticatedRequests
}
