package ratelimit

import (
	"strings"

	internalsettings "github.com/router-for-me/throttlegate/internal/settings"
)

// Category is a throttle class with its own limit and window.
type Category int

const (
	// CategoryNone means the request is not throttled.
	CategoryNone Category = iota
	CategoryUnauthenticated
	CategoryAuthenticatedAPI
	CategoryAuthenticatedWeb
)

// numCategories sizes per-category arrays, CategoryNone included.
const numCategories = int(CategoryAuthenticatedWeb) + 1

// Categories lists every throttled category.
var Categories = []Category{CategoryUnauthenticated, CategoryAuthenticatedAPI, CategoryAuthenticatedWeb}

// String returns the category name used in setting keys.
func (c Category) String() string {
	switch c {
	case CategoryUnauthenticated:
		return internalsettings.CategoryUnauthenticated
	case CategoryAuthenticatedAPI:
		return internalsettings.CategoryAuthenticatedAPI
	case CategoryAuthenticatedWeb:
		return internalsettings.CategoryAuthenticatedWeb
	default:
		return "none"
	}
}

// Valid reports whether c is a throttled category.
func (c Category) Valid() bool {
	return c > CategoryNone && int(c) < numCategories
}

// ParseCategory resolves a category name. Dashes and underscores are interchangeable.
func ParseCategory(s string) (Category, bool) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, c := range Categories {
		if c.String() == name {
			return c, true
		}
	}
	return CategoryNone, false
}
