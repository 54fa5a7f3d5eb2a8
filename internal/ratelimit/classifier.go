package ratelimit

import (
	"path"
	"strings"
)

// unknownSource stands in for a missing source address.
const unknownSource = "unknown"

// Policy configures request classification.
type Policy struct {
	// APIPrefixes mark programmatic API paths.
	APIPrefixes []string
	// ExemptPaths are never throttled.
	ExemptPaths []string
}

// DefaultPolicy returns the stock API prefix and health check exemptions.
func DefaultPolicy() Policy {
	return Policy{
		APIPrefixes: []string{"/api"},
		ExemptPaths: []string{"/-/health", "/-/readiness", "/-/liveness", "/metrics"},
	}
}

// Classifier maps a request and identity to a category and discriminator.
type Classifier struct {
	apiPrefixes []string
	exempt      []string
}

// NewClassifier normalizes the policy paths.
func NewClassifier(p Policy) *Classifier {
	return &Classifier{
		apiPrefixes: normalizePrefixes(p.APIPrefixes),
		exempt:      normalizePrefixes(p.ExemptPaths),
	}
}

// IsAPIPath reports whether p falls under an API prefix.
func (c *Classifier) IsAPIPath(p string) bool {
	return matchAny(cleanPath(p), c.apiPrefixes)
}

// Classify returns the classification for req. ok is false when the request is exempt.
func (c *Classifier) Classify(req Descriptor, id Identity) (Classification, bool) {
	p := cleanPath(req.Path())
	if matchAny(p, c.exempt) {
		return Classification{}, false
	}
	if id.IsAuthenticated() {
		category := CategoryAuthenticatedWeb
		if matchAny(p, c.apiPrefixes) {
			category = CategoryAuthenticatedAPI
		}
		return Classification{Category: category, Discriminator: id.Value(), Authenticated: true}, true
	}
	source := ""
	if id.Kind() == IdentityAnonymous {
		source = id.Value()
	}
	if source == "" {
		source = req.SourceAddress()
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = unknownSource
	}
	return Classification{Category: CategoryUnauthenticated, Discriminator: source}, true
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func normalizePrefixes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, prefix := range in {
		if strings.TrimSpace(prefix) == "" {
			continue
		}
		out = append(out, cleanPath(prefix))
	}
	return out
}

func matchAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "/" || p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}
