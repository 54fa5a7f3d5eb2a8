package ratelimit

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	cases := []struct {
		name     string
		path     string
		addr     string
		id       Identity
		ok       bool
		category Category
		disc     string
	}{
		{"health exempt", "/-/health", "1.1.1.1", Identity{}, false, CategoryNone, ""},
		{"metrics exempt", "/metrics", "1.1.1.1", Authenticated("1"), false, CategoryNone, ""},
		{"anonymous sign in", "/users/sign_in", "1.1.1.1", Identity{}, true, CategoryUnauthenticated, "1.1.1.1"},
		{"anonymous api", "/api/v4/projects", "1.1.1.1", Anonymous("2.2.2.2"), true, CategoryUnauthenticated, "2.2.2.2"},
		{"empty address", "/users/sign_in", "", Identity{}, true, CategoryUnauthenticated, "unknown"},
		{"user api", "/api/v4/todos", "1.1.1.1", Authenticated("5"), true, CategoryAuthenticatedAPI, "5"},
		{"user web", "/dashboard/snippets", "1.1.1.1", Authenticated("5"), true, CategoryAuthenticatedWeb, "5"},
		{"prefix boundary", "/apiary", "1.1.1.1", Authenticated("5"), true, CategoryAuthenticatedWeb, "5"},
		{"dot segments", "/dashboard/../api/v4/todos", "1.1.1.1", Authenticated("5"), true, CategoryAuthenticatedAPI, "5"},
		{"exempt subpath", "/-/health/live", "1.1.1.1", Identity{}, false, CategoryNone, ""},
		{"relative path", "api/v4", "", Authenticated("5"), true, CategoryAuthenticatedAPI, "5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cls, ok := c.Classify(StaticRequest{RequestPath: tc.path, Address: tc.addr}, tc.id)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.category, cls.Category)
			assert.Equal(t, tc.disc, cls.Discriminator)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	req := StaticRequest{RequestPath: "/api/v4/todos", Address: "1.1.1.1"}
	first, _ := c.Classify(req, Authenticated("x"))
	for i := 0; i < 10; i++ {
		again, _ := c.Classify(req, Authenticated("x"))
		assert.Equal(t, first, again)
	}
}

func TestCustomPolicy(t *testing.T) {
	c := NewClassifier(Policy{APIPrefixes: []string{"/graphql/", " "}, ExemptPaths: nil})
	assert.True(t, c.IsAPIPath("/graphql"))
	assert.False(t, c.IsAPIPath("/api/v4"))
	_, ok := c.Classify(StaticRequest{RequestPath: "/-/health"}, Identity{})
	assert.True(t, ok)
}

func TestHTTPRequestDescriptor(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v4/todos?private_token=x", nil)
	r.RemoteAddr = "10.1.2.3:5555"

	assert.Equal(t, "/api/v4/todos", HTTPRequest{Request: r}.Path())
	assert.Equal(t, "10.1.2.3", HTTPRequest{Request: r}.SourceAddress())
	assert.Equal(t, "203.0.113.9", HTTPRequest{Request: r, Address: "203.0.113.9"}.SourceAddress())
	assert.Equal(t, "", HTTPRequest{}.Path())
}

func TestCounterKey(t *testing.T) {
	start := testEpoch
	key := CounterKey(Classification{Category: CategoryUnauthenticated, Discriminator: "1.1.1.1"}, time.Hour, start)
	assert.Equal(t, "unauthenticated:a:1.1.1.1:3600000000000:482136", key)

	userKey := CounterKey(Classification{Category: CategoryAuthenticatedWeb, Discriminator: "1.1.1.1", Authenticated: true}, time.Hour, start)
	assert.NotEqual(t, key, userKey)

	long := strings.Repeat("x", 100)
	hashed := CounterKey(Classification{Category: CategoryAuthenticatedAPI, Discriminator: long, Authenticated: true}, time.Hour, start)
	assert.NotContains(t, hashed, long)
	assert.Contains(t, hashed, ":uh:")
}

func TestCounterKeySubMillisecondWindows(t *testing.T) {
	c := Classification{Category: CategoryUnauthenticated, Discriminator: "1.1.1.1"}
	period := 400 * time.Microsecond
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		start, _ := Window(testEpoch.Add(time.Duration(i)*period), period)
		key := CounterKey(c, period, start)
		assert.False(t, seen[key], "window %d reuses key %s", i, key)
		seen[key] = true
	}

	start, _ := Window(testEpoch, period)
	assert.NotEqual(t, CounterKey(c, period, start), CounterKey(c, 900*time.Microsecond, start))
}

func TestWindow(t *testing.T) {
	start, end := Window(testEpoch.Add(90*time.Second), time.Minute)
	assert.Equal(t, testEpoch.Add(time.Minute), start)
	assert.Equal(t, testEpoch.Add(2*time.Minute), end)

	before := time.Unix(-1, 0)
	start, end = Window(before, 10*time.Second)
	assert.Equal(t, time.Unix(-10, 0).UTC(), start)
	assert.Equal(t, time.Unix(0, 0).UTC(), end)
}
