package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/router-for-me/throttlegate/internal/ratelimit"
)

func TestObserverCountsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewObserver(reg)
	require.NoError(t, err)

	obs.ObserveDecision(ratelimit.Result{Decision: ratelimit.Allow, Classified: true, Category: ratelimit.CategoryUnauthenticated})
	obs.ObserveDecision(ratelimit.Result{Decision: ratelimit.Allow, Classified: true, Category: ratelimit.CategoryUnauthenticated})
	obs.ObserveDecision(ratelimit.Result{Decision: ratelimit.Reject, Classified: true, Category: ratelimit.CategoryUnauthenticated})
	obs.ObserveDecision(ratelimit.Result{Decision: ratelimit.Allow})

	allow := ratelimit.Allow.String()
	reject := ratelimit.Reject.String()
	assert.InDelta(t, 2, testutil.ToFloat64(obs.decisions.WithLabelValues("unauthenticated", allow)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(obs.decisions.WithLabelValues("unauthenticated", reject)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(obs.decisions.WithLabelValues("none", allow)), 0)
}

func TestObserverTracksCounterErrorsAndStaleness(t *testing.T) {
	obs, err := NewObserver(prometheus.NewRegistry())
	require.NoError(t, err)

	obs.ObserveCounterError(ratelimit.CategoryAuthenticatedAPI, errors.New("down"))
	assert.InDelta(t, 1, testutil.ToFloat64(obs.counterErrors.WithLabelValues("authenticated_api")), 0)

	obs.ObserveConfigStale(errors.New("db gone"))
	assert.InDelta(t, 1, testutil.ToFloat64(obs.configStale), 0)
	obs.ObserveConfigStale(nil)
	assert.InDelta(t, 0, testutil.ToFloat64(obs.configStale), 0)
}

func TestNewObserverRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewObserver(reg)
	require.NoError(t, err)
	_, err = NewObserver(reg)
	require.Error(t, err)
}

func TestHandlerExposesSeries(t *testing.T) {
	reg := NewRegistry()
	obs, err := NewObserver(reg)
	require.NoError(t, err)
	obs.ObserveDecision(ratelimit.Result{Decision: ratelimit.Reject, Classified: true, Category: ratelimit.CategoryAuthenticatedWeb})

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "throttle_decisions_total"), body)
	assert.Contains(t, body, `category="authenticated_web"`)
	assert.Contains(t, body, "go_goroutines")
}
