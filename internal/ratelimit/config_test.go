package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/router-for-me/throttlegate/internal/clock"
)

func intPtr(v int) *int                          { return &v }
func boolPtr(v bool) *bool                       { return &v }
func durationPtr(v time.Duration) *time.Duration { return &v }

func TestDefaultSnapshot(t *testing.T) {
	snap := DefaultSnapshot()
	assert.Equal(t, Rule{Enabled: false, Limit: 3600, Period: time.Hour}, snap.Rule(CategoryUnauthenticated))
	assert.Equal(t, Rule{Enabled: false, Limit: 7200, Period: time.Hour}, snap.Rule(CategoryAuthenticatedAPI))
	assert.Equal(t, Rule{Enabled: false, Limit: 7200, Period: time.Hour}, snap.Rule(CategoryAuthenticatedWeb))
	assert.Equal(t, Rule{}, snap.Rule(CategoryNone))
}

func TestCurrentIsStableWithoutReload(t *testing.T) {
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)
	assert.Equal(t, store.Current(), store.Current())
}

func TestReloadMergesPartialOverrides(t *testing.T) {
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)

	next, errReload := store.Reload(Overrides{
		CategoryAuthenticatedAPI: {Enabled: boolPtr(true), Limit: intPtr(10)},
	})
	require.NoError(t, errReload)
	assert.Equal(t, next, store.Current())
	assert.Equal(t, Rule{Enabled: true, Limit: 10, Period: time.Hour}, next.Rule(CategoryAuthenticatedAPI))
	assert.Equal(t, DefaultSnapshot().Rule(CategoryUnauthenticated), next.Rule(CategoryUnauthenticated))
	assert.Equal(t, DefaultSnapshot().Rule(CategoryAuthenticatedWeb), next.Rule(CategoryAuthenticatedWeb))
}

func TestReloadIdenticalSnapshotIsNoop(t *testing.T) {
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)
	before := store.Current()

	after, errReload := store.Reload(Overrides{
		CategoryUnauthenticated: {Enabled: boolPtr(false), Limit: intPtr(3600), Period: durationPtr(time.Hour)},
	})
	require.NoError(t, errReload)
	assert.Equal(t, before, after)
	assert.Equal(t, before, store.Current())

	_, errReload = store.Reload(nil)
	require.NoError(t, errReload)
	assert.Equal(t, before, store.Current())
}

func TestReloadRejectsInvalidAtomically(t *testing.T) {
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)
	before := store.Current()

	_, errReload := store.Reload(Overrides{
		CategoryAuthenticatedAPI: {Enabled: boolPtr(true), Limit: intPtr(5)},
		CategoryAuthenticatedWeb: {Limit: intPtr(-1)},
	})
	assert.ErrorIs(t, errReload, ErrInvalidLimit)
	assert.Equal(t, before, store.Current())

	_, errReload = store.Reload(Overrides{CategoryUnauthenticated: {Period: durationPtr(0)}})
	assert.ErrorIs(t, errReload, ErrInvalidPeriod)
	assert.Equal(t, before, store.Current())
}

func TestReloadIgnoresUnknownCategories(t *testing.T) {
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)
	_, errReload := store.Reload(Overrides{Category(99): {Limit: intPtr(-5)}})
	require.NoError(t, errReload)
	assert.Equal(t, DefaultSnapshot(), store.Current())
}

func TestNewConfigStoreValidatesInitial(t *testing.T) {
	_, errStore := NewConfigStore(DefaultSnapshot().With(CategoryAuthenticatedWeb, Rule{Limit: 1}))
	assert.ErrorIs(t, errStore, ErrInvalidPeriod)
}

func TestReloadSettings(t *testing.T) {
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)

	snap, errReload := store.ReloadSettings(map[string]json.RawMessage{
		"throttle_authenticated_web_enabled":             json.RawMessage(`true`),
		"throttle_authenticated_web_requests_per_period": json.RawMessage(`1`),
		"throttle_authenticated_web_period_in_seconds":   json.RawMessage(`10000`),
		"throttle_unknown_category_enabled":              json.RawMessage(`true`),
		"SITE_NAME":                                      json.RawMessage(`"demo"`),
	})
	require.NoError(t, errReload)
	assert.Equal(t, Rule{Enabled: true, Limit: 1, Period: 10000 * time.Second}, snap.Rule(CategoryAuthenticatedWeb))
	assert.False(t, snap.Rule(CategoryUnauthenticated).Enabled)
}

func TestReloadSettingsRejectsMalformedValues(t *testing.T) {
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)
	before := store.Current()

	_, errReload := store.ReloadSettings(map[string]json.RawMessage{
		"throttle_unauthenticated_enabled":           json.RawMessage(`true`),
		"throttle_unauthenticated_period_in_seconds": json.RawMessage(`-3`),
	})
	assert.ErrorIs(t, errReload, ErrInvalidSetting)
	assert.ErrorIs(t, errReload, ErrInvalidPeriod)
	assert.Equal(t, before, store.Current())

	assert.ErrorIs(t, ValidateSetting("throttle_authenticated_api_requests_per_period", json.RawMessage(`"lots"`)), ErrInvalidLimit)
	assert.NoError(t, ValidateSetting("SITE_NAME", json.RawMessage(`"anything"`)))
}

func TestSnapshotSettingsRoundTrip(t *testing.T) {
	snap := DefaultSnapshot().With(CategoryAuthenticatedAPI, enabled(12, 90*time.Second))
	rendered := SnapshotSettings(snap)

	values := make(map[string]json.RawMessage, len(rendered))
	for key, value := range rendered {
		raw, errMarshal := json.Marshal(value)
		require.NoError(t, errMarshal)
		values[key] = raw
	}
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)
	got, errReload := store.ReloadSettings(values)
	require.NoError(t, errReload)
	assert.Equal(t, snap, got)
}

func TestMarkStaleTracksEachSource(t *testing.T) {
	fake := clock.NewFake(testEpoch)
	obs := &recordingObserver{}
	store, errStore := NewConfigStore(DefaultSnapshot(), WithConfigClock(fake), WithConfigObserver(obs))
	require.NoError(t, errStore)
	before := store.Current()

	store.MarkStale("db", errors.New("db down"))
	fake.Advance(time.Minute)
	store.MarkStale("db", errors.New("db still down"))
	store.MarkStale("file", errors.New("bad yaml"))

	state, stale := store.Stale()
	require.True(t, stale)
	assert.ErrorIs(t, state.Err, ErrConfigUnavailable)
	assert.Equal(t, testEpoch, state.Since)
	assert.Equal(t, []string{"db", "file"}, state.Sources)
	assert.Equal(t, before, store.Current())

	_, errReload := store.Reload(nil)
	require.NoError(t, errReload)
	_, stale = store.Stale()
	assert.True(t, stale, "a reload does not prove a source is reachable")

	store.ClearStale("file")
	state, stale = store.Stale()
	require.True(t, stale)
	assert.Equal(t, []string{"db"}, state.Sources)
	assert.Equal(t, testEpoch, state.Since)

	store.ClearStale("db")
	store.ClearStale("db")
	_, stale = store.Stale()
	assert.False(t, stale)

	require.Len(t, obs.stale, 5)
	assert.Error(t, obs.stale[0])
	assert.Error(t, obs.stale[3])
	assert.Nil(t, obs.stale[4])
}

func TestMarkStaleConcurrentSourcesKeepFirstSince(t *testing.T) {
	fake := clock.NewFake(testEpoch)
	store, errStore := NewConfigStore(DefaultSnapshot(), WithConfigClock(fake))
	require.NoError(t, errStore)
	store.MarkStale("db", errors.New("first"))
	fake.Advance(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.MarkStale("db", fmt.Errorf("attempt %d", i))
		}(i)
	}
	wg.Wait()

	state, stale := store.Stale()
	require.True(t, stale)
	assert.Equal(t, testEpoch, state.Since)
	assert.Equal(t, []string{"db"}, state.Sources)
}

func TestConcurrentReadsDuringReload(t *testing.T) {
	store, errStore := NewConfigStore(DefaultSnapshot())
	require.NoError(t, errStore)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(limit int) {
			defer wg.Done()
			_, _ = store.Reload(Overrides{CategoryAuthenticatedAPI: {Limit: intPtr(limit), Period: durationPtr(time.Minute)}})
		}(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rule := store.Current().Rule(CategoryAuthenticatedAPI)
			if rule.Limit != 7200 {
				assert.Equal(t, time.Minute, rule.Period)
			}
		}()
	}
	wg.Wait()
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("authenticated-api")
	assert.True(t, ok)
	assert.Equal(t, CategoryAuthenticatedAPI, c)

	_, ok = ParseCategory("none")
	assert.False(t, ok)
}
