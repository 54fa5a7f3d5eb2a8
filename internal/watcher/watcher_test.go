package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/router-for-me/throttlegate/internal/db"
	"github.com/router-for-me/throttlegate/internal/models"
	"github.com/router-for-me/throttlegate/internal/ratelimit"
	internalsettings "github.com/router-for-me/throttlegate/internal/settings"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "watcher-test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func newTestStore(t *testing.T) *ratelimit.ConfigStore {
	t.Helper()
	store, err := ratelimit.NewConfigStore(ratelimit.DefaultSnapshot())
	require.NoError(t, err)
	return store
}

func setSetting(t *testing.T, conn *gorm.DB, category, field, value string, at time.Time) {
	t.Helper()
	key := internalsettings.ThrottleKey(category, field)
	res := conn.Model(&models.Setting{}).
		Where("key = ?", key).
		Updates(map[string]any{"value": models.SettingValue(value), "updated_at": at})
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)
}

func TestSettingsPollerLoadsSeededDefaults(t *testing.T) {
	conn := openTestDB(t)
	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, time.Hour)

	require.NoError(t, poller.Poll(t.Context(), true))
	assert.Equal(t, ratelimit.DefaultSnapshot(), store.Current())
	_, stale := store.Stale()
	assert.False(t, stale)
}

func TestSettingsPollerAppliesChanges(t *testing.T) {
	conn := openTestDB(t)
	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, time.Hour)
	require.NoError(t, poller.Poll(t.Context(), true))

	later := time.Now().UTC().Add(time.Minute)
	setSetting(t, conn, internalsettings.CategoryAuthenticatedAPI, internalsettings.FieldEnabled, "true", later)
	setSetting(t, conn, internalsettings.CategoryAuthenticatedAPI, internalsettings.FieldRequestsPerPeriod, "5", later)
	setSetting(t, conn, internalsettings.CategoryAuthenticatedAPI, internalsettings.FieldPeriodInSeconds, "60", later)

	require.NoError(t, poller.Poll(t.Context(), false))
	rule := store.Current().Rule(ratelimit.CategoryAuthenticatedAPI)
	assert.True(t, rule.Enabled)
	assert.Equal(t, 5, rule.Limit)
	assert.Equal(t, time.Minute, rule.Period)
	assert.False(t, store.Current().Rule(ratelimit.CategoryUnauthenticated).Enabled)
}

func TestSettingsPollerSkipsUnchangedTable(t *testing.T) {
	conn := openTestDB(t)
	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, time.Hour)
	require.NoError(t, poller.Poll(t.Context(), true))

	// A direct reload that the table does not know about survives an unchanged poll.
	enabled := true
	_, err := store.Reload(ratelimit.Overrides{ratelimit.CategoryUnauthenticated: {Enabled: &enabled}})
	require.NoError(t, err)

	require.NoError(t, poller.Poll(t.Context(), false))
	assert.True(t, store.Current().Rule(ratelimit.CategoryUnauthenticated).Enabled)
}

func TestSettingsPollerKeepsRulesOnInvalidValue(t *testing.T) {
	conn := openTestDB(t)
	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, time.Hour)
	require.NoError(t, poller.Poll(t.Context(), true))
	before := store.Current()

	later := time.Now().UTC().Add(time.Minute)
	setSetting(t, conn, internalsettings.CategoryUnauthenticated, internalsettings.FieldEnabled, "true", later)
	setSetting(t, conn, internalsettings.CategoryUnauthenticated, internalsettings.FieldRequestsPerPeriod, "-3", later)

	err := poller.Poll(t.Context(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidSetting)
	assert.Equal(t, before, store.Current())
}

func TestSettingsPollerMarksStaleWhenDatabaseFails(t *testing.T) {
	conn := openTestDB(t)
	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, time.Hour)
	require.NoError(t, poller.Poll(t.Context(), true))
	before := store.Current()

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	require.Error(t, poller.Poll(t.Context(), true))
	state, stale := store.Stale()
	require.True(t, stale)
	assert.ErrorIs(t, state.Err, ratelimit.ErrConfigUnavailable)
	assert.Equal(t, before, store.Current())
}

var errQueryUnreachable = errors.New("settings query unreachable")

// failQueries makes every gorm query on conn fail while the returned flag is set.
func failQueries(t *testing.T, conn *gorm.DB) *atomic.Bool {
	t.Helper()
	var failing atomic.Bool
	require.NoError(t, conn.Callback().Query().Before("gorm:query").Register("test:fail_queries", func(tx *gorm.DB) {
		if failing.Load() {
			_ = tx.AddError(errQueryUnreachable)
		}
	}))
	return &failing
}

func TestSettingsPollerClearsStaleWhenDatabaseRecovers(t *testing.T) {
	conn := openTestDB(t)
	failing := failQueries(t, conn)
	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, time.Hour)
	require.NoError(t, poller.Poll(t.Context(), true))

	failing.Store(true)
	require.ErrorIs(t, poller.Poll(t.Context(), false), errQueryUnreachable)
	state, stale := store.Stale()
	require.True(t, stale)
	assert.Equal(t, []string{settingsSource}, state.Sources)

	failing.Store(false)
	require.NoError(t, poller.Poll(t.Context(), false))
	_, stale = store.Stale()
	assert.False(t, stale)
}

func TestFileReloadDoesNotClearSettingsTableStale(t *testing.T) {
	conn := openTestDB(t)
	failing := failQueries(t, conn)
	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, time.Hour)

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "throttle: [not, a, map\n")
	fw, err := NewFileWatcher(path, store)
	require.NoError(t, err)
	require.Error(t, fw.Reload())

	failing.Store(true)
	require.Error(t, poller.Poll(t.Context(), true))
	state, stale := store.Stale()
	require.True(t, stale)
	assert.Equal(t, []string{fileSource, settingsSource}, state.Sources)

	writeConfig(t, path, "port: 8318\n")
	require.NoError(t, fw.Reload())
	state, stale = store.Stale()
	require.True(t, stale)
	assert.Equal(t, []string{settingsSource}, state.Sources)
	assert.ErrorIs(t, state.Err, errQueryUnreachable)
}

func TestSettingsPollerReadsNumericSeedsAfterRestart(t *testing.T) {
	conn := openTestDB(t)
	require.NoError(t, db.Migrate(conn))
	setSetting(t, conn, internalsettings.CategoryUnauthenticated, internalsettings.FieldRequestsPerPeriod, "25",
		time.Now().UTC().Add(time.Minute))

	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, time.Hour)
	require.NoError(t, poller.Poll(t.Context(), false))
	_, stale := store.Stale()
	assert.False(t, stale)
	assert.Equal(t, 25, store.Current().Rule(ratelimit.CategoryUnauthenticated).Limit)
	assert.Equal(t, internalsettings.DefaultAuthenticatedRequests, store.Current().Rule(ratelimit.CategoryAuthenticatedAPI).Limit)
}

func TestSettingsPollerStartStop(t *testing.T) {
	conn := openTestDB(t)
	store := newTestStore(t)
	poller := NewSettingsPoller(conn, store, 20*time.Millisecond)
	require.NoError(t, poller.Start(t.Context()))
	t.Cleanup(func() { _ = poller.Stop() })

	later := time.Now().UTC().Add(time.Minute)
	setSetting(t, conn, internalsettings.CategoryAuthenticatedWeb, internalsettings.FieldEnabled, "true", later)

	require.Eventually(t, func() bool {
		return store.Current().Rule(ratelimit.CategoryAuthenticatedWeb).Enabled
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, poller.Stop())
	require.NoError(t, poller.Stop())
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestFileWatcherReloadAppliesCategories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, `
throttle:
  categories:
    unauthenticated:
      enabled: true
      requests-per-period: 10
      period-in-seconds: 30
`)
	store := newTestStore(t)
	fw, err := NewFileWatcher(path, store)
	require.NoError(t, err)

	require.NoError(t, fw.Reload())
	rule := store.Current().Rule(ratelimit.CategoryUnauthenticated)
	assert.True(t, rule.Enabled)
	assert.Equal(t, 10, rule.Limit)
	assert.Equal(t, 30*time.Second, rule.Period)
}

func TestFileWatcherReloadRejectsInvalidCategories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, `
throttle:
  categories:
    authenticated_web:
      period_in_seconds: 0
`)
	store := newTestStore(t)
	fw, err := NewFileWatcher(path, store)
	require.NoError(t, err)

	require.Error(t, fw.Reload())
	assert.Equal(t, ratelimit.DefaultSnapshot(), store.Current())
}

func TestFileWatcherReloadMarksStaleOnUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "throttle: [not, a, map\n")
	store := newTestStore(t)
	fw, err := NewFileWatcher(path, store)
	require.NoError(t, err)

	require.Error(t, fw.Reload())
	_, stale := store.Stale()
	assert.True(t, stale)
	assert.Equal(t, ratelimit.DefaultSnapshot(), store.Current())
}

func TestFileWatcherPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "port: 8318\n")
	store := newTestStore(t)
	fw, err := NewFileWatcher(path, store)
	require.NoError(t, err)
	require.NoError(t, fw.Start(t.Context()))
	t.Cleanup(func() { _ = fw.Stop() })

	writeConfig(t, path, `
throttle:
  categories:
    authenticated_api:
      enabled: true
`)
	require.Eventually(t, func() bool {
		return store.Current().Rule(ratelimit.CategoryAuthenticatedAPI).Enabled
	}, 3*time.Second, 20*time.Millisecond)
}
