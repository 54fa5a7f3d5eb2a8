package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/router-for-me/throttlegate/internal/models"
	"github.com/router-for-me/throttlegate/internal/ratelimit"
)

// settingsSource names the settings table in stale reports.
const settingsSource = "settings table"

// Default timings for the settings poll loop.
const (
	// defaultPollInterval controls how often the settings table is checked.
	defaultPollInterval = 2 * time.Second
	// defaultQueryTimeout bounds DB query duration.
	defaultQueryTimeout = 10 * time.Second
)

// SettingsPoller reloads throttle rules whenever the settings table changes.
type SettingsPoller struct {
	db    *gorm.DB
	store *ratelimit.ConfigStore

	pollInterval time.Duration

	mu        sync.Mutex
	latestAt  time.Time
	latestKey string
	hasLatest bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSettingsPoller builds a poller; a non-positive interval uses the default.
func NewSettingsPoller(db *gorm.DB, store *ratelimit.ConfigStore, interval time.Duration) *SettingsPoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &SettingsPoller{db: db, store: store, pollInterval: interval}
}

// Start performs an initial load and launches the poll loop.
func (w *SettingsPoller) Start(ctx context.Context) error {
	if w == nil || w.db == nil || w.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()

	log.Infof("settings watcher started (poll_interval=%s)", w.pollInterval)
	return nil
}

// Stop cancels the poll loop and waits for it to exit.
func (w *SettingsPoller) Stop() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}

func (w *SettingsPoller) run(ctx context.Context) {
	_ = w.Poll(ctx, false)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.Poll(ctx, false)
		}
	}
}

// latestRow captures the newest setting timestamp for change detection.
type latestRow struct {
	Key       string     `gorm:"column:key"`        // Latest settings key.
	UpdatedAt *time.Time `gorm:"column:updated_at"` // Latest settings update time.
}

// Poll checks the settings table and reloads the store when it changed or force is set.
// Query failures mark the configuration stale; invalid values keep the previous rules.
func (w *SettingsPoller) Poll(ctx context.Context, force bool) error {
	if w == nil || w.db == nil || w.store == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var latest latestRow
	hasLatest := false
	errLatest := w.db.WithContext(qctx).
		Model(&models.Setting{}).
		Select("key", "updated_at").
		Order("updated_at DESC, key DESC").
		Limit(1).
		Take(&latest).Error
	switch {
	case errLatest == nil:
		hasLatest = true
	case errors.Is(errLatest, gorm.ErrRecordNotFound):
	case errors.Is(errLatest, context.Canceled):
		return errLatest
	default:
		log.WithError(errLatest).Warn("settings watcher: query settings latest row failed")
		w.store.MarkStale(settingsSource, errLatest)
		return errLatest
	}

	latestKey := strings.TrimSpace(latest.Key)
	latestAt := time.Time{}
	if hasLatest && latest.UpdatedAt != nil {
		latestAt = latest.UpdatedAt.UTC()
	}

	if !force {
		if !hasLatest || latest.UpdatedAt == nil {
			if !w.hasLatest {
				w.store.ClearStale(settingsSource)
				return nil
			}
		} else if w.hasLatest && latestAt.Equal(w.latestAt) && latestKey == w.latestKey {
			w.store.ClearStale(settingsSource)
			return nil
		}
	}

	log.Infof("settings watcher: settings changed, reloading (latest_updated_at=%s latest_key=%s)", latestAt.Format(time.RFC3339Nano), latestKey)

	var rows []models.Setting
	if errFind := w.db.WithContext(qctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		if errors.Is(errFind, context.Canceled) {
			return errFind
		}
		log.WithError(errFind).Warn("settings watcher: query settings failed")
		w.store.MarkStale(settingsSource, errFind)
		return errFind
	}

	w.store.ClearStale(settingsSource)

	values := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = json.RawMessage(row.Value)
	}

	w.remember(hasLatest && latest.UpdatedAt != nil && latestKey != "", latestAt, latestKey)

	snapshot, errReload := w.store.ReloadSettings(values)
	if errReload != nil {
		log.WithError(errReload).Warn("settings watcher: invalid throttle settings, keeping previous rules")
		return errReload
	}
	logSnapshot("settings watcher", snapshot)
	return nil
}

func (w *SettingsPoller) remember(ok bool, at time.Time, key string) {
	if !ok {
		w.latestAt = time.Time{}
		w.latestKey = ""
		w.hasLatest = false
		return
	}
	w.latestAt = at
	w.latestKey = key
	w.hasLatest = true
}

func logSnapshot(source string, snapshot ratelimit.Snapshot) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	for _, c := range ratelimit.Categories {
		rule := snapshot.Rule(c)
		log.WithFields(log.Fields{
			"category": c.String(),
			"enabled":  rule.Enabled,
			"limit":    rule.Limit,
			"period":   rule.Period.String(),
		}).Debugf("%s: throttle rule in effect", source)
	}
}
