package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/throttlegate/internal/config"
	"github.com/router-for-me/throttlegate/internal/ratelimit"
)

const (
	fileDebounceDelay = 100 * time.Millisecond
	// fileSource names the config file in stale reports.
	fileSource = "config file"
)

// FileWatcher reloads throttle category overrides when the YAML config file changes.
type FileWatcher struct {
	path  string
	store *ratelimit.ConfigStore

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFileWatcher resolves path and binds it to store.
func NewFileWatcher(path string, store *ratelimit.ConfigStore) (*FileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &FileWatcher{path: absPath, store: store}, nil
}

// Start watches the directory containing the config file.
func (w *FileWatcher) Start(ctx context.Context) error {
	if w == nil || w.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if errAdd := fw.Add(filepath.Dir(w.path)); errAdd != nil {
		_ = fw.Close()
		return fmt.Errorf("watch directory %s: %w", filepath.Dir(w.path), errAdd)
	}
	w.watcher = fw

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(runCtx, fw)
	}()

	log.Infof("config file watcher started (path=%s)", w.path)
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *FileWatcher) Stop() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	w.wg.Wait()
	if fw == nil {
		return nil
	}
	return fw.Close()
}

func (w *FileWatcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	name := filepath.Base(w.path)
	trigger := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			_ = w.Reload()
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(fileDebounceDelay, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case errWatch, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.WithError(errWatch).Warn("config file watcher: watch error")
		}
	}
}

// Reload reads the config file and applies its throttle category overrides.
func (w *FileWatcher) Reload() error {
	cfg, errLoad := config.Load(w.path)
	if errLoad != nil {
		log.WithError(errLoad).Warn("config file watcher: reload failed")
		w.store.MarkStale(fileSource, errLoad)
		return errLoad
	}
	w.store.ClearStale(fileSource)
	values, errSettings := cfg.Throttle.Settings()
	if errSettings != nil {
		log.WithError(errSettings).Warn("config file watcher: invalid throttle categories")
		return errSettings
	}
	snapshot, errReload := w.store.ReloadSettings(values)
	if errReload != nil {
		if errors.Is(errReload, ratelimit.ErrInvalidSetting) {
			log.WithError(errReload).Warn("config file watcher: invalid throttle settings, keeping previous rules")
		} else {
			log.WithError(errReload).Warn("config file watcher: reload rejected")
		}
		return errReload
	}
	log.Infof("config file watcher: throttle rules reloaded from %s", w.path)
	logSnapshot("config file watcher", snapshot)
	return nil
}
