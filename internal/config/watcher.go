// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5
// seconds) and notifies registered callbacks when risk parameters
// change.
//
// Only Risk is reloadable. Entry sizing (configuredLots,
// riskPerTradeRupees, initialStopPoints, minGapCandlesBetweenTrades),
// broker config, database URL, trading mode, and other structural
// settings require an engine restart (SPEC_FULL §6).
package config

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// ConfigWatcher monitors the config file for changes and invokes
// callbacks when risk fields change. It uses stat-based polling
// (no external dependencies like fsnotify required).
type ConfigWatcher struct {
	path     string
	logger   *log.Logger
	mu       sync.RWMutex
	current  *Config
	lastMod  time.Time
	onChange []func(old, new *Config)
	done     chan struct{}
	stopped  bool
}

// NewConfigWatcher creates a watcher for the given config file path.
// initial is the currently loaded config. The watcher does not start
// until Start() is called.
func NewConfigWatcher(path string, initial *Config, logger *log.Logger) *ConfigWatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[config-watcher] ", log.LstdFlags)
	}
	return &ConfigWatcher{
		path:    path,
		logger:  logger,
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback invoked when the config file changes
// and the new config passes validation and actually differs in its
// reloadable fields. Callbacks receive the old and new config values.
func (w *ConfigWatcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns
// immediately; the watcher runs in a background goroutine. Returns an
// error if the initial file stat fails.
func (w *ConfigWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Printf("watching %s for changes (poll interval: 5s)", w.path)

	go w.pollLoop()
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Println("stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *ConfigWatcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *ConfigWatcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Printf("stat error: %v", err)
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Printf("read error: %v", err)
		return
	}

	var newCfg Config
	if err := json.Unmarshal(data, &newCfg); err != nil {
		w.logger.Printf("parse error (keeping old config): %v", err)
		return
	}
	if err := newCfg.Validate(); err != nil {
		w.logger.Printf("validation error (keeping old config): %v", err)
		return
	}

	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if oldCfg.Entry != newCfg.Entry {
		w.logger.Printf("entry sizing changed on disk but is not live-reloadable; restart the instance to apply it")
	}
	if !reloadableChanged(oldCfg, &newCfg) {
		w.logger.Printf("file changed but no reloadable field changed, skipping")
		return
	}
	w.logChanges(oldCfg, &newCfg)

	w.mu.Lock()
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

// reloadableChanged reports whether the hot-reloadable Risk block
// differs between old and new. Entry is intentionally excluded: its
// sizing fields are not live-reloadable at all (SPEC_FULL §6).
func reloadableChanged(old, new *Config) bool {
	return old.Risk != new.Risk
}

func (w *ConfigWatcher) logChanges(old, new *Config) {
	if old.Risk != new.Risk {
		w.logger.Printf("risk: daily_max_loss=%.2f->%.2f max_per_trade=%.2f->%.2f target=%.2f->%.2f trail_start=%.2f->%.2f trail_step=%.2f->%.2f min_hold=%d->%d",
			old.Risk.DailyMaxLossRupees, new.Risk.DailyMaxLossRupees,
			old.Risk.MaxLossPerTradeRupees, new.Risk.MaxLossPerTradeRupees,
			old.Risk.TargetPoints, new.Risk.TargetPoints,
			old.Risk.TrailStartPoints, new.Risk.TrailStartPoints,
			old.Risk.TrailStepPoints, new.Risk.TrailStepPoints,
			old.Risk.MinHoldSeconds, new.Risk.MinHoldSeconds)
	}
}
