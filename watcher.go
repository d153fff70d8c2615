package vectorguard

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads a configuration file when it changes on disk and hands the
// validated result to an apply function. Invalid files are logged and skipped.
type ConfigWatcher struct {
	path     string
	apply    func(*Config) error
	logger   Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// WatchConfig starts watching path. The directory is watched rather than the file so
// editors that replace the file on save are handled.
func WatchConfig(path string, apply func(*Config) error, logger Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = NopLogger{}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	cw := &ConfigWatcher{
		path:     abs,
		apply:    apply,
		logger:   logger,
		debounce: 100 * time.Millisecond,
		watcher:  w,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.loop()
	return cw, nil
}

func (cw *ConfigWatcher) loop() {
	defer cw.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-cw.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(cw.debounce)
			} else {
				timer.Reset(cw.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("config watcher error", map[string]any{"error": err})
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		cw.logger.Error("config reload rejected", map[string]any{"path": cw.path, "error": err})
		return
	}
	if err := cw.apply(cfg); err != nil {
		cw.logger.Error("config reload failed", map[string]any{"path": cw.path, "error": err})
		return
	}
	cw.logger.Info("config reloaded", map[string]any{"path": cw.path})
}

// Close stops the watcher and waits for the reload loop to exit.
func (cw *ConfigWatcher) Close() error {
	var err error
	cw.once.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
		cw.wg.Wait()
	})
	return err
}
