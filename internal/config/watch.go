package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	logger     zerolog.Logger
	onChange   func(*Config)
	configPath string
	debounce   time.Duration
	timer      *time.Timer
	stopCh     chan struct{}
}

// Watch starts watching the config file and calls onChange with the freshly
// loaded configuration after each change. Reload errors are logged and the
// previous configuration stays in effect.
func Watch(configPath string, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}

	loader := NewLoader(configPath)
	path := loader.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("config path could not be determined")
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory rather than the file; editors replace config files
	// by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:    watcher,
		loader:     loader,
		logger:     logger.With().Str("component", "config").Logger(),
		onChange:   onChange,
		configPath: path,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Stop stops watching. A reload already debouncing may still be dropped by
// the stop signal rather than delivered.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

// run processes file system events.
func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.configPath {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("op", event.Op.String()).
					Msg("Config file change detected")

				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload debounces bursts of events into one reload.
func (w *Watcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}

		cfg, err := w.loader.Load()
		if err != nil {
			w.logger.Error().Err(err).Msg("Config reload failed")
			return
		}

		if errs := NewValidator().ValidateConfig(cfg); len(errs) > 0 {
			for _, err := range errs {
				w.logger.Error().Err(err).Msg("Config reload rejected")
			}
			return
		}

		w.logger.Info().Msg("Config reloaded")
		w.onChange(cfg)
	})
}
