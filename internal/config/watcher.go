package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a config directory for changes to the pricing and
// injection-dictionary override files, reloading each in place the moment
// it is written or created. Modeled on the proxy's original rules.yaml /
// killed.yaml watcher: one fsnotify watcher on the directory, dispatch by
// basename. Every write or create event triggers a reload; events are not
// debounced.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher creates a file watcher on dir and performs an initial load of
// both override files (present or not) before starting the background
// goroutine that watches for subsequent changes.
func NewWatcher(dir string) (*Watcher, error) {
	pricingPath := filepath.Join(dir, PricingOverrideFile)
	dictPath := filepath.Join(dir, InjectionDictionaryOverrideFile)

	if err := LoadPricingOverrides(pricingPath); err != nil {
		return nil, err
	}
	if err := LoadInjectionDictionaryOverrides(dictPath); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{fsWatcher: fw, done: make(chan struct{})}
	go w.processEvents(pricingPath, dictPath)

	slog.Info("config override watcher started", "dir", dir)
	return w, nil
}

func (w *Watcher) processEvents(pricingPath, dictPath string) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			switch filepath.Base(event.Name) {
			case PricingOverrideFile:
				if err := LoadPricingOverrides(pricingPath); err != nil {
					slog.Error("reloading pricing override", "error", err)
				} else {
					slog.Info("pricing override reloaded")
				}
			case InjectionDictionaryOverrideFile:
				if err := LoadInjectionDictionaryOverrides(dictPath); err != nil {
					slog.Error("reloading injection dictionary override", "error", err)
				} else {
					slog.Info("injection dictionary override reloaded")
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the fsnotify handle. Safe
// to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
