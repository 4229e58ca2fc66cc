package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher monitors the configuration file and invokes a callback with the
// freshly loaded configuration whenever the file content changes. Editors
// that replace the file on save are handled by re-adding the watch.
type Watcher struct {
	configPath string
	callback   func(*Config)
	watcher    *fsnotify.Watcher
	lastHash   string
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(configPath string, callback func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{configPath: configPath, callback: callback, watcher: watcher}
	if data, errRead := os.ReadFile(configPath); errRead == nil {
		w.lastHash = hashContent(data)
	}
	return w, nil
}

// Start begins watching. It blocks until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		log.Errorf("failed to watch config directory: %v", err)
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)

	for {
		select {
		case <-ctx.Done():
			return w.watcher.Close()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce partial writes.
			time.Sleep(100 * time.Millisecond)
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file %s: %v", w.configPath, err)
		return
	}
	hash := hashContent(data)
	if hash == w.lastHash {
		return
	}
	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("failed to reload config file %s: %v", w.configPath, err)
		return
	}
	w.lastHash = hash
	log.Infof("config file changed, applying new configuration")
	w.callback(cfg)
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
