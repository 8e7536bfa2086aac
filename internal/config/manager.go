package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/optiinfra/optiinfra/internal/logger"
)

// Manager holds the live configuration and reloads it when the backing
// file changes. Callers that can apply changes at runtime subscribe with
// OnChange; everything else reads once at startup.
type Manager struct {
	mu        sync.RWMutex
	path      string
	config    *Config
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	log       logger.Logger
}

// NewManager loads the configuration and starts watching the file when one
// was given.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:   path,
		config: cfg,
		stopCh: make(chan struct{}),
		log:    logger.New("config"),
	}

	if path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err == nil && watcher.Add(path) == nil {
			m.watcher = watcher
			go m.watch()
		}
	}
	return m, nil
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback invoked after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Stop ends file watching.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.watcher != nil {
		m.watcher.Close()
	}
}

func (m *Manager) watch() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			cfg, err := Load(m.path)
			if err != nil {
				m.log.WithError(err).Warn("config reload failed, keeping previous")
				continue
			}

			m.mu.Lock()
			m.config = cfg
			callbacks := append([]func(*Config){}, m.callbacks...)
			m.mu.Unlock()

			m.log.Info("configuration reloaded", logger.String("path", m.path))
			for _, fn := range callbacks {
				fn(cfg)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.WithError(err).Warn("config watcher error")

		case <-m.stopCh:
			return
		}
	}
}
