package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Manager holds the live configuration and hot-reloads the tunable subset
// when the config file changes on disk. Snapshots returned by Current are
// immutable; callers must not retain them across requests if they want to
// observe reloads.
type Manager struct {
	current  atomic.Pointer[Config]
	v        *viper.Viper
	path     string
	logger   *zap.Logger
	mu       sync.Mutex
	onReload []func(*Config)
}

// NewManager loads the initial configuration from path and returns a manager
// around it.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	v := viper.New()
	if err := bindViper(v, path); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{v: v, path: path, logger: logger}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the active configuration snapshot.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// OnReload registers a callback invoked with each successfully applied
// configuration. Callbacks run on the watcher goroutine and must not block.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// Watch begins watching the config file. Invalid reloads are logged and
// discarded; the previous configuration stays active.
func (m *Manager) Watch() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg := Default()
		if err := m.v.Unmarshal(cfg); err != nil {
			m.logger.Warn("Config reload failed, keeping previous",
				zap.String("file", e.Name), zap.Error(err))
			return
		}
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			m.logger.Warn("Reloaded config invalid, keeping previous",
				zap.String("file", e.Name), zap.Error(err))
			return
		}
		m.current.Store(cfg)
		m.logger.Info("Configuration reloaded",
			zap.String("file", e.Name), zap.String("op", e.Op.String()))

		m.mu.Lock()
		handlers := make([]func(*Config), len(m.onReload))
		copy(handlers, m.onReload)
		m.mu.Unlock()
		for _, fn := range handlers {
			fn(cfg)
		}
	})
	m.v.WatchConfig()
}
