package config

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager owns the live configuration and reloads it when the file changes.
type Manager struct {
	logger     *zap.Logger
	configPath string

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)

	watcher *ConfigWatcher
}

// NewManager loads the configuration at configPath. A missing file means
// defaults plus environment.
func NewManager(logger *zap.Logger, configPath string) (*Manager, error) {
	m := &Manager{
		logger:     logger.Named("config"),
		configPath: configPath,
	}
	if err := m.Load(); err != nil {
		return nil, fmt.Errorf("initial config load failed: %w", err)
	}
	return m, nil
}

// Load re-reads the configuration and notifies subscribers. On error the
// previous configuration stays live.
func (m *Manager) Load() error {
	cfg, err := Load(m.configPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := append([]func(*Config){}, m.callbacks...)
	m.mu.Unlock()

	for _, callback := range callbacks {
		callback(m.Get())
	}

	m.logger.Info("Configuration loaded", zap.String("path", m.configPath))
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	cfg.Backup.Sanitizer.RemoveFields = append([]string(nil), m.config.Backup.Sanitizer.RemoveFields...)
	cfg.Backup.Sanitizer.MaskFields = append([]string(nil), m.config.Backup.Sanitizer.MaskFields...)
	return &cfg
}

// OnChange registers a callback run after every successful reload.
func (m *Manager) OnChange(callback func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Watch starts hot reloading from the config file.
func (m *Manager) Watch() error {
	if m.configPath == "" {
		return fmt.Errorf("no config file to watch")
	}

	watcher, err := NewConfigWatcher(m.logger, m.configPath)
	if err != nil {
		return err
	}
	if err := watcher.Start(func() {
		if err := m.Load(); err != nil {
			m.logger.Error("Failed to hot-reload configuration", zap.Error(err))
		}
	}); err != nil {
		_ = watcher.watcher.Close()
		return err
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()
	return nil
}

// Close stops the watcher.
func (m *Manager) Close() {
	m.mu.Lock()
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
}
