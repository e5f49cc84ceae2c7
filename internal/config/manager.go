package config

import (
	"log/slog"
	"sync/atomic"
)

// Manager holds the live configuration and swaps it atomically on
// reload. Components read tunables through Current on every decision,
// so a reload applies immediately. The Discord token, database path and
// shard settings still require a restart.
type Manager struct {
	path string
	cur  atomic.Pointer[Config]
	log  *slog.Logger
}

func NewManager(path string, log *slog.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{path: path, log: log}
	m.cur.Store(cfg)
	return m, nil
}

// Current returns the live configuration snapshot. Callers must not
// mutate it.
func (m *Manager) Current() *Config {
	return m.cur.Load()
}

// Reload re-reads and re-validates the file; on failure the previous
// configuration stays live.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		m.log.Error("config reload failed, keeping previous settings", "err", err)
		return err
	}
	m.cur.Store(cfg)
	m.log.Info("configuration reloaded", "path", m.path)
	return nil
}
