package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEDIARELAY_"

// Manager loads and persists Settings as JSON.
type Manager struct {
	path string
	mu   sync.RWMutex
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the settings file location.
func (m *Manager) Path() string { return m.path }

// Load reads the settings file, falling back to defaults for a missing file or
// missing fields, then applies environment overrides.
func (m *Manager) Load() (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	settings := DefaultSettings()
	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Settings{}, fmt.Errorf("read settings: %w", err)
	default:
		if err := json.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("parse settings %s: %w", m.path, err)
		}
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Save writes settings atomically.
func (m *Manager) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

type envOverride struct {
	name  string
	apply func(s *Settings, value string) error
}

func stringVar(target func(*Settings) *string) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		*target(s) = v
		return nil
	}
}

func intVar(target func(*Settings) *int) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*target(s) = n
		return nil
	}
}

var envOverrides = []envOverride{
	{"HOST", stringVar(func(s *Settings) *string { return &s.Server.Host })},
	{"PORT", intVar(func(s *Settings) *int { return &s.Server.Port })},
	{"DB_PATH", stringVar(func(s *Settings) *string { return &s.Database.Path })},
	{"MEDIA_ROOT", stringVar(func(s *Settings) *string { return &s.Media.Root })},
	{"AUDIO_DIR", stringVar(func(s *Settings) *string { return &s.Media.AudioDir })},
	{"VIDEO_DIR", stringVar(func(s *Settings) *string { return &s.Media.VideoDir })},
	{"RELAY_USER_AGENT", stringVar(func(s *Settings) *string { return &s.Streaming.RelayUserAgent })},
	{"RELAY_CONNECT_TIMEOUT", intVar(func(s *Settings) *int { return &s.Streaming.RelayConnectTimeoutSeconds })},
	{"RELAY_IDLE_TIMEOUT", intVar(func(s *Settings) *int { return &s.Streaming.RelayIdleTimeoutSeconds })},
	{"RADIO_CONTENT_TYPE", stringVar(func(s *Settings) *string { return &s.Streaming.RadioContentType })},
	{"LOG_LEVEL", stringVar(func(s *Settings) *string { return &s.Log.Level })},
	{"LOG_FORMAT", stringVar(func(s *Settings) *string { return &s.Log.Format })},
	{"LOG_FILE", stringVar(func(s *Settings) *string { return &s.Log.File })},
}

func applyEnv(s *Settings) error {
	for _, o := range envOverrides {
		value, ok := os.LookupEnv(EnvPrefix + o.name)
		if !ok || value == "" {
			continue
		}
		if err := o.apply(s, value); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}
