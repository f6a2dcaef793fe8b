package config

import "time"

// StreamingConfig is the subset of settings the streaming providers consume.
type StreamingConfig struct {
	FileChunkSize    int
	RelayChunkSize   int
	UserAgent        string
	ConnectTimeout   time.Duration
	IdleTimeout      time.Duration
	RadioContentType string
}

// ConfigAdapter exposes a streaming snapshot of the managed Settings.
type ConfigAdapter struct {
	manager *Manager
}

// NewConfigAdapter creates a new config adapter
func NewConfigAdapter(manager *Manager) *ConfigAdapter {
	return &ConfigAdapter{
		manager: manager,
	}
}

// GetConfig returns the current streaming configuration, or defaults when the
// settings cannot be loaded.
func (ca *ConfigAdapter) GetConfig() *StreamingConfig {
	settings, err := ca.manager.Load()
	if err != nil {
		settings = DefaultSettings()
	}

	return &StreamingConfig{
		FileChunkSize:    settings.Streaming.FileChunkSize,
		RelayChunkSize:   settings.Streaming.RelayChunkSize,
		UserAgent:        settings.Streaming.RelayUserAgent,
		ConnectTimeout:   time.Duration(settings.Streaming.RelayConnectTimeoutSeconds) * time.Second,
		IdleTimeout:      time.Duration(settings.Streaming.RelayIdleTimeoutSeconds) * time.Second,
		RadioContentType: settings.Streaming.RadioContentType,
	}
}
