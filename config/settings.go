package config

import (
	"net"
	"strconv"
	"strings"
)

// Settings is the persisted server configuration.
type Settings struct {
	Server    ServerSettings    `json:"server"`
	Database  DatabaseSettings  `json:"database"`
	Media     MediaSettings     `json:"media"`
	Streaming StreamingSettings `json:"streaming"`
	Log       LogSettings       `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// ShutdownTimeoutSeconds bounds the graceful drain of in-flight streams.
	ShutdownTimeoutSeconds int `json:"shutdownTimeoutSeconds"`
}

// Addr is the listen address.
func (s ServerSettings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type DatabaseSettings struct {
	Path string `json:"path"`
}

// MediaSettings locates local media. Root anchors relative catalog paths;
// AudioDir and VideoDir are the default scan locations for addmedia.
type MediaSettings struct {
	Root     string `json:"root"`
	AudioDir string `json:"audioDir"`
	VideoDir string `json:"videoDir"`
}

type StreamingSettings struct {
	FileChunkSize              int    `json:"fileChunkSize"`
	RelayChunkSize             int    `json:"relayChunkSize"`
	RelayUserAgent             string `json:"relayUserAgent"`
	RelayConnectTimeoutSeconds int    `json:"relayConnectTimeoutSeconds"`
	RelayIdleTimeoutSeconds    int    `json:"relayIdleTimeoutSeconds"`
	RadioContentType           string `json:"radioContentType"`
}

type LogSettings struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`
	// Format is text or json.
	Format     string `json:"format"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays"`
}

// DefaultSettings returns the configuration used when no settings file exists.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host:                   "0.0.0.0",
			Port:                   8080,
			ShutdownTimeoutSeconds: 10,
		},
		Database: DatabaseSettings{
			Path: "data/mediarelay.db",
		},
		Streaming: StreamingSettings{
			FileChunkSize:    1024 * 1024,
			RelayChunkSize:   4096,
			RelayUserAgent:   "mediarelay/1.0",
			RadioContentType: "application/octet-stream",
		},
		Log: LogSettings{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		return &ValidationError{Field: "database.path", Message: "must not be empty"}
	}
	if s.Streaming.FileChunkSize < 1 {
		return &ValidationError{Field: "streaming.fileChunkSize", Message: "must be positive"}
	}
	if s.Streaming.RelayChunkSize < 16 {
		return &ValidationError{Field: "streaming.relayChunkSize", Message: "must be at least 16 bytes"}
	}
	if s.Streaming.RelayConnectTimeoutSeconds < 0 || s.Streaming.RelayIdleTimeoutSeconds < 0 {
		return &ValidationError{Field: "streaming.relay*TimeoutSeconds", Message: "must not be negative"}
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "log.level", Message: "must be debug, info, warn or error"}
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		return &ValidationError{Field: "log.format", Message: "must be text or json"}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error in field '" + e.Field + "': " + e.Message
}
