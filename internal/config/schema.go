// Package config defines the adapter's process settings and the persisted
// bot list.
//
// The bot list is an ordered array of per-identity records (see
// channel.QQConfig). JSON keys use camelCase; fields equal to their default
// are left out of the file on save and restored on load.
package config

import (
	"path/filepath"
)

// LogConfig configures the slog handler installed by the logger package.
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`    // megabytes
	MaxBackups int    `json:"maxBackups"` // files
	MaxAge     int    `json:"maxAge"`     // days
	Compress   bool   `json:"compress"`
}

func defaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

// WebhookConfig holds the listen address for webhook-mode bots.
type WebhookConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func defaultWebhookConfig() WebhookConfig {
	return WebhookConfig{Host: "0.0.0.0", Port: 18790}
}

// AppConfig is the process-level configuration, filled from CLI flags.
type AppConfig struct {
	BotsPath string        `json:"botsPath"`
	Log      LogConfig     `json:"log"`
	Webhook  WebhookConfig `json:"webhook"`
	Watch    bool          `json:"watch"`
}

// DefaultAppConfig returns an AppConfig populated with all default values.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		BotsPath: BotsPath(),
		Log:      defaultLogConfig(),
		Webhook:  defaultWebhookConfig(),
		Watch:    true,
	}
}

// LogPath returns the default rotating log file: ~/.qqadapter/logs/qqadapter.log.
func LogPath() string {
	return filepath.Join(DataDir(), "logs", "qqadapter.log")
}
