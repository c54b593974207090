package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the client needs to reach the analysis backend.
type Config struct {
	// BackendURL is the HTTP API root, e.g. "http://localhost:8000/api".
	BackendURL string `mapstructure:"backend_url"`
	// SocketURL is the websocket endpoint, e.g. "ws://localhost:8000/ws".
	SocketURL string `mapstructure:"socket_url"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Upload    UploadConfig    `mapstructure:"upload"`

	Debug bool `mapstructure:"debug"`
}

// ReconnectConfig mirrors the socket backoff policy.
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// UploadConfig bounds what the client accepts before calling the backend.
type UploadConfig struct {
	MaxSizeMB int `mapstructure:"max_size_mb"`
}

// Load reads configuration from an optional file plus GEOCHAT_* environment
// variables, falling back to defaults suitable for a local backend.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("backend_url", "http://localhost:8000/api")
	v.SetDefault("socket_url", "ws://localhost:8000/ws")
	v.SetDefault("dial_timeout", 10*time.Second)
	v.SetDefault("reconnect.base_delay", 500*time.Millisecond)
	v.SetDefault("reconnect.max_delay", 30*time.Second)
	v.SetDefault("reconnect.max_attempts", 8)
	v.SetDefault("upload.max_size_mb", 100)
	v.SetDefault("debug", false)

	v.SetEnvPrefix("GEOCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("geochat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/geochat")
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine; env + defaults carry it.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.BackendURL == "" || cfg.SocketURL == "" {
		return nil, fmt.Errorf("backend_url and socket_url must be set")
	}
	return &cfg, nil
}
