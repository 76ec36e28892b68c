package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings tree. Precedence is file > env >
// defaults; Validate rejects configurations that cannot run before any
// component starts.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Signaling *SignalingConfig `json:"signaling"`
}

type DatabaseConfig struct {
	Path           string        `json:"path"`
	MaxConnections int           `json:"max_connections"`
	Timeout        time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval  time.Duration `json:"ping_interval"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	SendQueueSize int           `json:"send_queue_size"`
	AuthTimeout   time.Duration `json:"auth_timeout"`
}

type SignalingConfig struct {
	CacheTTL time.Duration `json:"cache_ttl"`
}

// DefaultConfig carries the defaults the service runs with when nothing
// else is specified: 30s heartbeat, 60s silent-death window, 100-deep
// send queues, 2 minute signaling cache.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./mentorlive.db",
			MaxConnections: 10,
			Timeout:        30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:  30 * time.Second,
			ReadTimeout:   60 * time.Second,
			WriteTimeout:  10 * time.Second,
			SendQueueSize: 100,
			AuthTimeout:   5 * time.Second,
		},
		Signaling: &SignalingConfig{
			CacheTTL: 2 * time.Minute,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.SendQueueSize <= 0 {
		return fmt.Errorf("WebSocket send queue size must be positive")
	}
	if c.WebSocket.AuthTimeout <= 0 {
		return fmt.Errorf("WebSocket auth timeout must be positive")
	}

	if c.Signaling == nil {
		return fmt.Errorf("signaling configuration is required")
	}
	if c.Signaling.CacheTTL <= 0 {
		return fmt.Errorf("signaling cache TTL must be positive")
	}

	return nil
}

// LoadFromEnv overlays environment variables on the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if host := os.Getenv("MENTORLIVE_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("MENTORLIVE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if dbPath := os.Getenv("MENTORLIVE_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if v := os.Getenv("MENTORLIVE_DATABASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Database.Timeout = d
		}
	}
	if v := os.Getenv("MENTORLIVE_WEBSOCKET_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("MENTORLIVE_WEBSOCKET_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.ReadTimeout = d
		}
	}
	if v := os.Getenv("MENTORLIVE_WEBSOCKET_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WebSocket.WriteTimeout = d
		}
	}
	if v := os.Getenv("MENTORLIVE_WEBSOCKET_SEND_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.WebSocket.SendQueueSize = n
		}
	}
	if v := os.Getenv("MENTORLIVE_SIGNALING_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Signaling.CacheTTL = d
		}
	}

	return config
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	Database *struct {
		Path           string `json:"path"`
		MaxConnections int    `json:"max_connections"`
		Timeout        string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval  string `json:"ping_interval"`
		ReadTimeout   string `json:"read_timeout"`
		WriteTimeout  string `json:"write_timeout"`
		SendQueueSize int    `json:"send_queue_size"`
		AuthTimeout   string `json:"auth_timeout"`
	} `json:"websocket"`
	Signaling *struct {
		CacheTTL string `json:"cache_ttl"`
	} `json:"signaling"`
}

// LoadFromFile overlays a JSON config file on the env-derived config.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f configFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := LoadFromEnv()

	if f.Database != nil {
		if f.Database.Path != "" {
			config.Database.Path = f.Database.Path
		}
		if f.Database.MaxConnections > 0 {
			config.Database.MaxConnections = f.Database.MaxConnections
		}
		overlayDuration(&config.Database.Timeout, f.Database.Timeout)
	}
	if f.HTTP != nil {
		if f.HTTP.Host != "" {
			config.HTTP.Host = f.HTTP.Host
		}
		if f.HTTP.Port > 0 {
			config.HTTP.Port = f.HTTP.Port
		}
		overlayDuration(&config.HTTP.ReadTimeout, f.HTTP.ReadTimeout)
		overlayDuration(&config.HTTP.WriteTimeout, f.HTTP.WriteTimeout)
	}
	if f.WebSocket != nil {
		overlayDuration(&config.WebSocket.PingInterval, f.WebSocket.PingInterval)
		overlayDuration(&config.WebSocket.ReadTimeout, f.WebSocket.ReadTimeout)
		overlayDuration(&config.WebSocket.WriteTimeout, f.WebSocket.WriteTimeout)
		overlayDuration(&config.WebSocket.AuthTimeout, f.WebSocket.AuthTimeout)
		if f.WebSocket.SendQueueSize > 0 {
			config.WebSocket.SendQueueSize = f.WebSocket.SendQueueSize
		}
	}
	if f.Signaling != nil {
		overlayDuration(&config.Signaling.CacheTTL, f.Signaling.CacheTTL)
	}

	return config, nil
}

// LoadWithPrecedence resolves the final config: file when given, env
// overlay otherwise.
func LoadWithPrecedence(path string) *Config {
	if path != "" {
		if config, err := LoadFromFile(path); err == nil {
			return config
		}
	}
	return LoadFromEnv()
}

func overlayDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
