// Package config loads the nexusvault TOML configuration and applies
// NEXUSVAULT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Session SessionConfig
	// Warnings collects overrides that were ignored because they did not parse.
	Warnings []string
}

type ServerConfig struct {
	Addr         string
	MaxBodyBytes int64
	CORSOrigin   string
	AuthToken    string
}

type StorageConfig struct {
	DSN   string
	Watch bool
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type SessionConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

const (
	defaultConfigPath   = "~/.config/nexusvault/config.toml"
	defaultDataDir      = "~/.local/share/nexusvault"
	defaultAddr         = "127.0.0.1:8000"
	defaultMaxBodyBytes = 32 << 20
	defaultBaseURL      = "http://127.0.0.1:8000"
	defaultTimeout      = 15 * time.Second
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         defaultAddr,
			MaxBodyBytes: defaultMaxBodyBytes,
			CORSOrigin:   "*",
		},
		Storage: StorageConfig{
			DSN:   "file://" + mustExpand(defaultDataDir),
			Watch: true,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Session: SessionConfig{
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout,
		},
	}
}

type rawConfig struct {
	Server struct {
		Addr         string `toml:"addr"`
		MaxBodyBytes int64  `toml:"max_body_bytes"`
		CORSOrigin   string `toml:"cors_origin"`
		AuthToken    string `toml:"auth_token"`
	} `toml:"server"`
	Storage struct {
		DSN   string `toml:"dsn"`
		Watch *bool  `toml:"watch"`
	} `toml:"storage"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
		File   string `toml:"file"`
	} `toml:"log"`
	Session struct {
		BaseURL string `toml:"base_url"`
		Token   string `toml:"token"`
		Timeout string `toml:"timeout"`
	} `toml:"session"`
}

// Load reads path (or the default location when empty), falls back to
// defaults when the file is missing, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func loadFile(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.Server.Addr); v != "" {
		cfg.Server.Addr = v
	}
	if raw.Server.MaxBodyBytes > 0 {
		cfg.Server.MaxBodyBytes = raw.Server.MaxBodyBytes
	}
	if v := strings.TrimSpace(raw.Server.CORSOrigin); v != "" {
		cfg.Server.CORSOrigin = v
	}
	cfg.Server.AuthToken = strings.TrimSpace(raw.Server.AuthToken)
	if v := strings.TrimSpace(raw.Storage.DSN); v != "" {
		cfg.Storage.DSN = expandDSN(v)
	}
	if raw.Storage.Watch != nil {
		cfg.Storage.Watch = *raw.Storage.Watch
	}
	if v := strings.TrimSpace(raw.Log.Level); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(raw.Log.Format); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(raw.Log.File); v != "" {
		cfg.Log.File = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.Session.BaseURL); v != "" {
		cfg.Session.BaseURL = v
	}
	cfg.Session.Token = strings.TrimSpace(raw.Session.Token)
	if v := strings.TrimSpace(raw.Session.Timeout); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse config: session.timeout: %w", err)
		}
		cfg.Session.Timeout = timeout
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("NEXUSVAULT_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(getenv("NEXUSVAULT_DATA_DIR")); v != "" {
		c.Storage.DSN = "file://" + mustExpand(v)
	}
	if v := strings.TrimSpace(getenv("NEXUSVAULT_STORAGE_DSN")); v != "" {
		c.Storage.DSN = expandDSN(v)
	}
	if v := strings.TrimSpace(getenv("NEXUSVAULT_LOG_LEVEL")); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("NEXUSVAULT_LOG_FORMAT")); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("NEXUSVAULT_BASE_URL")); v != "" {
		c.Session.BaseURL = v
	}
	if v := strings.TrimSpace(getenv("NEXUSVAULT_AUTH_TOKEN")); v != "" {
		c.Server.AuthToken = v
		c.Session.Token = v
	}
	c.Server.MaxBodyBytes = c.int64Env(getenv, "NEXUSVAULT_MAX_BODY_BYTES", c.Server.MaxBodyBytes)
	c.Session.Timeout = c.durationEnv(getenv, "NEXUSVAULT_TIMEOUT", c.Session.Timeout)
}

func (c *Config) int64Env(getenv func(string) string, name string, fallback int64) int64 {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using fallback %d", name, raw, fallback))
		return fallback
	}
	return value
}

func (c *Config) durationEnv(getenv func(string) string, name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using fallback %s", name, raw, fallback))
		return fallback
	}
	return value
}

// expandDSN resolves a leading ~ in file DSNs and bare directories.
func expandDSN(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "file://~"):
		return "file://" + mustExpand(strings.TrimPrefix(dsn, "file://"))
	case strings.HasPrefix(dsn, "~"):
		return mustExpand(dsn)
	}
	return dsn
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
