// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigSource looks up deployment settings by key.
type ConfigSource interface {
	Get(key string) (string, bool)
}

// EnvSource reads settings from the process environment.
type EnvSource struct{}

// Get returns the environment variable key.
func (EnvSource) Get(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapSource serves settings from a map.
type MapSource map[string]string

// Get returns m[key].
func (m MapSource) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Config holds the settings shared by clients and servers.
type Config struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Timeout      int      `yaml:"timeout"`
	WorkDir      string   `yaml:"work_dir"`
	LogLevel     LogLevel `yaml:"log_level"`
	CacheExpiry  int      `yaml:"cache_expiry"`
	CacheSize    int      `yaml:"cache_size"`
	PrivateFlags uint32   `yaml:"private_flags"`
	ClientFlags  uint32   `yaml:"client_flags"`
	// Embedding forces the structure embedding a server sends with. Empty
	// derives it from each client's private flags.
	Embedding string `yaml:"embedding"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Host:        "localhost",
		Port:        56565,
		Timeout:     DefaultTimeout,
		WorkDir:     os.TempDir(),
		LogLevel:    LogInfo,
		CacheExpiry: int(DefaultCacheExpiry.Seconds()),
		CacheSize:   DefaultCacheSize,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("uda: port %d out of range", c.Port)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("uda: negative timeout %d", c.Timeout)
	}
	if c.CacheExpiry < 0 {
		return fmt.Errorf("uda: negative cache expiry %d", c.CacheExpiry)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("uda: negative cache size %d", c.CacheSize)
	}
	if c.Embedding != "" {
		if _, err := ParseEmbedding(c.Embedding); err != nil {
			return err
		}
	}
	return nil
}

// ServerEmbedding returns the forced embedding, if any.
func (c *Config) ServerEmbedding() (Embedding, bool) {
	if c.Embedding == "" {
		return 0, false
	}
	e, err := ParseEmbedding(c.Embedding)
	return e, err == nil
}

// Loader builds a Config from defaults, an optional YAML file and
// environment overrides, in that order.
type Loader struct {
	// Path names the YAML file. Empty skips it.
	Path string
	// Source supplies the UDA_* overrides. Nil uses the environment.
	Source ConfigSource
}

// Load returns the validated configuration.
func (l Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	if l.Path != "" {
		data, err := os.ReadFile(l.Path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", l.Path, err)
		}
	}
	src := l.Source
	if src == nil {
		src = EnvSource{}
	}
	if err := applyOverrides(cfg, src); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, src ConfigSource) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := src.Get(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := src.Get(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flags := func(key string, dst *uint32) {
		if v, ok := src.Get(key); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 32)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = uint32(n)
		}
	}
	str("UDA_HOST", &cfg.Host)
	num("UDA_PORT", &cfg.Port)
	num("UDA_TIMEOUT", &cfg.Timeout)
	str("UDA_WORK_DIR", &cfg.WorkDir)
	if v, ok := src.Get("UDA_LOG_LEVEL"); ok {
		cfg.LogLevel = LogLevel(strings.ToUpper(v))
	}
	num("UDA_CACHE_EXPIRY", &cfg.CacheExpiry)
	num("UDA_CACHE_SIZE", &cfg.CacheSize)
	flags("UDA_PRIVATE_FLAGS", &cfg.PrivateFlags)
	flags("UDA_CLIENT_FLAGS", &cfg.ClientFlags)
	str("UDA_EMBEDDING", &cfg.Embedding)
	return errors.Join(errs...)
}
