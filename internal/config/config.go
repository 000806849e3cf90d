// Package config loads weblist settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/weblist/pkg/crypto"
	"github.com/forest6511/weblist/pkg/token"
	"github.com/forest6511/weblist/pkg/vault"
)

// FileName is the config file looked up in the home directory.
const FileName = "config.yaml"

// Environment variables
const (
	EnvHome      = "WEBLIST_HOME"
	EnvConfig    = "WEBLIST_CONFIG"
	EnvLogLevel  = "WEBLIST_LOG_LEVEL"
	EnvRedisAddr = "WEBLIST_REDIS_ADDR"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

const mask = "******"

// CacheSection sizes one cache instance.
type CacheSection struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// Config holds all settings.
type Config struct {
	Home string `yaml:"home"`

	Vault struct {
		KeyPath       string `yaml:"key_path"`
		StorePath     string `yaml:"store_path"`
		KDFIterations int    `yaml:"kdf_iterations"`
	} `yaml:"vault"`

	Cache struct {
		Backend  string       `yaml:"backend"`
		FileList CacheSection `yaml:"file_list"`
		Config   CacheSection `yaml:"config"`
	} `yaml:"cache"`

	Token struct {
		TTL    time.Duration `yaml:"ttl"`
		Issuer string        `yaml:"issuer"`
	} `yaml:"token"`

	Audit struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"audit"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	Storage struct {
		Root         string   `yaml:"root"`
		ShareBaseURL string   `yaml:"share_base_url"`
		MaxFileSize  int64    `yaml:"max_file_size"`
		AllowedTypes []string `yaml:"allowed_types"`
		// Retries of failed backend reads, with RetryDelay doubling.
		Retries    int           `yaml:"retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
}

// Default returns the built-in settings rooted at home. Empty home
// resolves to WEBLIST_HOME or ~/.weblist.
func Default(home string) (Config, error) {
	var c Config
	if home == "" {
		var err error
		if home, err = DefaultHome(); err != nil {
			return c, err
		}
	}
	c.Home = home
	c.Vault.KDFIterations = crypto.PBKDF2Iterations
	c.Cache.Backend = CacheMemory
	c.Cache.FileList = CacheSection{TTL: 300 * time.Second, Capacity: 50}
	c.Cache.Config = CacheSection{TTL: 60 * time.Second, Capacity: 10}
	c.Token.TTL = token.DefaultTTL
	c.Token.Issuer = token.DefaultIssuer
	c.Audit.Enabled = true
	c.Logging.Level = "info"
	c.Storage.MaxFileSize = 2 << 30
	c.Storage.AllowedTypes = []string{"*"}
	c.Storage.Retries = 3
	c.Storage.RetryDelay = time.Second
	c.Redis.Prefix = "weblist"
	return c, nil
}

// DefaultHome returns WEBLIST_HOME, or ~/.weblist when unset.
func DefaultHome() (string, error) {
	if v := os.Getenv(EnvHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".weblist"), nil
}

// Load builds the effective configuration. The YAML file is path when
// given, else WEBLIST_CONFIG, else <home>/config.yaml if it exists.
// Environment overrides are applied next and a non-empty home argument
// last, then derived paths are filled.
func Load(path, home string) (Config, error) {
	c, err := Default(home)
	if err != nil {
		return c, err
	}

	explicit := path != ""
	if !explicit {
		if path = os.Getenv(EnvConfig); path != "" {
			explicit = true
		} else {
			path = filepath.Join(c.Home, FileName)
		}
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return c, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if v := os.Getenv(EnvHome); v != "" {
		c.Home = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
		c.Cache.Backend = CacheRedis
	}
	if home != "" {
		c.Home = home
	}

	c.resolve()
	return c, nil
}

// resolve fills paths left empty from Home.
func (c *Config) resolve() {
	if c.Vault.KeyPath == "" {
		c.Vault.KeyPath = filepath.Join(c.Home, vault.KeyFileName)
	}
	if c.Vault.StorePath == "" {
		c.Vault.StorePath = filepath.Join(c.Home, "credentials.db")
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = filepath.Join(c.Home, "audit")
	}
	if c.Storage.Root == "" {
		c.Storage.Root = filepath.Join(c.Home, "files")
	}
}

// Validate reports every setting outside its allowed range.
func (c Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home must not be empty"))
	}
	if c.Vault.KDFIterations < crypto.MinPBKDF2Iterations || c.Vault.KDFIterations > vault.MaxKDFIterations {
		errs = append(errs, fmt.Errorf("vault.kdf_iterations must be between %d and %d", crypto.MinPBKDF2Iterations, vault.MaxKDFIterations))
	}
	for _, s := range []struct {
		name string
		CacheSection
	}{{"file_list", c.Cache.FileList}, {"config", c.Cache.Config}} {
		if s.Capacity < 1 {
			errs = append(errs, fmt.Errorf("cache.%s.capacity must be at least 1", s.name))
		}
		if s.TTL <= 0 {
			errs = append(errs, fmt.Errorf("cache.%s.ttl must be positive", s.name))
		}
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, redis", c.Cache.Backend))
	}
	if c.Token.TTL < token.MinTTL || c.Token.TTL > token.MaxTTL {
		errs = append(errs, fmt.Errorf("token.ttl must be between %v and %v", token.MinTTL, token.MaxTTL))
	}
	if c.Storage.MaxFileSize <= 0 {
		errs = append(errs, errors.New("storage.max_file_size must be positive"))
	}
	if c.Storage.Retries < 0 || c.Storage.RetryDelay < 0 {
		errs = append(errs, errors.New("storage.retries and storage.retry_delay must not be negative"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not recognized", c.Logging.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// Safe returns a copy with secrets masked, suitable for display.
func (c Config) Safe() Config {
	if c.Redis.Password != "" {
		c.Redis.Password = mask
	}
	return c
}

// YAML renders c as YAML.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
