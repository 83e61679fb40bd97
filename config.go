package safebrowsing

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v7"
	"github.com/pkg/errors"
)

// Config is the client's full set of options, populated by, in order:
// the defaults below, an optional TOML file, environment variables
// bound via struct tags, then direct field assignment by the caller.
type Config struct {
	Server  string `toml:"server" env:"SB3_SERVER"`
	Key     string `toml:"key" env:"SB3_KEY"`
	Version string `toml:"version" env:"SB3_VERSION"`

	Storage  string `toml:"storage" env:"SB3_STORAGE"` // "memory" (default) or "redis"
	RedisAddr string `toml:"redisAddr" env:"SB3_REDIS_ADDR"`

	DataFilePath string `toml:"dataFilePath" env:"SB3_DATA_FILE_PATH"`

	HTTPTimeout  time.Duration `toml:"httpTimeout" env:"SB3_HTTP_TIMEOUT"`
	UserAgent    string        `toml:"userAgent" env:"SB3_USER_AGENT"`
	CacheTime    time.Duration `toml:"cacheTime" env:"SB3_CACHE_TIME"`
	DefaultRetry time.Duration `toml:"defaultRetry" env:"SB3_DEFAULT_RETRY"`

	MaxConcurrentUpdates int    `toml:"maxConcurrentUpdates" env:"SB3_MAX_CONCURRENT_UPDATES"`
	MetricsNamespace     string `toml:"metricsNamespace" env:"SB3_METRICS_NAMESPACE"`

	// Offline skips all network calls: updates become a no-op and
	// IsListed/the resolver never dial out, useful for tests and for a
	// cold-started client that hasn't fetched any lists yet.
	Offline bool `toml:"offline" env:"SB3_OFFLINE"`
}

// DefaultConfig returns the baseline Config, before any file/env/caller
// overrides are layered on.
func DefaultConfig() Config {
	return Config{
		Version:              "3.0",
		Storage:              "memory",
		DataFilePath:         "/tmp/safebrowsing3-state.gob",
		HTTPTimeout:          60 * time.Second,
		UserAgent:            "safebrowsing3 client " + libraryVersion,
		DefaultRetry:         30 * time.Second,
		MaxConcurrentUpdates: 4,
		MetricsNamespace:     "safebrowsing3",
	}
}

const libraryVersion = "1.0"

// LoadConfig builds a Config starting from DefaultConfig, optionally
// decoding tomlPath (if non-empty) over it, then applying any matching
// environment variables, then caller-supplied overrides. It calls
// Validate before returning.
func LoadConfig(tomlPath string, overrides Config) (Config, error) {
	cfg := DefaultConfig()
	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "safebrowsing3: decoding config file %s", tomlPath)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "safebrowsing3: binding environment variables")
	}
	cfg = mergeOverrides(cfg, overrides)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeOverrides copies every non-zero field of o onto cfg.
func mergeOverrides(cfg, o Config) Config {
	if o.Server != "" {
		cfg.Server = o.Server
	}
	if o.Key != "" {
		cfg.Key = o.Key
	}
	if o.Version != "" {
		cfg.Version = o.Version
	}
	if o.Storage != "" {
		cfg.Storage = o.Storage
	}
	if o.RedisAddr != "" {
		cfg.RedisAddr = o.RedisAddr
	}
	if o.DataFilePath != "" {
		cfg.DataFilePath = o.DataFilePath
	}
	if o.HTTPTimeout != 0 {
		cfg.HTTPTimeout = o.HTTPTimeout
	}
	if o.UserAgent != "" {
		cfg.UserAgent = o.UserAgent
	}
	if o.CacheTime != 0 {
		cfg.CacheTime = o.CacheTime
	}
	if o.DefaultRetry != 0 {
		cfg.DefaultRetry = o.DefaultRetry
	}
	if o.MaxConcurrentUpdates != 0 {
		cfg.MaxConcurrentUpdates = o.MaxConcurrentUpdates
	}
	if o.MetricsNamespace != "" {
		cfg.MetricsNamespace = o.MetricsNamespace
	}
	if o.Offline {
		cfg.Offline = true
	}
	return cfg
}

// Validate enforces the required options and fails fast on an
// unsupported server scheme.
func (c Config) Validate() error {
	if c.Offline {
		return nil
	}
	if c.Key == "" {
		return errors.Wrap(ErrFatalConfig, "missing key")
	}
	if c.Server == "" {
		return errors.Wrap(ErrFatalConfig, "missing server")
	}
	if !strings.HasPrefix(c.Server, "http://") && !strings.HasPrefix(c.Server, "https://") {
		return errors.Wrapf(ErrFatalConfig, "server %q must be http:// or https://", c.Server)
	}
	return nil
}
