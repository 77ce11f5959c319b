// Package config loads the repository server configuration from a YAML file,
// environment variables and defaults, and reloads it when the file changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ARTIFACTS_VAULT_TOKEN.
const EnvPrefix = "ARTIFACTS"

// Config is the full server configuration.
type Config struct {
	Server       ServerConfig                `mapstructure:"server"`
	Storage      StorageConfig               `mapstructure:"storage"`
	Vault        VaultConfig                 `mapstructure:"vault"`
	Metadata     MetadataConfig              `mapstructure:"metadata"`
	Audit        AuditConfig                 `mapstructure:"audit"`
	Tokens       []TokenConfig               `mapstructure:"tokens"`
	Repositories map[string]RepositoryConfig `mapstructure:"repositories"`
}

// ServerConfig holds HTTP limits.
type ServerConfig struct {
	// MaxUploadBytes bounds uploads of unknown length.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// PrecheckQuota rejects known-length uploads that do not fit before deploying.
	PrecheckQuota bool `mapstructure:"precheck_quota"`
	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StorageConfig holds settings shared by all storage providers.
type StorageConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

// VaultConfig locates the Vault server used to resolve storage credentials.
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
}

// MetadataConfig selects the metadata index cache.
type MetadataConfig struct {
	Cache     string        `mapstructure:"cache"` // memory | redis
	CacheSize int           `mapstructure:"cache_size"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// AuditConfig selects where deploy audit records go.
type AuditConfig struct {
	Driver string `mapstructure:"driver"` // log | sqlite
	DSN    string `mapstructure:"dsn"`
}

// TokenConfig is a named deploy token. Only the bcrypt hash of the secret is stored.
type TokenConfig struct {
	Name       string `mapstructure:"name"`
	SecretHash string `mapstructure:"secret_hash"`
	// Admin grants access to the admin API.
	Admin bool `mapstructure:"admin"`
}

// RepositoryConfig describes one repository.
type RepositoryConfig struct {
	Deploy  bool   `mapstructure:"deploy"`
	Quota   int64  `mapstructure:"quota"`
	Storage string `mapstructure:"storage"`
}

// Validate checks the parts of the configuration that decoding cannot.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.RepositoryNames() {
		repo := c.Repositories[name]
		if strings.ContainsAny(name, "/\\") || name == "" || name == "api" {
			errs = append(errs, fmt.Errorf("invalid repository name %q", name))
		}
		if repo.Storage == "" {
			errs = append(errs, fmt.Errorf("repository %q has no storage location", name))
		}
		if repo.Quota < 0 {
			errs = append(errs, fmt.Errorf("repository %q has a negative quota", name))
		}
	}
	for i, token := range c.Tokens {
		if token.Name == "" || token.SecretHash == "" {
			errs = append(errs, fmt.Errorf("token #%d needs a name and a secret_hash", i))
		}
	}
	switch c.Metadata.Cache {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown metadata cache %q", c.Metadata.Cache))
	}
	switch c.Audit.Driver {
	case "log":
	case "sqlite":
		if c.Audit.DSN == "" {
			errs = append(errs, errors.New("audit driver sqlite needs a dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit driver %q", c.Audit.Driver))
	}
	return errors.Join(errs...)
}

// RepositoryNames returns the configured repository names, sorted.
func (c *Config) RepositoryNames() []string {
	names := make([]string, 0, len(c.Repositories))
	for name := range c.Repositories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Loader reads the configuration and watches it for changes.
type Loader struct {
	v   *viper.Viper
	log *slog.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader for the file at path. An empty path looks for
// config.yaml in the working directory and /etc/artifacts.
func NewLoader(path string, log *slog.Logger) *Loader {
	v := viper.New()

	v.SetDefault("server.max_upload_bytes", int64(512<<20))
	v.SetDefault("server.precheck_quota", false)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("storage.pool_size", 16)
	v.SetDefault("metadata.cache", "memory")
	v.SetDefault("metadata.cache_size", 1024)
	v.SetDefault("metadata.ttl", 25*time.Minute)
	v.SetDefault("metadata.redis_addr", "")
	v.SetDefault("metadata.redis_db", 0)
	v.SetDefault("audit.driver", "log")
	v.SetDefault("audit.dsn", "")
	// Keys without a default are invisible to environment overrides
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/artifacts/")
	}

	return &Loader{v: v, log: log}
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		l.log.Info("Config file not found, using defaults")
	} else {
		l.log.Info("Loaded config", slog.String("file", l.v.ConfigFileUsed()))
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch calls onChange with every valid configuration written to the file.
// Invalid configurations are logged and the previous one stays in effect.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.log.Info("Config file changed, reloading", slog.String("file", e.Name))

		cfg, err := l.decode()
		if err != nil {
			l.log.Error("Failed to reload config, keeping the previous one", "err", err)
			return
		}

		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
