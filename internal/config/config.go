package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuberecall/packsync/pkg/executor"
	"github.com/cuberecall/packsync/pkg/fetcher"
	"github.com/spf13/viper"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigDir  = filepath.Join(home, ".packsync")
	DefaultGameDir    = filepath.Join(home, ".minecraft")
	DefaultServerURL  = "http://localhost:8000"
	DefaultRetryDelay = time.Second
)

const (
	configFileName = "config"
	envPrefix      = "PACKSYNC"
)

// S3 holds the object storage target used by mirror push.
type S3 struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type Config struct {
	ServerURL     string        `mapstructure:"server_url"`
	GameDir       string        `mapstructure:"game_dir"`
	Concurrency   int           `mapstructure:"concurrency"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
	LockDirs      bool          `mapstructure:"lock_dirs"`
	S3            S3            `mapstructure:"s3"`

	// Path is the config file that was read, if any.
	Path string `mapstructure:"-"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("game_dir", DefaultGameDir)
	v.SetDefault("concurrency", executor.DefaultConcurrency)
	v.SetDefault("retry_attempts", executor.DefaultAttempts)
	v.SetDefault("retry_delay", DefaultRetryDelay)
	v.SetDefault("timeout", fetcher.DefaultTimeout)
	v.SetDefault("lock_dirs", true)

	// Registered so PACKSYNC_S3_* variables are seen by Unmarshal.
	for _, key := range []string{"endpoint", "region", "bucket", "prefix", "profile", "access_key_id", "secret_access_key"} {
		v.SetDefault("s3."+key, "")
	}
}

// Load reads the config file (explicit path, or config.{yaml,json} under
// ~/.packsync), then PACKSYNC_* environment variables. Flags bound to v by
// the caller take precedence over both. A missing config file is fine.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultConfigDir)
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings and normalizes GameDir to an absolute path.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url %q: must be http(s)://host[:port]", c.ServerURL)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")

	if c.GameDir == "" {
		return fmt.Errorf("game dir is required")
	}
	abs, err := filepath.Abs(c.GameDir)
	if err != nil {
		return fmt.Errorf("failed to resolve game dir: %w", err)
	}
	c.GameDir = abs

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
