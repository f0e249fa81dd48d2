// Package config resolves engine configuration from defaults, an optional YAML file
// and SLICEPDF_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/soamn/slicePDF/internal/appdirs"
)

const (
	envPrefix = "SLICEPDF"

	defaultMaxSources       = 50
	defaultMaxFileBytes     = 200 * 1024 * 1024
	defaultProbeConcurrency = 4
	defaultPreviewBytes     = 8 * 1024 * 1024
	defaultStartTimeout     = 10 * time.Second
)

type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	Debug   bool          `mapstructure:"debug"`
	Backend BackendConfig `mapstructure:"backend"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type BackendConfig struct {
	Path         string        `mapstructure:"path"`
	Fake         bool          `mapstructure:"fake"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type LimitsConfig struct {
	MaxSources       int   `mapstructure:"max_sources"`
	MaxFileBytes     int64 `mapstructure:"max_file_bytes"`
	ProbeConcurrency int   `mapstructure:"probe_concurrency"`
	PreviewBytes     int64 `mapstructure:"preview_bytes"`
}

// Load reads configuration. SLICEPDF_CONFIG names an explicit file; otherwise
// config.yaml in the data dir is used when present.
func Load() (Config, error) {
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	v := viper.New()
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("debug", false)
	v.SetDefault("backend.path", "")
	v.SetDefault("backend.fake", false)
	v.SetDefault("backend.start_timeout", defaultStartTimeout)
	v.SetDefault("catalog.path", "")
	v.SetDefault("limits.max_sources", defaultMaxSources)
	v.SetDefault("limits.max_file_bytes", defaultMaxFileBytes)
	v.SetDefault("limits.probe_concurrency", defaultProbeConcurrency)
	v.SetDefault("limits.preview_bytes", defaultPreviewBytes)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG"))
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.Backend.Path = strings.TrimSpace(c.Backend.Path)
	c.Catalog.Path = strings.TrimSpace(c.Catalog.Path)
	if c.Backend.StartTimeout <= 0 {
		c.Backend.StartTimeout = defaultStartTimeout
	}
	if c.Limits.MaxSources <= 0 {
		c.Limits.MaxSources = defaultMaxSources
	}
	if c.Limits.MaxFileBytes <= 0 {
		c.Limits.MaxFileBytes = defaultMaxFileBytes
	}
	if c.Limits.ProbeConcurrency <= 0 {
		c.Limits.ProbeConcurrency = defaultProbeConcurrency
	}
	if c.Limits.PreviewBytes <= 0 {
		c.Limits.PreviewBytes = defaultPreviewBytes
	}
}
