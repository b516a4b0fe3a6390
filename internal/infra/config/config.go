// Package config loads and validates the proxy's configuration, adapted
// from the teacher's internal/infra/config/config.go: Viper-backed YAML
// with an environment override prefix, a fallback chain for finding the
// file, and a post-load validate() pass.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SelectionMethod chooses how the Provider Pool is populated.
type SelectionMethod string

const (
	// Auto fetches the mirror list from the configured JSON endpoint.
	Auto SelectionMethod = "auto"
	// Predefined uses MirrorsPredefined verbatim, in order.
	Predefined SelectionMethod = "predefined"
)

// Config is the root configuration struct. Fields map 1:1 onto
// spec.md §6's collaborator configuration struct, plus the ambient
// fields (Log, Store) the teacher always carries.
type Config struct {
	Port string `mapstructure:"port" yaml:"port"`

	CacheDirectory string `mapstructure:"cache_directory" yaml:"cache_directory"`

	MirrorSelectionMethod SelectionMethod `mapstructure:"mirror_selection_method" yaml:"mirror_selection_method"`
	MirrorsPredefined     []string        `mapstructure:"mirrors_predefined" yaml:"mirrors_predefined"`
	MirrorStatusURL       string          `mapstructure:"mirror_status_url" yaml:"mirror_status_url"`

	LowSpeedLimit  int64         `mapstructure:"low_speed_limit" yaml:"low_speed_limit"`
	LowSpeedWindow time.Duration `mapstructure:"low_speed_window" yaml:"low_speed_window"`

	UncacheableSuffixes []string `mapstructure:"uncacheable_suffixes" yaml:"uncacheable_suffixes"`

	Log   LogConfig   `mapstructure:"log" yaml:"log"`
	Store StoreConfig `mapstructure:"store" yaml:"store"`
}

// LogConfig controls the file/stdout logger.
type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

// StoreConfig points at the audit/metadata SQLite database.
type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// Load reads and validates the config file at path, falling back to
// /config/config.yaml (container convention) when the default path is
// missing, exactly like the teacher's Load.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"To fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"Then edit it with your mirror and cache settings.")
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("cache_directory", "./cache")
	v.SetDefault("mirror_selection_method", string(Predefined))
	v.SetDefault("low_speed_limit", 0)
	v.SetDefault("low_speed_window", "10s")
	// Arch Linux's own repo-database suffixes: these must always be
	// fetched fresh, never served stale from cache.
	v.SetDefault("uncacheable_suffixes", []string{".db", ".db.sig", ".files"})
	v.SetDefault("log.path", "flexo.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.sqlite_path", "./flexo.sqlite")

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvPrefix("FLEXO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.MirrorSelectionMethod {
	case Auto:
		if c.MirrorStatusURL == "" {
			return errors.New("mirror_selection_method \"auto\" requires mirror_status_url")
		}
	case Predefined:
		if len(c.MirrorsPredefined) == 0 {
			return errors.New("mirror_selection_method \"predefined\" requires at least one entry in mirrors_predefined")
		}
	default:
		return fmt.Errorf("unknown mirror_selection_method %q (want %q or %q)", c.MirrorSelectionMethod, Auto, Predefined)
	}

	if c.CacheDirectory == "" {
		c.CacheDirectory = "./cache"
	}

	if c.LowSpeedLimit < 0 {
		return errors.New("low_speed_limit must not be negative")
	}

	return nil
}
