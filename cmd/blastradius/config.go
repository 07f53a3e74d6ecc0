package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jward/blastradius"
	"github.com/jward/blastradius/internal/detect"
)

// Config is the merged CLI configuration. Precedence, highest first:
// command-line flags, BLASTRADIUS_* environment variables, the config
// file, defaults.
type Config struct {
	DB          string         `mapstructure:"db"`
	Backend     string         `mapstructure:"backend"`
	Workers     int            `mapstructure:"workers"`
	LogLevel    string         `mapstructure:"log_level"`
	Format      string         `mapstructure:"format"`
	ScriptsDir  string         `mapstructure:"scripts_dir"`
	MetricsFile string         `mapstructure:"metrics_file"`
	Routers     []RouterConfig `mapstructure:"routers"`
}

// RouterConfig mounts the routes declared in File under a prefix and wires
// their handlers to shared dependencies:
//
//	routers:
//	  - file: api/users.py
//	    prefix: /v1
//	    depends: [auth.py:current_user]
//
// Config keys are case-insensitive and dot-delimited, so routers are
// listed rather than keyed by file.
type RouterConfig struct {
	File          string `mapstructure:"file"`
	detect.Router `mapstructure:",squash"`
}

// RouterMap returns the routers keyed by file.
func (c *Config) RouterMap() map[string]detect.Router {
	if len(c.Routers) == 0 {
		return nil
	}
	m := make(map[string]detect.Router, len(c.Routers))
	for _, r := range c.Routers {
		m[filepath.ToSlash(r.File)] = r.Router
	}
	return m
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"db":           "db",
	"backend":      "backend",
	"workers":      "workers",
	"log-level":    "log_level",
	"format":       "format",
	"scripts-dir":  "scripts_dir",
	"metrics-file": "metrics_file",
}

// loadConfig reads configFile, or .blastradius/config.yaml under repoRoot
// when configFile is empty, and layers the environment and flags over it.
// A missing default config file is not an error.
func loadConfig(repoRoot, configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("backend", blastradius.BackendSQLite)
	v.SetDefault("format", "json")
	v.SetDefault("log_level", "warn")

	v.SetEnvPrefix("BLASTRADIUS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(repoRoot, ".blastradius"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &c, nil
}

// newLogger returns a text logger on stderr at the named level.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
