package main

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the calyx CLI configuration, read from a TOML file.
type Config struct {
	Log   LogConfig   `toml:"log"`
	Cache CacheConfig `toml:"cache"`
	Repl  ReplConfig  `toml:"repl"`
}

type LogConfig struct {
	// Verbosity maps to commonlog levels: 0 errors only, 1 adds
	// warnings and info, 2 adds debug.
	Verbosity int `toml:"verbosity"`
}

type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type ReplConfig struct {
	Prompt  string `toml:"prompt"`
	History string `toml:"history"`
}

// DefaultConfigPath is where loadConfig looks when --config is not
// given.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "calyx", "config.toml")
}

func defaultConfig() Config {
	cfg := Config{
		Cache: CacheConfig{Enabled: true},
		Repl:  ReplConfig{Prompt: "calyx> "},
	}
	if dir, err := os.UserCacheDir(); err == nil {
		cfg.Cache.Path = filepath.Join(dir, "calyx", "units.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Repl.History = filepath.Join(home, ".calyx_history")
	}
	return cfg
}

// loadConfig reads the config file at path over the defaults. A
// missing file is not an error; a malformed one is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
