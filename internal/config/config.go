// Package config loads the taskdeck configuration from an optional TOML
// file with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config holds everything the binary needs to run.
type Config struct {
	// DataDir is where the database lives. Default ~/.taskdeck.
	DataDir string `toml:"data_dir"`
	// DBPath overrides the database file location entirely.
	DBPath string `toml:"db_path"`
	// Session scopes the workspace focus slot.
	Session string `toml:"session"`
	// ListenAddr is the HTTP dashboard address.
	ListenAddr string `toml:"listen_addr"`
}

// FileName is the config file looked up inside DataDir (or the working
// directory).
const FileName = "taskdeck.toml"

// Load reads the config file at path (empty means: ./taskdeck.toml if
// present, otherwise defaults only), then applies TASKDECK_* environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		if _, err := os.Stat(FileName); err == nil {
			path = FileName
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".taskdeck")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "taskdeck.db")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Session:    "default",
		ListenAddr: "127.0.0.1:8722",
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TASKDECK_DATA"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TASKDECK_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TASKDECK_SESSION"); v != "" {
		cfg.Session = v
	}
	if v := os.Getenv("TASKDECK_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
}

// EnsureDataDir creates the data directory if missing.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %q: %w", c.DataDir, err)
	}
	return nil
}
