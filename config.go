package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// StoreferryConfig holds the TOML-driven run configuration.
type StoreferryConfig struct {
	Catalog         string      `toml:"catalog"`
	Stores          []string    `toml:"stores"`
	TargetVersion   string      `toml:"target_version"`
	ScratchDir      string      `toml:"scratch_dir"`
	Workers         int         `toml:"workers"`
	OnMissingStore  string      `toml:"on_missing_store"` // error|create|skip
	KeepBackup      bool        `toml:"keep_backup"`
	FailFast        bool        `toml:"fail_fast"`
	MetricsTextfile string      `toml:"metrics_textfile"`
	Hooks           HooksConfig `toml:"hooks"`

	// configDir is the directory containing the TOML file, used to resolve relative paths.
	configDir string
}

type HooksConfig struct {
	AfterMigrate []string `toml:"after_migrate"`
}

// loadConfig reads a TOML config file and returns a StoreferryConfig with
// defaults applied and every path resolved against the config directory.
func loadConfig(path string) (*StoreferryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := StoreferryConfig{
		OnMissingStore: "error",
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	cfg.Catalog = strings.TrimSpace(cfg.Catalog)
	if cfg.Catalog == "" {
		return nil, fmt.Errorf("catalog is required")
	}
	cfg.Catalog = cfg.resolvePath(cfg.Catalog)

	if len(cfg.Stores) == 0 {
		return nil, fmt.Errorf("at least one store is required")
	}
	seen := make(map[string]bool, len(cfg.Stores))
	for i, s := range cfg.Stores {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("stores[%d] is empty", i)
		}
		s = cfg.resolvePath(s)
		if seen[s] {
			return nil, fmt.Errorf("store %s listed twice", s)
		}
		seen[s] = true
		cfg.Stores[i] = s
	}

	cfg.TargetVersion = strings.TrimSpace(cfg.TargetVersion)

	if cfg.OnMissingStore == "" {
		cfg.OnMissingStore = "error"
	}
	switch cfg.OnMissingStore {
	case "error", "create", "skip":
	default:
		return nil, fmt.Errorf("on_missing_store must be one of: error, create, skip")
	}

	if cfg.ScratchDir != "" {
		cfg.ScratchDir = cfg.resolvePath(cfg.ScratchDir)
		info, err := os.Stat(cfg.ScratchDir)
		if err != nil {
			return nil, fmt.Errorf("scratch_dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("scratch_dir %s is not a directory", cfg.ScratchDir)
		}
	}
	if cfg.MetricsTextfile != "" {
		cfg.MetricsTextfile = cfg.resolvePath(cfg.MetricsTextfile)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers()
	}
	if cfg.Workers > len(cfg.Stores) {
		cfg.Workers = len(cfg.Stores)
	}

	return &cfg, nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *StoreferryConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}

func (c *StoreferryConfig) targetLabel() string {
	if c.TargetVersion == "" {
		return "(catalog current)"
	}
	return c.TargetVersion
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}
