// Package config loads the daemon's configuration: an optional YAML file
// (mirroring the teacher's policy.Config pattern) overlaid with
// AGENTKERNEL_* environment variables, then defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every environment knob recognised by the daemon (spec §6).
type Config struct {
	DataDir string `yaml:"dataDir"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	PollIntervalSeconds       int `yaml:"pollIntervalSeconds"`
	WorkerIdleTimeoutSeconds  int `yaml:"workerIdleTimeoutSeconds"`
	MaxRetries                int `yaml:"maxRetries"`
	ResourceThresholdCodeUnit int `yaml:"resourceThresholdCodeUnits"`

	WorkerKillGraceSeconds int `yaml:"workerKillGraceSeconds"`

	DocumentRoot string `yaml:"documentRoot"`
	LogPath      string `yaml:"logPath"`
}

// Defaults returns a Config populated with the daemon's baked-in defaults.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:                   filepath.Join(home, ".agentkernel"),
		Host:                      "127.0.0.1",
		Port:                      0,
		PollIntervalSeconds:       5,
		WorkerIdleTimeoutSeconds:  300,
		MaxRetries:                3,
		ResourceThresholdCodeUnit: 1200,
		WorkerKillGraceSeconds:    5,
	}
}

// Load reads an optional YAML file at path (skipped if path is empty or
// the file does not exist), applies AGENTKERNEL_* environment overrides,
// then fills in anything still unset from Defaults().
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if uErr := yaml.Unmarshal(data, &cfg); uErr != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, uErr)
			}
		case os.IsNotExist(err):
			// no config file; defaults + env only
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTKERNEL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AGENTKERNEL_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("AGENTKERNEL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("AGENTKERNEL_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("AGENTKERNEL_WORKER_IDLE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerIdleTimeoutSeconds = n
		}
	}
	if v := os.Getenv("AGENTKERNEL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("AGENTKERNEL_DOCUMENT_ROOT"); v != "" {
		cfg.DocumentRoot = v
	}
}

func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	if cfg.Host == "" {
		cfg.Host = d.Host
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = d.PollIntervalSeconds
	}
	if cfg.WorkerIdleTimeoutSeconds == 0 {
		cfg.WorkerIdleTimeoutSeconds = d.WorkerIdleTimeoutSeconds
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.ResourceThresholdCodeUnit == 0 {
		cfg.ResourceThresholdCodeUnit = d.ResourceThresholdCodeUnit
	}
	if cfg.WorkerKillGraceSeconds == 0 {
		cfg.WorkerKillGraceSeconds = d.WorkerKillGraceSeconds
	}
	if cfg.DocumentRoot == "" {
		cfg.DocumentRoot = filepath.Join(cfg.DataDir, "documents")
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(cfg.DataDir, "agentkernel.log")
	}
}

// PollInterval is PollIntervalSeconds as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// WorkerIdleTimeout is WorkerIdleTimeoutSeconds as a time.Duration.
func (c Config) WorkerIdleTimeout() time.Duration {
	return time.Duration(c.WorkerIdleTimeoutSeconds) * time.Second
}

// WorkerKillGrace is WorkerKillGraceSeconds as a time.Duration.
func (c Config) WorkerKillGrace() time.Duration {
	return time.Duration(c.WorkerKillGraceSeconds) * time.Second
}

// DatabaseFile returns the path to the single embedded SQL database file.
func (c Config) DatabaseFile() string {
	return filepath.Join(c.DataDir, "agentkernel.db")
}

// DiscoveryFile returns the path to the daemon discovery JSON file.
func (c Config) DiscoveryFile() string {
	return filepath.Join(c.DataDir, "daemon.json")
}

// LogFile returns the path the daemon appends its log to.
func (c Config) LogFile() string {
	return c.LogPath
}
