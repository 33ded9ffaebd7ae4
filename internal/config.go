package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvDataDir   = "SESSION_REPAIR_DATA_DIR"
	EnvBackupDir = "SESSION_REPAIR_BACKUP_DIR"
	EnvLogLevel  = "SESSION_REPAIR_LOG_LEVEL"
)

// BackupDirName is the backup directory created inside the data directory
const BackupDirName = "repair-backups"

// Config holds the settings shared by every command
type Config struct {
	DataDir         string        `yaml:"data_dir"`
	BackupDir       string        `yaml:"backup_dir"`
	LogLevel        string        `yaml:"log_level"`
	DefaultStrategy Strategy      `yaml:"default_strategy"`
	LockStaleAfter  time.Duration `yaml:"lock_stale_after"`
	ScanConcurrency int           `yaml:"scan_concurrency"`
	RepairInferred  bool          `yaml:"repair_inferred"`
	History         HistoryPolicy `yaml:"history"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		LogLevel:        "info",
		DefaultStrategy: StrategyAuto,
		LockStaleAfter:  DefaultLockStaleAfter,
		ScanConcurrency: 4,
		History:         DefaultHistoryPolicy(),
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/session-repair/config.yaml
func DefaultConfigPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "session-repair", "config.yaml"), nil
}

// LoadConfig reads the YAML file at path on top of the defaults and then
// applies environment overrides. A missing file is not an error unless the
// path was given explicitly.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- config path is chosen by the user.
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, &ParseError{Source: "config", Key: path, Err: err}
			}
			LogDebug("Loaded config from %s", path)
		case errors.Is(err, os.ErrNotExist) && !explicit:
			LogDebug("No config file at %s, using defaults", path)
		default:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.DataDir = envStr(EnvDataDir, c.DataDir)
	c.BackupDir = envStr(EnvBackupDir, c.BackupDir)
	c.LogLevel = envStr(EnvLogLevel, c.LogLevel)
	c.ScanConcurrency = envInt("SESSION_REPAIR_SCAN_CONCURRENCY", c.ScanConcurrency)
}

// Validate checks the values that cannot be checked by decoding alone
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	strategy, err := ParseStrategy(string(c.DefaultStrategy))
	if err != nil {
		return err
	}
	c.DefaultStrategy = strategy
	if c.LockStaleAfter <= 0 {
		c.LockStaleAfter = DefaultLockStaleAfter
	}
	if c.ScanConcurrency < 1 {
		c.ScanConcurrency = 1
	}
	if len(c.History.ContentPartTypes) == 0 {
		return fmt.Errorf("history.content_part_types must not be empty")
	}
	return nil
}

// ResolveDirs fills in the data and backup directories that were not set,
// detecting the data directory when necessary
func (c *Config) ResolveDirs() error {
	if c.DataDir == "" {
		dir, err := DetectDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	c.DataDir = expandHome(c.DataDir)
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, BackupDirName)
	}
	c.BackupDir = expandHome(c.BackupDir)
	return nil
}

// LocksDir returns where session lock files live
func (c Config) LocksDir() string {
	return filepath.Join(c.BackupDir, "locks")
}

// HistoryPath returns the repair journal path
func (c Config) HistoryPath() string {
	return filepath.Join(c.BackupDir, HistoryFileName)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
