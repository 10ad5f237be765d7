package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"
)

type Config struct {
	DBPath string      `yaml:"db_path"`
	Addr   string      `yaml:"addr"`
	Aging  AgingConfig `yaml:"aging"`
}

// AgingConfig holds the aging parameters, read once at startup. The
// scheduler never reloads them.
type AgingConfig struct {
	ThresholdHours  int `yaml:"threshold_hours"`
	PriorityBump    int `yaml:"priority_bump"`
	IntervalMinutes int `yaml:"interval_minutes"`
}

func Default() Config {
	return Config{
		Addr: ":8080",
		Aging: AgingConfig{
			ThresholdHours:  24,
			PriorityBump:    1,
			IntervalMinutes: 60,
		},
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "taskember", "config.yaml"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Load reads the config file, falling back to defaults when it does not
// exist, then applies environment overrides and validates.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, err
		}
	} else if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func (c Config) Validate() error {
	if c.Aging.ThresholdHours <= 0 {
		return fmt.Errorf("aging threshold_hours must be positive, got %d", c.Aging.ThresholdHours)
	}
	if c.Aging.PriorityBump <= 0 {
		return fmt.Errorf("aging priority_bump must be positive, got %d", c.Aging.PriorityBump)
	}
	if c.Aging.IntervalMinutes <= 0 {
		return fmt.Errorf("aging interval_minutes must be positive, got %d", c.Aging.IntervalMinutes)
	}
	return nil
}

// Threshold returns the staleness threshold as a duration.
func (c AgingConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdHours) * time.Hour
}

// Interval returns the tick interval as a duration.
func (c AgingConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TASKEMBER_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TASKEMBER_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("AGING_THRESHOLD_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGING_THRESHOLD_HOURS: %w", err)
		}
		cfg.Aging.ThresholdHours = hours
	}
	if v := os.Getenv("AGING_PRIORITY_BUMP"); v != "" {
		bump, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGING_PRIORITY_BUMP: %w", err)
		}
		cfg.Aging.PriorityBump = bump
	}
	return nil
}
