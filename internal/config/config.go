// Package config resolves the taskhive home directory and loads the optional
// config.yaml inside it. File values are defaults; flags and environment
// variables win.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the HTTP listen port when neither flag, env, nor file sets one.
const DefaultPort = 3549

// Duration unmarshals from YAML strings like "30m" or "2h".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the contents of <home>/config.yaml.
type Config struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	Dev    bool   `yaml:"dev"`

	DB struct {
		Driver string `yaml:"driver"` // "sqlite" (default) or "postgres"
		URL    string `yaml:"url"`
	} `yaml:"db"`

	Reclaim struct {
		MaxLockAge Duration `yaml:"max_lock_age"` // locks older than this are reclaimed
		Interval   Duration `yaml:"interval"`     // how often the reclaimer runs
	} `yaml:"reclaim"`

	Otel bool `yaml:"otel"`
}

// Load reads <home>/config.yaml, applies defaults, and overlays environment
// variables (TASKHIVE_PORT, TASKHIVE_API_KEY, TASKHIVE_DB_DRIVER,
// DATABASE_URL). A missing file is not an error.
func Load(home string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	if err == nil {
		if uerr := yaml.Unmarshal(raw, &cfg); uerr != nil {
			return Config{}, uerr
		}
	}

	if v := os.Getenv("TASKHIVE_PORT"); v != "" {
		if p, perr := strconv.Atoi(v); perr == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("TASKHIVE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("TASKHIVE_DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.DB.URL == "" {
		cfg.DB.URL = v
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "sqlite"
	}
	if cfg.Reclaim.MaxLockAge <= 0 {
		cfg.Reclaim.MaxLockAge = Duration(2 * time.Hour)
	}
	if cfg.Reclaim.Interval <= 0 {
		cfg.Reclaim.Interval = Duration(5 * time.Minute)
	}
	return cfg, nil
}
