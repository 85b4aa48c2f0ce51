// Package config holds runtime configuration for the grdengine binary.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/grd-engine/grd"
)

// Config holds all runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LogFormat string          `yaml:"log_format"` // "text" or "json"
	LogLevel  string          `yaml:"log_level"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // ":memory:" for an in-memory database
}

// EngineConfig carries the reference-value fallbacks of the surcharge
// formulas. Nil percentiles mean "no system default".
type EngineConfig struct {
	DefaultPercentile50 *float64 `yaml:"default_percentile50"`
	DefaultPercentile75 *float64 `yaml:"default_percentile75"`
	DivisorFloor        float64  `yaml:"divisor_floor"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database:  DatabaseConfig{Path: "grd.db"},
		LogFormat: "text",
		LogLevel:  "info",
		Engine:    EngineConfig{DivisorFloor: 1},
		Scheduler: SchedulerConfig{Enabled: true, Interval: time.Hour, Workers: 4},
	}
}

// Load reads a YAML config file on top of Default().
func Load(path string) (Config, error) {
	c := Default()
	if err := c.LoadFromFile(path); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadFromFile reads a YAML config file and merges its values into Config.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return c.Validate()
}

// Validate checks ranges and returns an error if the config is invalid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if err := checkPositive("engine.default_percentile50", c.Engine.DefaultPercentile50); err != nil {
		return err
	}
	if err := checkPositive("engine.default_percentile75", c.Engine.DefaultPercentile75); err != nil {
		return err
	}
	if math.IsNaN(c.Engine.DivisorFloor) || math.IsInf(c.Engine.DivisorFloor, 0) || c.Engine.DivisorFloor <= 0 {
		return fmt.Errorf("engine.divisor_floor must be a positive number")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when the scheduler is enabled")
	}
	if c.Scheduler.Workers < 1 {
		c.Scheduler.Workers = 1
	}
	return nil
}

func checkPositive(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v <= 0 {
		return fmt.Errorf("%s must be a positive number", field)
	}
	return nil
}

// Defaults converts the engine section into grd.Defaults.
func (e EngineConfig) Defaults() grd.Defaults {
	d := grd.StandardDefaults()
	if e.DefaultPercentile50 != nil {
		v := decimal.NewFromFloat(*e.DefaultPercentile50)
		d.Percentile50 = &v
	}
	if e.DefaultPercentile75 != nil {
		v := decimal.NewFromFloat(*e.DefaultPercentile75)
		d.Percentile75 = &v
	}
	if e.DivisorFloor > 0 {
		d.DivisorFloor = decimal.NewFromFloat(e.DivisorFloor)
	}
	return d
}
