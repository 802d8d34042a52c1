package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gwillem/rtdecycle/pkg/cycle"
	"github.com/gwillem/rtdecycle/pkg/rtde"
	"github.com/gwillem/rtdecycle/pkg/telemetry"
)

const DefaultConfigFile = "rtdecycle.json"

// Config holds the project configuration
type Config struct {
	Controller ControllerConfig `json:"controller"`
	Bench      BenchConfig      `json:"bench"`
	Run        RunConfig        `json:"run"`
	ExportPath string           `json:"export_path,omitempty"`
	LogLevel   string           `json:"log_level,omitempty"`
}

// ControllerConfig holds the RTDE connection settings
type ControllerConfig struct {
	Host       string  `json:"host"`
	Port       int     `json:"port"`
	RecipeFile string  `json:"recipe_file,omitempty"`
	Frequency  float64 `json:"frequency,omitempty"`
}

// BenchConfig holds configuration for the SO-101 bench arm
type BenchConfig struct {
	Port        string      `json:"port"`
	Calibration Calibration `json:"calibration,omitempty"`
	Mapping     Mapping     `json:"mapping"`
}

// IsCalibrated returns true if the arm has calibration data
func (b *BenchConfig) IsCalibrated() bool {
	return len(b.Calibration) > 0
}

// RunConfig holds the default run parameters. Waypoints are stored as text
// so the file stays hand-editable.
type RunConfig struct {
	WaypointA   string `json:"waypoint_a,omitempty"`
	WaypointB   string `json:"waypoint_b,omitempty"`
	Repetitions int    `json:"repetitions,omitempty"`
	SettleDelay string `json:"settle_delay,omitempty"`
}

// Delay parses SettleDelay, defaulting to cycle.DefaultSettleDelay.
func (r RunConfig) Delay() (time.Duration, error) {
	if r.SettleDelay == "" {
		return cycle.DefaultSettleDelay, nil
	}
	d, err := time.ParseDuration(r.SettleDelay)
	if err != nil {
		return 0, fmt.Errorf("settle delay: %w", err)
	}
	return d, nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			Host:      rtde.DefaultHost,
			Port:      rtde.DefaultPort,
			Frequency: rtde.DefaultFrequency,
		},
		Run: RunConfig{
			Repetitions: 1,
		},
		ExportPath: telemetry.DefaultExportFile,
		LogLevel:   "info",
	}
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Missing fields
// keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is LoadConfigFrom, falling back to DefaultConfig when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfigFrom(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// ApplyEnv overrides fields from RTDECYCLE_* variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"RTDECYCLE_HOST":        &c.Controller.Host,
		"RTDECYCLE_RECIPE_FILE": &c.Controller.RecipeFile,
		"RTDECYCLE_BENCH_PORT":  &c.Bench.Port,
		"RTDECYCLE_WAYPOINT_A":  &c.Run.WaypointA,
		"RTDECYCLE_WAYPOINT_B":  &c.Run.WaypointB,
		"RTDECYCLE_SETTLE":      &c.Run.SettleDelay,
		"RTDECYCLE_EXPORT_PATH": &c.ExportPath,
		"RTDECYCLE_LOG_LEVEL":   &c.LogLevel,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	if v := getenv("RTDECYCLE_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil || port == 0 {
			return fmt.Errorf("RTDECYCLE_PORT: invalid port %q", v)
		}
		c.Controller.Port = int(port)
	}
	if v := getenv("RTDECYCLE_FREQUENCY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("RTDECYCLE_FREQUENCY: invalid frequency %q", v)
		}
		c.Controller.Frequency = f
	}
	if v := getenv("RTDECYCLE_REPETITIONS"); v != "" {
		n, err := cycle.ParseRepetitions(v)
		if err != nil {
			return fmt.Errorf("RTDECYCLE_REPETITIONS: %w", err)
		}
		c.Run.Repetitions = n
	}
	return nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
