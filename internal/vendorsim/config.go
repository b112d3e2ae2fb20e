package vendorsim

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config is the simulator configuration.
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Robot   RobotConfig   `yaml:"robot"`
	Timing  TimingConfig  `yaml:"timing"`
	Mode    string        `yaml:"mode"`
}

// NetworkConfig holds the listen addresses of both vendor APIs.
type NetworkConfig struct {
	CompanyA HTTPConfig `yaml:"companyA"`
	CompanyB HTTPConfig `yaml:"companyB"`
}

// HTTPConfig holds one listener's settings.
type HTTPConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"apiKey"`
}

// RobotConfig describes the simulated cell.
type RobotConfig struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Camera    CameraConfig    `yaml:"camera"`
	// ScrewsPerAutoRun is how many screws an automatic unscrew removes.
	ScrewsPerAutoRun int `yaml:"screwsPerAutoRun"`
}

// WorkspaceConfig bounds reachable coordinates.
type WorkspaceConfig struct {
	MaxX float64 `yaml:"maxX"`
	MaxY float64 `yaml:"maxY"`
}

// CameraConfig sets the frame size.
type CameraConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// TimingConfig holds motion latencies.
type TimingConfig struct {
	StepLatencyMs int `yaml:"stepLatencyMs"`
}

// Modes accepted by the simulator.
const (
	ModeNormal  = "normal"
	ModeBusy    = "busy"
	ModeOffline = "offline"
)

var validModes = []string{ModeNormal, ModeBusy, ModeOffline}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			CompanyA: HTTPConfig{Addr: ":9101"},
			CompanyB: HTTPConfig{Addr: ":9102"},
		},
		Robot: RobotConfig{
			Workspace:        WorkspaceConfig{MaxX: 1000, MaxY: 1000},
			Camera:           CameraConfig{Width: 1920, Height: 1080},
			ScrewsPerAutoRun: 4,
		},
		Timing: TimingConfig{StepLatencyMs: 20},
		Mode:   ModeNormal,
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and VENDORSIM_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if mode := os.Getenv("VENDORSIM_MODE"); mode != "" {
		cfg.Mode = mode
	}
	if key := os.Getenv("VENDORSIM_COMPANY_A_API_KEY"); key != "" {
		cfg.Network.CompanyA.APIKey = key
	}
	if v := os.Getenv("VENDORSIM_STEP_LATENCY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Timing.StepLatencyMs = ms
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !slices.Contains(validModes, c.Mode) {
		return fmt.Errorf("invalid mode %s, must be one of: %v", c.Mode, validModes)
	}
	if c.Robot.Workspace.MaxX <= 0 || c.Robot.Workspace.MaxY <= 0 {
		return fmt.Errorf("workspace bounds must be positive: %+v", c.Robot.Workspace)
	}
	if c.Robot.Camera.Width <= 0 || c.Robot.Camera.Height <= 0 {
		return fmt.Errorf("camera size must be positive: %+v", c.Robot.Camera)
	}
	if c.Timing.StepLatencyMs < 0 || c.Timing.StepLatencyMs > 60000 {
		return fmt.Errorf("step latency %dms is outside range [0, 60000]", c.Timing.StepLatencyMs)
	}
	if c.Robot.ScrewsPerAutoRun < 0 {
		return fmt.Errorf("screwsPerAutoRun must not be negative")
	}
	return nil
}
