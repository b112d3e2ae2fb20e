package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultFile is read when RGW_CONFIG is unset and the file exists.
const DefaultFile = "config.yaml"

// Load merges defaults, the optional config file and RGW_* overrides.
func Load() (*Config, error) {
	path := os.Getenv("RGW_CONFIG")
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies RGW_* environment variables. Unparseable values
// are ignored.
func applyEnvOverrides(cfg *Config) {
	cfg.Server.Addr = GetEnvVar("RGW_SERVER_ADDR", cfg.Server.Addr)
	if val := os.Getenv("RGW_SERVER_ALLOWED_ORIGINS"); val != "" {
		cfg.Server.AllowedOrigins = splitList(val)
	}

	cfg.Timeouts.ExecuteRecipe = GetEnvDuration("RGW_TIMEOUT_EXECUTE_RECIPE", cfg.Timeouts.ExecuteRecipe)
	cfg.Timeouts.CaptureImage = GetEnvDuration("RGW_TIMEOUT_CAPTURE_IMAGE", cfg.Timeouts.CaptureImage)
	cfg.Timeouts.Unscrew = GetEnvDuration("RGW_TIMEOUT_UNSCREW", cfg.Timeouts.Unscrew)

	cfg.Vendors.CompanyA.BaseURL = GetEnvVar("RGW_COMPANY_A_BASE_URL", cfg.Vendors.CompanyA.BaseURL)
	cfg.Vendors.CompanyA.APIKey = GetEnvVar("RGW_COMPANY_A_API_KEY", cfg.Vendors.CompanyA.APIKey)
	cfg.Vendors.CompanyA.Timeout = GetEnvDuration("RGW_COMPANY_A_TIMEOUT", cfg.Vendors.CompanyA.Timeout)
	cfg.Vendors.CompanyB.Endpoint = GetEnvVar("RGW_COMPANY_B_ENDPOINT", cfg.Vendors.CompanyB.Endpoint)
	cfg.Vendors.CompanyB.Timeout = GetEnvDuration("RGW_COMPANY_B_TIMEOUT", cfg.Vendors.CompanyB.Timeout)

	cfg.Audit.Dir = GetEnvVar("RGW_AUDIT_DIR", cfg.Audit.Dir)

	cfg.Auth.Enabled = GetEnvBool("RGW_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.Algorithm = GetEnvVar("RGW_AUTH_ALGORITHM", cfg.Auth.Algorithm)
	cfg.Auth.Secret = GetEnvVar("RGW_AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.PublicKeyPEM = GetEnvVar("RGW_AUTH_PUBLIC_KEY_PEM", cfg.Auth.PublicKeyPEM)

	cfg.Log.Level = GetEnvVar("RGW_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = GetEnvBool("RGW_LOG_DEVELOPMENT", cfg.Log.Development)

	cfg.API.ExposeVendorDetail = GetEnvBool("RGW_API_EXPOSE_VENDOR_DETAIL", cfg.API.ExposeVendorDetail)

	cfg.Telemetry.BufferSize = GetEnvInt("RGW_TELEMETRY_BUFFER_SIZE", cfg.Telemetry.BufferSize)
	cfg.Telemetry.HeartbeatInterval = GetEnvDuration("RGW_TELEMETRY_HEARTBEAT_INTERVAL", cfg.Telemetry.HeartbeatInterval)

	cfg.Tracing.OTLPEndpoint = GetEnvVar("RGW_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.ServiceName = GetEnvVar("RGW_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.Insecure = GetEnvBool("RGW_OTLP_INSECURE", cfg.Tracing.Insecure)
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an int with a default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool returns the value of an environment variable as a bool with a default.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
