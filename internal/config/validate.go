package config

import (
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap/zapcore"
)

// maxOperationTimeout caps any single operation bound.
const maxOperationTimeout = 30 * time.Minute

// Validate enforces configuration rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if cfg.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}

	if err := validateTimeouts(cfg.Timeouts); err != nil {
		return fmt.Errorf("timeout validation failed: %w", err)
	}

	if err := validateVendors(cfg.Vendors); err != nil {
		return fmt.Errorf("vendor validation failed: %w", err)
	}

	if err := validateAuth(cfg.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	if cfg.Telemetry.BufferSize < 1 {
		return fmt.Errorf("telemetry buffer size must be at least 1, got %d", cfg.Telemetry.BufferSize)
	}
	if cfg.Telemetry.HeartbeatInterval <= 0 {
		return fmt.Errorf("telemetry heartbeat interval must be positive, got %v", cfg.Telemetry.HeartbeatInterval)
	}

	if cfg.Audit.Dir != "" && cfg.Audit.MaxSizeMB <= 0 {
		return fmt.Errorf("audit maxSizeMB must be positive, got %d", cfg.Audit.MaxSizeMB)
	}

	return nil
}

func validateTimeouts(t TimeoutConfig) error {
	for name, d := range map[string]time.Duration{
		"executeRecipe": t.ExecuteRecipe,
		"captureImage":  t.CaptureImage,
		"unscrew":       t.Unscrew,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive, got %v", name, d)
		}
		if d > maxOperationTimeout {
			return fmt.Errorf("%s timeout %v exceeds %v", name, d, maxOperationTimeout)
		}
	}
	return nil
}

func validateVendors(v VendorsConfig) error {
	if v.CompanyA.BaseURL == "" && v.CompanyB.Endpoint == "" {
		return fmt.Errorf("at least one vendor must be configured")
	}
	if v.CompanyA.BaseURL != "" {
		if err := validateURL(v.CompanyA.BaseURL); err != nil {
			return fmt.Errorf("company_a baseURL: %w", err)
		}
		if v.CompanyA.Timeout <= 0 {
			return fmt.Errorf("company_a timeout must be positive, got %v", v.CompanyA.Timeout)
		}
	}
	if v.CompanyB.Endpoint != "" {
		if err := validateURL(v.CompanyB.Endpoint); err != nil {
			return fmt.Errorf("company_b endpoint: %w", err)
		}
		if v.CompanyB.Timeout <= 0 {
			return fmt.Errorf("company_b timeout must be positive, got %v", v.CompanyB.Timeout)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	if !a.Enabled {
		return nil
	}
	switch a.Algorithm {
	case "HS256":
		if a.Secret == "" {
			return fmt.Errorf("HS256 requires a secret")
		}
	case "RS256":
		if a.PublicKeyPEM == "" {
			return fmt.Errorf("RS256 requires publicKeyPEM")
		}
	default:
		return fmt.Errorf("unsupported algorithm %q", a.Algorithm)
	}
	return nil
}
