package config

import (
	"time"

	"github.com/robot-control/rgw/internal/model"
)

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Vendors   VendorsConfig   `yaml:"vendors"`
	Audit     AuditConfig     `yaml:"audit"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

// TimeoutConfig bounds each canonical operation end to end.
type TimeoutConfig struct {
	ExecuteRecipe time.Duration `yaml:"executeRecipe"`
	CaptureImage  time.Duration `yaml:"captureImage"`
	Unscrew       time.Duration `yaml:"unscrew"`
}

// For returns the timeout of op.
func (t TimeoutConfig) For(op model.Operation) time.Duration {
	switch op {
	case model.OpExecuteRecipe:
		return t.ExecuteRecipe
	case model.OpCaptureImage:
		return t.CaptureImage
	case model.OpUnscrew:
		return t.Unscrew
	}
	return 0
}

// VendorsConfig holds the native client settings of each vendor.
type VendorsConfig struct {
	CompanyA CompanyAConfig `yaml:"company_a"`
	CompanyB CompanyBConfig `yaml:"company_b"`
}

// CompanyAConfig configures the Company A REST client.
// The vendor is not registered when BaseURL is empty.
type CompanyAConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// CompanyBConfig configures the Company B JSON-RPC client.
// The vendor is not registered when Endpoint is empty.
type CompanyBConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AuditConfig configures the command audit log. Auditing is off when Dir
// is empty.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Algorithm is HS256 or RS256.
	Algorithm    string `yaml:"algorithm"`
	Secret       string `yaml:"secret"`
	PublicKeyPEM string `yaml:"publicKeyPEM"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// APIConfig configures the HTTP boundary.
type APIConfig struct {
	ExposeVendorDetail bool `yaml:"exposeVendorDetail"`
}

// TelemetryConfig configures the command event stream.
type TelemetryConfig struct {
	BufferSize        int           `yaml:"bufferSize"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

// TracingConfig configures OpenTelemetry export. Tracing is off when
// OTLPEndpoint is empty.
type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
	Insecure     bool   `yaml:"insecure"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   2 * time.Minute,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Timeouts: TimeoutConfig{
			ExecuteRecipe: 60 * time.Second,
			CaptureImage:  10 * time.Second,
			Unscrew:       15 * time.Second,
		},
		Vendors: VendorsConfig{
			CompanyA: CompanyAConfig{BaseURL: "http://localhost:9101", Timeout: 60 * time.Second},
			CompanyB: CompanyBConfig{Endpoint: "http://localhost:9102/rpc", Timeout: 60 * time.Second},
		},
		Audit: AuditConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Auth: AuthConfig{Algorithm: "HS256"},
		Log:  LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			BufferSize:        50,
			HeartbeatInterval: 15 * time.Second,
		},
		Tracing: TracingConfig{ServiceName: "rgw"},
	}
}
