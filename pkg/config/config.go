// Package config provides the typed configuration schema and loading logic
// for the gate. Policies, rate limits, and risk thresholds are validated
// eagerly at load time so malformed definitions are rejected at startup
// instead of failing per-request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/promptgate/promptgate/pkg/domain"
)

// Config holds the global configuration for the gate.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`
	// APIKeys maps API keys to caller identities. Credential issuance is an
	// external concern; this table is the resolution boundary only.
	APIKeys map[string]IdentityConfig `yaml:"api_keys"`
}

// IdentityConfig describes one configured caller.
type IdentityConfig struct {
	Subject string `yaml:"subject"`
	Plan    string `yaml:"plan"`
}

// SecurityConfig groups the decision pipeline settings.
type SecurityConfig struct {
	Policy    PolicyConfig    `yaml:"policy"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Risk      RiskConfig      `yaml:"risk"`
}

// PolicyConfig holds the named policy rule table.
type PolicyConfig struct {
	DefaultPolicy string                       `yaml:"default_policy"`
	Policies      map[string]domain.PolicyRule `yaml:"policies"`
}

// RateLimitConfig holds default and per-tier rate limits.
type RateLimitConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	// WindowSeconds is the refill window. Capacity is restored in full at
	// each window boundary, not as a continuous trickle.
	WindowSeconds int            `yaml:"window_seconds"`
	PlanLimits    map[string]int `yaml:"limits"`
	// IdleTTLSeconds bounds memory: buckets untouched for this long are
	// evicted. Zero selects three windows.
	IdleTTLSeconds int `yaml:"idle_ttl_seconds"`
}

// Window returns the refill window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// IdleTTL returns the bucket eviction TTL, defaulting to three windows.
func (c RateLimitConfig) IdleTTL() time.Duration {
	if c.IdleTTLSeconds > 0 {
		return time.Duration(c.IdleTTLSeconds) * time.Second
	}
	return 3 * c.Window()
}

// RiskConfig holds the score thresholds that map a numeric risk score to a
// risk level. Score >= High yields CRITICAL, >= Medium yields HIGH,
// >= Low yields MEDIUM, anything lower is LOW.
type RiskConfig struct {
	Thresholds RiskThresholds `yaml:"thresholds"`
}

// RiskThresholds are the three ascending cutoffs.
type RiskThresholds struct {
	Low    int `yaml:"low"`
	Medium int `yaml:"medium"`
	High   int `yaml:"high"`
}

// AuditConfig holds audit sink tuning.
type AuditConfig struct {
	// QueueSize bounds the in-flight record queue; submissions against a
	// full queue are dropped and counted.
	QueueSize int `yaml:"queue_size"`
	// WriteTimeoutMS bounds each persistence attempt.
	WriteTimeoutMS int `yaml:"write_timeout_ms"`
}

// WriteTimeout returns the per-record persistence timeout.
func (c AuditConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: ":8080",
		},
		Security: SecurityConfig{
			Policy: PolicyConfig{
				DefaultPolicy: "restrictive",
				Policies: map[string]domain.PolicyRule{
					"restrictive": {
						MaxPromptLength:   8000,
						AllowExternalAPIs: false,
						AllowedDomains:    []string{"gpt", "claude"},
					},
					"permissive": {
						MaxPromptLength:   domain.MaxPromptLength,
						AllowExternalAPIs: true,
					},
				},
			},
			RateLimit: RateLimitConfig{
				DefaultLimit:  100,
				WindowSeconds: 60,
				PlanLimits: map[string]int{
					"free":       50,
					"premium":    500,
					"enterprise": 10000,
				},
			},
			Risk: RiskConfig{
				Thresholds: RiskThresholds{Low: 30, Medium: 60, High: 80},
			},
		},
		Audit: AuditConfig{
			QueueSize:      1024,
			WriteTimeoutMS: 2000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file, applies environment variable
// overrides, and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GATE_LISTEN_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("GATE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("GATE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("GATE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("GATE_DEFAULT_POLICY"); val != "" {
		cfg.Security.Policy.DefaultPolicy = val
	}
	if val := os.Getenv("GATE_RATE_LIMIT_DEFAULT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Security.RateLimit.DefaultLimit = n
		}
	}
	if val := os.Getenv("GATE_RATE_LIMIT_WINDOW"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Security.RateLimit.WindowSeconds = n
		}
	}
}

// Validate performs comprehensive validation of the entire configuration.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server configuration: address is required")
	}

	if err := c.Security.Policy.Validate(); err != nil {
		return fmt.Errorf("policy configuration: %w", err)
	}

	if err := c.Security.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration: %w", err)
	}

	if err := c.Security.Risk.Thresholds.Validate(); err != nil {
		return fmt.Errorf("risk configuration: %w", err)
	}

	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit configuration: queue_size must be positive")
	}
	if c.Audit.WriteTimeoutMS <= 0 {
		return fmt.Errorf("audit configuration: write_timeout_ms must be positive")
	}

	return nil
}

// Validate checks the policy table for well-formedness. The default policy
// name must resolve to an existing rule; evaluation degrades to deny at
// runtime, but a configuration that can never allow anything is rejected
// here instead.
func (p PolicyConfig) Validate() error {
	if p.DefaultPolicy == "" {
		return fmt.Errorf("default_policy is required")
	}
	if len(p.Policies) == 0 {
		return fmt.Errorf("at least one policy must be defined")
	}
	if _, ok := p.Policies[p.DefaultPolicy]; !ok {
		return fmt.Errorf("default_policy %q is not defined in policies", p.DefaultPolicy)
	}
	for name, rule := range p.Policies {
		if rule.MaxPromptLength < 0 {
			return fmt.Errorf("policy %q: max prompt length must not be negative", name)
		}
		if rule.MaxPromptLength > domain.MaxPromptLength {
			return fmt.Errorf("policy %q: max prompt length exceeds hard bound %d", name, domain.MaxPromptLength)
		}
	}
	return nil
}

// Validate checks rate limit settings.
func (c RateLimitConfig) Validate() error {
	if c.DefaultLimit <= 0 {
		return fmt.Errorf("default_limit must be positive")
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive")
	}
	for plan, limit := range c.PlanLimits {
		if limit <= 0 {
			return fmt.Errorf("limit for plan %q must be positive", plan)
		}
	}
	return nil
}

// Validate checks that the thresholds are ascending and inside [0, 100].
func (t RiskThresholds) Validate() error {
	if t.Low < 0 || t.High > 100 {
		return fmt.Errorf("thresholds must be within [0, 100]")
	}
	if t.Low >= t.Medium || t.Medium >= t.High {
		return fmt.Errorf("thresholds must be strictly ascending (low < medium < high)")
	}
	return nil
}
