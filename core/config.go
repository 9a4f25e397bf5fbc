package core

import (
	"fmt"
	"strings"
)

const (
	DefaultClockSkewToleranceSeconds = 300
	DefaultJobMaxAttempts            = 3
	DefaultBackoffBaseSeconds        = 30
	DefaultBackoffCapSeconds         = 3600
	DefaultSignatureHeader           = "X-Agent-Signature"
)

type SecurityConfig struct {
	// Secret enables signature verification when non-empty.
	Secret string `koanf:"secret" mapstructure:"secret"`
	// ToleranceSeconds bounds |now - timestamp|; zero disables the check.
	ToleranceSeconds int `koanf:"tolerance_seconds" mapstructure:"tolerance_seconds"`
	// Whitelist entries are exact IPs or CIDR ranges; empty disables the check.
	Whitelist []string `koanf:"whitelist" mapstructure:"whitelist"`
	// AllowLegacySignature accepts the deprecated payload-embedded signature
	// when the header is absent. Header signing is canonical.
	AllowLegacySignature bool `koanf:"allow_legacy_signature" mapstructure:"allow_legacy_signature"`
}

type QueueConfig struct {
	MaxAttempts        int `koanf:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseSeconds int `koanf:"backoff_base_seconds" mapstructure:"backoff_base_seconds"`
	BackoffCapSeconds  int `koanf:"backoff_cap_seconds" mapstructure:"backoff_cap_seconds"`
}

type GatewayConfig struct {
	// Async routes accepted events through the job queue instead of invoking
	// the processor inline.
	Async           bool   `koanf:"async" mapstructure:"async"`
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Security    SecurityConfig `koanf:"security" mapstructure:"security"`
	Queue       QueueConfig    `koanf:"queue" mapstructure:"queue"`
	Gateway     GatewayConfig  `koanf:"gateway" mapstructure:"gateway"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "webhooks",
		Security: SecurityConfig{
			ToleranceSeconds: DefaultClockSkewToleranceSeconds,
		},
		Queue: QueueConfig{
			MaxAttempts:        DefaultJobMaxAttempts,
			BackoffBaseSeconds: DefaultBackoffBaseSeconds,
			BackoffCapSeconds:  DefaultBackoffCapSeconds,
		},
		Gateway: GatewayConfig{
			Async:           true,
			SignatureHeader: DefaultSignatureHeader,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Security.ToleranceSeconds < 0 {
		return fmt.Errorf("core: security.tolerance_seconds must not be negative")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("core: queue.max_attempts must be at least 1")
	}
	if c.Queue.BackoffBaseSeconds < 1 {
		return fmt.Errorf("core: queue.backoff_base_seconds must be at least 1")
	}
	if c.Queue.BackoffCapSeconds < c.Queue.BackoffBaseSeconds {
		return fmt.Errorf("core: queue.backoff_cap_seconds must be >= queue.backoff_base_seconds")
	}
	if strings.TrimSpace(c.Gateway.SignatureHeader) == "" {
		return fmt.Errorf("core: gateway.signature_header is required")
	}
	return nil
}
