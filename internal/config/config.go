// Package config loads gateway configuration from the YAML settings file
// and process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the non-secret gateway configuration, loaded from YAML.
type Settings struct {
	Service  ServiceSettings  `yaml:"service"`
	Limits   LimitSettings    `yaml:"limits"`
	Credits  CreditSettings   `yaml:"credits"`
	Provider ProviderSettings `yaml:"provider"`
}

// ServiceSettings configures the HTTP server.
type ServiceSettings struct {
	Name         string        `yaml:"name"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LimitSettings configures request throttling and body size caps.
type LimitSettings struct {
	RequestsPerSecond int   `yaml:"requests_per_second"`
	Burst             int   `yaml:"burst"`
	MaxBodyBytes      int64 `yaml:"max_body_bytes"`
}

// CreditSettings configures the credit ledger behavior.
type CreditSettings struct {
	GrantAmount  int64         `yaml:"grant_amount"`
	GrantProduct string        `yaml:"grant_product"`
	GrantEvent   string        `yaml:"grant_event"`
	DebitRetries int           `yaml:"debit_retries"`
	AttemptTTL   time.Duration `yaml:"attempt_ttl"`
}

// ProviderSettings configures the image provider call.
type ProviderSettings struct {
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Secrets holds credentials and endpoints read from the environment.
type Secrets struct {
	SupabaseURL        string
	SupabaseServiceKey string
	ProviderAPIKey     string
	WebhookSecret      string
	AuthPublicKeyPEM   string
}

// clientKeyNames lists the environment variables exposed through /api/keys.
// All of them are public client-side configuration; none is a credential.
var clientKeyNames = map[string]string{
	"apiKey":            "CLIENT_AUTH_API_KEY",
	"authDomain":        "CLIENT_AUTH_DOMAIN",
	"projectId":         "CLIENT_PROJECT_ID",
	"storageBucket":     "CLIENT_STORAGE_BUCKET",
	"messagingSenderId": "CLIENT_MESSAGING_SENDER_ID",
	"appId":             "CLIENT_APP_ID",
}

// LoadSettings loads the settings from config/gateway.yaml.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFromPath(filepath.Join("config", "gateway.yaml"))
}

// LoadSettingsFromPath loads settings from a specific YAML file.
func LoadSettingsFromPath(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config: %w", err)
	}

	cfg := DefaultSettings()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse gateway config: %w", err)
	}

	if cfg.Service.Port <= 0 || cfg.Service.Port > 65535 {
		return nil, fmt.Errorf("service.port %d out of range", cfg.Service.Port)
	}
	if cfg.Credits.GrantAmount <= 0 {
		return nil, fmt.Errorf("credits.grant_amount must be positive")
	}
	return cfg, nil
}

// LoadSettingsOrDefault loads settings or falls back to defaults when the
// file is absent.
func LoadSettingsOrDefault() *Settings {
	cfg, err := LoadSettings()
	if err != nil {
		return DefaultSettings()
	}
	return cfg
}

// DefaultSettings returns the default gateway settings.
func DefaultSettings() *Settings {
	return &Settings{
		Service: ServiceSettings{
			Name:         "studio-gateway",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Limits: LimitSettings{
			RequestsPerSecond: 5,
			Burst:             10,
			MaxBodyBytes:      24 << 20,
		},
		Credits: CreditSettings{
			GrantAmount:  100,
			GrantProduct: "fotogem-access",
			GrantEvent:   "order.completed",
			DebitRetries: 3,
			AttemptTTL:   10 * time.Minute,
		},
		Provider: ProviderSettings{
			Model:   "gemini-2.5-flash-image-preview",
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 60 * time.Second,
		},
	}
}

// SecretsFromEnv reads credentials from the environment. Callers decide which
// entries are mandatory for their deployment.
func SecretsFromEnv() *Secrets {
	return &Secrets{
		SupabaseURL:        strings.TrimSpace(os.Getenv("SUPABASE_URL")),
		SupabaseServiceKey: strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY")),
		ProviderAPIKey:     strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		WebhookSecret:      strings.TrimSpace(os.Getenv("WEBHOOK_SECRET")),
		AuthPublicKeyPEM:   os.Getenv("AUTH_PUBLIC_KEY"),
	}
}

// Validate checks that all credentials required to serve traffic are present.
func (s *Secrets) Validate() error {
	missing := []string{}
	if s.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if s.SupabaseServiceKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_KEY")
	}
	if s.ProviderAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if s.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}
	if s.AuthPublicKeyPEM == "" {
		missing = append(missing, "AUTH_PUBLIC_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ClientKeys returns the public client configuration values. The error names
// the first missing variable so the deployment gap is visible in logs.
func ClientKeys() (map[string]string, error) {
	keys := make(map[string]string, len(clientKeyNames))
	for field, envName := range clientKeyNames {
		value := strings.TrimSpace(os.Getenv(envName))
		if value == "" {
			return nil, fmt.Errorf("environment variable %s is not set", envName)
		}
		keys[field] = value
	}
	return keys, nil
}
