// Package config loads service configuration from the environment.
// Missing required keys abort startup with a diagnostic naming the
// key; secret values never appear in errors or logs.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultTenantCacheTTL = 300 * time.Second
	DefaultAPIPathPrefix  = "/api/"
	DefaultHTTPPort       = 8080
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultMetricsNS      = "car"
)

// Config is the full service configuration.
type Config struct {
	// Identity provider.
	AuthDomain string
	Algorithm  string // RS256 or ES256
	JWKSURI    string
	Audience   string

	// Control plane.
	DatabaseURL   string
	EncryptionKey string // base64url, 32 bytes decoded

	// Admission.
	TenantCacheTTL time.Duration
	APIPathPrefix  string

	// Optional infrastructure.
	RedisURL     string
	AuditLogPath string

	// Process.
	HTTPPort  int
	LogLevel  string
	LogFormat string
}

// FromEnv reads configuration from process environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		AuthDomain:     os.Getenv("AUTH_DOMAIN"),
		Algorithm:      envOr("AUTH_ALGORITHM", "RS256"),
		JWKSURI:        os.Getenv("AUTH_JWKS_URI"),
		Audience:       os.Getenv("AUTH_AUDIENCE"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		EncryptionKey:  os.Getenv("ENCRYPTION_KEY"),
		APIPathPrefix:  envOr("API_PATH_PREFIX", DefaultAPIPathPrefix),
		RedisURL:       os.Getenv("REDIS_URL"),
		AuditLogPath:   os.Getenv("AUDIT_LOG_PATH"),
		LogLevel:       envOr("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      envOr("LOG_FORMAT", DefaultLogFormat),
		TenantCacheTTL: DefaultTenantCacheTTL,
		HTTPPort:       DefaultHTTPPort,
	}

	if raw := os.Getenv("TENANT_CACHE_TTL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("TENANT_CACHE_TTL_SECONDS must be a positive integer, got %q", raw)
		}
		cfg.TenantCacheTTL = time.Duration(secs) * time.Second
	}

	if raw := os.Getenv("HTTP_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("HTTP_PORT must be a port number, got %q", raw)
		}
		cfg.HTTPPort = port
	}

	// JWKS URI is derivable from the domain when not set explicitly.
	if cfg.JWKSURI == "" && cfg.AuthDomain != "" {
		cfg.JWKSURI = "https://" + cfg.AuthDomain + "/.well-known/jwks.json"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration, naming the offending key in every
// error.
func (c *Config) Validate() error {
	var missing []string
	if c.AuthDomain == "" {
		missing = append(missing, "AUTH_DOMAIN")
	}
	if c.Audience == "" {
		missing = append(missing, "AUTH_AUDIENCE")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Algorithm != "RS256" && c.Algorithm != "ES256" {
		return fmt.Errorf("AUTH_ALGORITHM must be RS256 or ES256, got %q", c.Algorithm)
	}

	if u, err := url.Parse(c.JWKSURI); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AUTH_JWKS_URI is not a valid URL")
	}

	if !strings.HasPrefix(c.APIPathPrefix, "/") {
		return fmt.Errorf("API_PATH_PREFIX must start with /, got %q", c.APIPathPrefix)
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}

	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
