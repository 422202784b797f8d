// Package config validates environment configuration for the signaling service.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ICEServer mirrors the subset of RTCIceServer fields the client needs.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

var defaultICEServers = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Port    string
	SSSHost string
	SSSPort string

	// Optional variables with defaults
	GoEnv       string
	LogLevel    string
	CORSOrigin  string
	SSSPassword string
	SSSDB       int
	ASEnabled   bool
	ASDSN       string
	ICEServers  []ICEServer
	OTLPAddr    string

	// Rate limits (ulule/limiter format, e.g. "20-M")
	RateLimitWsIP            string
	RateLimitFindPartnerUser string
}

// ValidateEnv validates all required environment variables and returns a Config.
// Returns an aggregated error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.SSSHost = os.Getenv("SSS_HOST")
	if cfg.SSSHost == "" {
		errs = append(errs, "SSS_HOST is required")
	}

	cfg.SSSPort = os.Getenv("SSS_PORT")
	if cfg.SSSPort == "" {
		errs = append(errs, "SSS_PORT is required")
	} else if port, err := strconv.Atoi(cfg.SSSPort); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("SSS_PORT must be a valid port number (got '%s')", cfg.SSSPort))
	}

	cfg.SSSPassword = os.Getenv("SSS_PASSWORD")

	cfg.SSSDB = 0
	if dbStr := os.Getenv("SSS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil || db < 0 {
			errs = append(errs, fmt.Sprintf("SSS_DB must be a non-negative integer (got '%s')", dbStr))
		} else {
			cfg.SSSDB = db
		}
	}

	cfg.ASEnabled = os.Getenv("AS_ENABLED") == "true"
	if cfg.ASEnabled {
		cfg.ASDSN = os.Getenv("AS_DSN")
		if cfg.ASDSN == "" {
			errs = append(errs, "AS_DSN is required when AS_ENABLED=true")
		}
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.CORSOrigin = getEnvOrDefault("CORS_ORIGIN", "http://localhost:3000")
	cfg.OTLPAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "20-M")
	cfg.RateLimitFindPartnerUser = getEnvOrDefault("RATE_LIMIT_FIND_PARTNER_USER", "30-M")

	cfg.ICEServers = defaultICEServers
	if raw := os.Getenv("ICE_SERVERS_JSON"); raw != "" {
		var servers []ICEServer
		if err := json.Unmarshal([]byte(raw), &servers); err != nil {
			errs = append(errs, fmt.Sprintf("ICE_SERVERS_JSON is not valid JSON: %v", err))
		} else {
			cfg.ICEServers = servers
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"sss_host", cfg.SSSHost,
		"sss_port", cfg.SSSPort,
		"sss_db", cfg.SSSDB,
		"as_enabled", cfg.ASEnabled,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"ice_servers", len(cfg.ICEServers),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
