package config

import (
	"os"
	"strings"
	"testing"
)

func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"PORT", "SSS_HOST", "SSS_PORT", "SSS_PASSWORD", "SSS_DB",
		"AS_ENABLED", "AS_DSN", "GO_ENV", "LOG_LEVEL", "ICE_SERVERS_JSON",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if v := orig[k]; v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_Valid(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("SSS_HOST", "localhost")
	os.Setenv("SSS_PORT", "6379")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT 8080, got %q", cfg.Port)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to production, got %q", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LOG_LEVEL to default to info, got %q", cfg.LogLevel)
	}
	if len(cfg.ICEServers) != 1 {
		t.Errorf("expected one default ICE server, got %d", len(cfg.ICEServers))
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SSS_HOST", "localhost")
	os.Setenv("SSS_PORT", "6379")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "PORT is required") {
		t.Fatalf("expected PORT required error, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "99999")
	os.Setenv("SSS_HOST", "localhost")
	os.Setenv("SSS_PORT", "6379")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Fatalf("expected invalid PORT error, got: %v", err)
	}
}

func TestValidateEnv_MissingSSSHost(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("SSS_PORT", "6379")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "SSS_HOST is required") {
		t.Fatalf("expected SSS_HOST required error, got: %v", err)
	}
}

func TestValidateEnv_ASEnabledRequiresDSN(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("SSS_HOST", "localhost")
	os.Setenv("SSS_PORT", "6379")
	os.Setenv("AS_ENABLED", "true")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "AS_DSN is required") {
		t.Fatalf("expected AS_DSN required error, got: %v", err)
	}
}

func TestValidateEnv_CustomICEServers(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("SSS_HOST", "localhost")
	os.Setenv("SSS_PORT", "6379")
	os.Setenv("ICE_SERVERS_JSON", `[{"urls":["turn:example.com:3478"],"username":"u","credential":"c"}]`)

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Username != "u" {
		t.Fatalf("expected custom ICE server to be parsed, got %+v", cfg.ICEServers)
	}
}

func TestValidateEnv_InvalidICEServersJSON(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("SSS_HOST", "localhost")
	os.Setenv("SSS_PORT", "6379")
	os.Setenv("ICE_SERVERS_JSON", `not-json`)

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "ICE_SERVERS_JSON") {
		t.Fatalf("expected ICE_SERVERS_JSON error, got: %v", err)
	}
}
