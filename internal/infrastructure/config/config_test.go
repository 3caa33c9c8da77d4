package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a temp YAML config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "`+validSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Security.JWT.AccessTokenTTL != 15 {
		t.Errorf("AccessTokenTTL = %d, want 15", cfg.Security.JWT.AccessTokenTTL)
	}
	if cfg.Security.JWT.RefreshTokenTTL != 7*24*60 {
		t.Errorf("RefreshTokenTTL = %d, want %d", cfg.Security.JWT.RefreshTokenTTL, 7*24*60)
	}
	if cfg.Mail.Provider != "log" {
		t.Errorf("Mail.Provider = %q, want log", cfg.Mail.Provider)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
security:
  jwt:
    secret: "`+validSecret+`"
    access_token_ttl: 5
    refresh_token_ttl: 120
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Security.JWT.AccessTokenTTL != 5 {
		t.Errorf("AccessTokenTTL = %d, want 5", cfg.Security.JWT.AccessTokenTTL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ./data/from-file.db
security:
  jwt:
    secret: "`+validSecret+`"
`)

	t.Setenv("FLEETGATE_DATABASE_PATH", "/tmp/from-env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
}

func TestValidate_MissingJWTSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail without a JWT secret")
	}
	if !strings.Contains(err.Error(), "jwt.secret") {
		t.Errorf("error should mention jwt.secret, got: %v", err)
	}
}

func TestValidate_ShortJWTSecret(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "too-short"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should reject a short JWT secret")
	}
}

func TestValidate_RefreshTTLMustExceedAccessTTL(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "`+validSecret+`"
    access_token_ttl: 60
    refresh_token_ttl: 30
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should reject refresh TTL <= access TTL")
	}
}

func TestTTLHelpers(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "`+validSecret+`"
    access_token_ttl: 10
    refresh_token_ttl: 100
  reset_token_ttl: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.AccessTokenTTL().Minutes(); got != 10 {
		t.Errorf("AccessTokenTTL = %v minutes, want 10", got)
	}
	if got := cfg.RefreshTokenTTL().Minutes(); got != 100 {
		t.Errorf("RefreshTokenTTL = %v minutes, want 100", got)
	}
	if got := cfg.ResetTokenTTL().Minutes(); got != 30 {
		t.Errorf("ResetTokenTTL = %v minutes, want 30", got)
	}
}
