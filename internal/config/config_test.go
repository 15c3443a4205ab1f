package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultsWithoutSources(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != ":8080" {
		t.Errorf("Expected port :8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.RateLimit.Burst != 5 {
		t.Errorf("Expected burst 5, got %d", cfg.Server.RateLimit.Burst)
	}
	if cfg.Realtime.TypingTTL.Std() != 30*time.Second {
		t.Errorf("Expected typing ttl 30s, got %v", cfg.Realtime.TypingTTL.Std())
	}
	if cfg.Realtime.MaxFileSize != 10<<20 {
		t.Errorf("Expected 10 MiB max file size, got %s", cfg.Realtime.MaxFileSize)
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "roomcast.yaml", `
server:
  port: "9090"
  allowed_origins: ["https://chat.example.com"]
  rate_limit:
    burst: 20
    refill_interval: 500ms
realtime:
  max_file_size: 2MiB
log:
  format: console
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != ":9090" {
		t.Errorf("Expected port :9090, got %s", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://chat.example.com" {
		t.Errorf("Unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.RateLimit.Burst != 20 {
		t.Errorf("Expected burst 20, got %d", cfg.Server.RateLimit.Burst)
	}
	if cfg.Server.RateLimit.RefillInterval.Std() != 500*time.Millisecond {
		t.Errorf("Expected 500ms refill, got %v", cfg.Server.RateLimit.RefillInterval.Std())
	}
	if cfg.Realtime.MaxFileSize != 2<<20 {
		t.Errorf("Expected 2 MiB, got %d", cfg.Realtime.MaxFileSize)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Expected console format, got %s", cfg.Log.Format)
	}
}

func TestEnvironmentOverridesYAML(t *testing.T) {
	path := writeFile(t, "roomcast.yaml", "server:\n  port: \":9090\"\n")
	t.Setenv("SERVER_PORT", ":7070")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("TYPING_TTL", "45s")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != ":7070" {
		t.Errorf("Expected env port to win, got %s", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("Expected trimmed origins, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.RateLimit.RefillInterval.Std() != 2*time.Second {
		t.Errorf("Expected bare integer to be seconds, got %v", cfg.Server.RateLimit.RefillInterval.Std())
	}
	if cfg.Realtime.TypingTTL.Std() != 45*time.Second {
		t.Errorf("Expected 45s typing ttl, got %v", cfg.Realtime.TypingTTL.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestDotenvFileIsOptional(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("Expected missing .env to be ignored, got %v", err)
	}
}

func TestDotenvFileLoads(t *testing.T) {
	// godotenv never overrides variables that are already set, so register
	// cleanup for the ones the file introduces.
	t.Setenv("DATABASE_PATH", "")
	os.Unsetenv("DATABASE_PATH")
	path := writeFile(t, ".env", "DATABASE_PATH=/tmp/from-dotenv.db\n")

	cfg, err := Load("", path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.Path != "/tmp/from-dotenv.db" {
		t.Errorf("Expected path from .env, got %s", cfg.Database.Path)
	}
}

func TestInvalidValuesAreRejected(t *testing.T) {
	t.Setenv("TYPING_TTL", "soon")
	if _, err := Load("", ""); err == nil {
		t.Error("Expected error for unparsable duration")
	}
}

func TestSanitizeRestoresDefaults(t *testing.T) {
	cfg := Sanitize(Config{Log: LogConfig{Format: "XML"}})

	if cfg.Server.Port != ":8080" {
		t.Errorf("Expected default port, got %s", cfg.Server.Port)
	}
	if cfg.Server.SendBufferSize != 256 {
		t.Errorf("Expected default send buffer, got %d", cfg.Server.SendBufferSize)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected unknown format to fall back to json, got %s", cfg.Log.Format)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected info level, got %s", cfg.Log.Level)
	}
}

func TestValidateRequiresSecretAndOrigins(t *testing.T) {
	cfg := Default()
	cfg.Server.AllowedOrigins = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected validation error")
	}

	cfg.Auth.JWTSecret = "x"
	cfg.Server.AllowedOrigins = []string{"http://localhost:8080"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}
