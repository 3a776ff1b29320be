package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kutluhann/decen-dht/constants"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.K != constants.K {
		t.Errorf("expected K=%d, got %d", constants.K, cfg.K)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DECEN_PORT", "9123")
	t.Setenv("DECEN_K", "7")
	t.Setenv("DECEN_REQUEST_TIMEOUT", "750ms")
	t.Setenv("DECEN_REPLICATE_CHUNKS", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9123 {
		t.Errorf("expected port 9123, got %d", cfg.Port)
	}
	if cfg.K != 7 {
		t.Errorf("expected K=7, got %d", cfg.K)
	}
	if cfg.RequestTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms timeout, got %s", cfg.RequestTimeout)
	}
	if !cfg.ReplicateChunks {
		t.Error("expected chunk replication to be enabled")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.LogLevel)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "node.env")
	if err := os.WriteFile(envFile, []byte("DECEN_DATA_DIR=/tmp/decen-env-test\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables that are already set.
	os.Unsetenv("DECEN_DATA_DIR")
	t.Cleanup(func() { os.Unsetenv("DECEN_DATA_DIR") })

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/tmp/decen-env-test" {
		t.Errorf("expected data dir from env file, got %q", cfg.DataDir)
	}
}

func TestLoadRejectsBadNumber(t *testing.T) {
	t.Setenv("DECEN_PORT", "not-a-port")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.BootstrapHost = "127.0.0.1"
	if err := cfg.Validate(); err == nil {
		t.Error("bootstrap host without port should be rejected")
	}

	cfg = Default()
	cfg.ChunkSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero chunk size should be rejected")
	}

	cfg = Default()
	cfg.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log level should be rejected")
	}
}

func TestResolveDataDir(t *testing.T) {
	cfg := Default()
	cfg.Port = 9005
	cfg.ResolveDataDir()
	if cfg.DataDir != "data_9005" {
		t.Errorf("expected data_9005, got %s", cfg.DataDir)
	}
	if cfg.KeyFile != filepath.Join("data_9005", constants.KeyFileName) {
		t.Errorf("unexpected key file %s", cfg.KeyFile)
	}
}
