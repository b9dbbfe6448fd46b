// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authblock.
//
// go-authblock is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return path
}

// TestLoad_Success tests successful loading of a valid config file
func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "debug"
  format: "json"

storage:
  backend: "file"
  path: "/var/lib/authblock"

hwsec:
  backend: "tpm2"
  device: "/dev/tpmrm0"
  user_pcr: 16

lecredential:
  check_rate_per_minute: 60
  check_burst: 5

rate_limiter:
  delay_schedule:
    3: 30
    10: 4294967295
  expiration: 48h

scrypt:
  n: 1024
  r: 8
  p: 1

biometrics:
  session_timeout: 1m
  response_timeout: 5s

keyset:
  enable_key_data: false
  storage_types: ["vault-keyset", "user-secret-stash"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.Path != "/var/lib/authblock" {
		t.Errorf("Storage = %+v, want file at /var/lib/authblock", cfg.Storage)
	}
	if cfg.Hwsec.Backend != "tpm2" || cfg.Hwsec.UserPCR != 16 {
		t.Errorf("Hwsec = %+v, want tpm2 with pcr 16", cfg.Hwsec)
	}
	if cfg.LECredential.CheckRatePerMinute != 60 || cfg.LECredential.CheckBurst != 5 {
		t.Errorf("LECredential = %+v, want 60/5", cfg.LECredential)
	}
	if got := cfg.RateLimiter.DelaySchedule[10]; got != hwsec.InfiniteDelay {
		t.Errorf("RateLimiter.DelaySchedule[10] = %d, want infinite", got)
	}
	if cfg.RateLimiter.Expiration != 48*time.Hour {
		t.Errorf("RateLimiter.Expiration = %v, want 48h", cfg.RateLimiter.Expiration)
	}
	if cfg.Scrypt.N != 1024 {
		t.Errorf("Scrypt.N = %d, want 1024", cfg.Scrypt.N)
	}
	if cfg.Biometrics.SessionTimeout != time.Minute {
		t.Errorf("Biometrics.SessionTimeout = %v, want 1m", cfg.Biometrics.SessionTimeout)
	}
	if cfg.Keyset.EnableKeyData {
		t.Error("Keyset.EnableKeyData = true, want false")
	}
	if len(cfg.Keyset.StorageTypes) != 2 {
		t.Errorf("Keyset.StorageTypes = %v, want 2 entries", cfg.Keyset.StorageTypes)
	}
}

// TestLoad_Defaults tests that omitted sections keep their defaults
func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: warn\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	def := Default()
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %v, want warn", cfg.Logging.Level)
	}
	if cfg.Logging.Format != def.Logging.Format {
		t.Errorf("Logging.Format = %v, want %v", cfg.Logging.Format, def.Logging.Format)
	}
	if cfg.Hwsec.Backend != "software" || cfg.Storage.Backend != "memory" {
		t.Errorf("backends = %s/%s, want software/memory", cfg.Hwsec.Backend, cfg.Storage.Backend)
	}
	if !cfg.Keyset.EnableKeyData {
		t.Error("Keyset.EnableKeyData = false, want true")
	}
	if cfg.Scrypt != def.Scrypt {
		t.Errorf("Scrypt = %+v, want %+v", cfg.Scrypt, def.Scrypt)
	}
}

// TestLoad_FileNotFound tests loading a non-existent config file
func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() error = nil, want error")
	}
	if cfg != nil {
		t.Errorf("Load() = %v, want nil", cfg)
	}
}

// TestLoad_InvalidYAML tests loading an invalid YAML file
func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: [unclosed array\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}

// TestLoad_WithEnvOverrides tests that environment variables win over the file
func TestLoad_WithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: memory\n")
	t.Setenv("AUTHBLOCK_LOG_LEVEL", "error")
	t.Setenv("AUTHBLOCK_STORAGE_BACKEND", "file")
	t.Setenv("AUTHBLOCK_DATA_DIR", "/tmp/authblock")
	t.Setenv("AUTHBLOCK_HWSEC_BACKEND", "tpm2")
	t.Setenv("AUTHBLOCK_TPM_SIMULATOR", "true")
	t.Setenv("AUTHBLOCK_ENABLE_KEY_DATA", "false")
	t.Setenv("AUTHBLOCK_CHECK_RATE_PER_MINUTE", "30")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %v, want error", cfg.Logging.Level)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.Path != "/tmp/authblock" {
		t.Errorf("Storage = %+v, want file at /tmp/authblock", cfg.Storage)
	}
	if cfg.Hwsec.Backend != "tpm2" || !cfg.Hwsec.Simulator {
		t.Errorf("Hwsec = %+v, want tpm2 simulator", cfg.Hwsec)
	}
	if cfg.Keyset.EnableKeyData {
		t.Error("Keyset.EnableKeyData = true, want false")
	}
	if cfg.LECredential.CheckRatePerMinute != 30 {
		t.Errorf("CheckRatePerMinute = %d, want 30", cfg.LECredential.CheckRatePerMinute)
	}
}

// TestApplyEnvOverrides_Invalid tests that malformed values are ignored
func TestApplyEnvOverrides_Invalid(t *testing.T) {
	cfg := Default()
	t.Setenv("AUTHBLOCK_TPM_SIMULATOR", "maybe")
	t.Setenv("AUTHBLOCK_ENABLE_KEY_DATA", "sometimes")
	t.Setenv("AUTHBLOCK_CHECK_RATE_PER_MINUTE", "-4")

	ApplyEnvOverrides(cfg)

	if cfg.Hwsec.Simulator {
		t.Error("Hwsec.Simulator = true, want false")
	}
	if !cfg.Keyset.EnableKeyData {
		t.Error("Keyset.EnableKeyData = false, want true")
	}
	if cfg.LECredential.CheckRatePerMinute != 0 {
		t.Errorf("CheckRatePerMinute = %d, want 0", cfg.LECredential.CheckRatePerMinute)
	}
}

// TestValidate tests each validation rule
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "log format"},
		{name: "file without path", mutate: func(c *Config) { c.Storage.Backend = "file" }, wantErr: "storage path"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: "storage backend"},
		{name: "unknown hwsec", mutate: func(c *Config) { c.Hwsec.Backend = "pkcs11" }, wantErr: "hwsec backend"},
		{
			name: "tpm2 without device",
			mutate: func(c *Config) {
				c.Hwsec.Backend = "tpm2"
				c.Hwsec.Device = ""
			},
			wantErr: "hwsec device",
		},
		{
			name: "tpm2 simulator without device",
			mutate: func(c *Config) {
				c.Hwsec.Backend = "tpm2"
				c.Hwsec.Device = ""
				c.Hwsec.Simulator = true
			},
		},
		{
			name: "pcr out of range",
			mutate: func(c *Config) {
				c.Hwsec.Backend = "tpm2"
				c.Hwsec.UserPCR = 24
			},
			wantErr: "user pcr",
		},
		{name: "negative burst", mutate: func(c *Config) { c.LECredential.CheckBurst = -1 }, wantErr: "admission"},
		{
			name:    "decreasing schedule",
			mutate:  func(c *Config) { c.RateLimiter.DelaySchedule = hwsec.DelaySchedule{3: 60, 5: 30} },
			wantErr: "rate_limiter",
		},
		{name: "empty schedule", mutate: func(c *Config) { c.RateLimiter.DelaySchedule = nil }, wantErr: "rate_limiter"},
		{name: "bad scrypt", mutate: func(c *Config) { c.Scrypt.N = 1000 }, wantErr: "scrypt"},
		{name: "zero timeout", mutate: func(c *Config) { c.Biometrics.SessionTimeout = 0 }, wantErr: "biometrics"},
		{name: "no storage types", mutate: func(c *Config) { c.Keyset.StorageTypes = nil }, wantErr: "storage_types"},
		{
			name:    "bad storage type",
			mutate:  func(c *Config) { c.Keyset.StorageTypes = []string{"tpm"} },
			wantErr: "storage type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
