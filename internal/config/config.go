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
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/authfactor"
	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
)

// Config represents the complete authblockctl configuration
type Config struct {
	Logging      LoggingConfig          `yaml:"logging"`
	Storage      StorageConfig          `yaml:"storage"`
	Hwsec        HwsecConfig            `yaml:"hwsec"`
	LECredential LECredentialConfig     `yaml:"lecredential"`
	RateLimiter  RateLimiterConfig      `yaml:"rate_limiter"`
	Scrypt       authblock.ScryptParams `yaml:"scrypt"`
	Biometrics   BiometricsConfig       `yaml:"biometrics"`
	Metrics      MetricsConfig          `yaml:"metrics"`
	Keyset       KeysetConfig           `yaml:"keyset"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects where keyset records and PinWeaver leaves live
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file
	Path    string `yaml:"path"`
}

// HwsecConfig selects the sealing frontend
type HwsecConfig struct {
	Backend   string `yaml:"backend"` // software, tpm2
	Device    string `yaml:"device"`
	Simulator bool   `yaml:"simulator"`
	UserPCR   uint   `yaml:"user_pcr"`
}

// LECredentialConfig controls check admission on the credential manager
type LECredentialConfig struct {
	CheckRatePerMinute int `yaml:"check_rate_per_minute"`
	CheckBurst         int `yaml:"check_burst"`
}

// RateLimiterConfig is the policy of new biometrics rate limiter leaves
type RateLimiterConfig struct {
	DelaySchedule hwsec.DelaySchedule `yaml:"delay_schedule"`
	Expiration    time.Duration       `yaml:"expiration"`
}

// BiometricsConfig controls biometrics sessions
type BiometricsConfig struct {
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// MetricsConfig controls metrics collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// KeysetConfig controls factor record storage
type KeysetConfig struct {
	EnableKeyData bool     `yaml:"enable_key_data"`
	StorageTypes  []string `yaml:"storage_types"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Backend: "memory"},
		Hwsec: HwsecConfig{
			Backend: "software",
			Device:  "/dev/tpmrm0",
			UserPCR: 23,
		},
		RateLimiter: RateLimiterConfig{
			DelaySchedule: hwsec.DelaySchedule{5: hwsec.InfiniteDelay},
			Expiration:    7 * 24 * time.Hour,
		},
		Scrypt: authblock.DefaultScryptParams(),
		Biometrics: BiometricsConfig{
			SessionTimeout:  5 * time.Minute,
			ResponseTimeout: 10 * time.Second,
		},
		Keyset: KeysetConfig{
			EnableKeyData: true,
			StorageTypes:  []string{authfactor.StorageUserSecretStash.String()},
		},
	}
}

// Load reads configuration from a YAML file on top of Default and applies
// environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies AUTHBLOCK_* environment variables to cfg
func ApplyEnvOverrides(cfg *Config) {
	if level := os.Getenv("AUTHBLOCK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("AUTHBLOCK_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if backend := os.Getenv("AUTHBLOCK_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dataDir := os.Getenv("AUTHBLOCK_DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}

	if backend := os.Getenv("AUTHBLOCK_HWSEC_BACKEND"); backend != "" {
		cfg.Hwsec.Backend = backend
	}
	if device := os.Getenv("TPM_DEVICE_PATH"); device != "" {
		cfg.Hwsec.Device = device
	}
	if sim := os.Getenv("AUTHBLOCK_TPM_SIMULATOR"); sim != "" {
		v, err := strconv.ParseBool(sim)
		if err != nil {
			log.Printf("Warning: invalid AUTHBLOCK_TPM_SIMULATOR value %q, keeping %t: %v",
				sim, cfg.Hwsec.Simulator, err)
		} else {
			cfg.Hwsec.Simulator = v
		}
	}

	if rate := os.Getenv("AUTHBLOCK_CHECK_RATE_PER_MINUTE"); rate != "" {
		n, err := strconv.Atoi(rate)
		if err != nil || n < 0 {
			log.Printf("Warning: invalid AUTHBLOCK_CHECK_RATE_PER_MINUTE value %q, using %d",
				rate, cfg.LECredential.CheckRatePerMinute)
		} else {
			cfg.LECredential.CheckRatePerMinute = n
		}
	}

	if keyData := os.Getenv("AUTHBLOCK_ENABLE_KEY_DATA"); keyData != "" {
		v, err := strconv.ParseBool(keyData)
		if err != nil {
			log.Printf("Warning: invalid AUTHBLOCK_ENABLE_KEY_DATA value %q, keeping %t: %v",
				keyData, cfg.Keyset.EnableKeyData, err)
		} else {
			cfg.Keyset.EnableKeyData = v
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the file backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %q (must be memory or file)", c.Storage.Backend)
	}

	switch c.Hwsec.Backend {
	case "software":
	case "tpm2":
		if !c.Hwsec.Simulator && c.Hwsec.Device == "" {
			return fmt.Errorf("hwsec device is required for the tpm2 backend")
		}
		if c.Hwsec.UserPCR > 23 {
			return fmt.Errorf("invalid user pcr: %d", c.Hwsec.UserPCR)
		}
	default:
		return fmt.Errorf("invalid hwsec backend: %q (must be software or tpm2)", c.Hwsec.Backend)
	}

	if c.LECredential.CheckRatePerMinute < 0 || c.LECredential.CheckBurst < 0 {
		return fmt.Errorf("lecredential admission limits must not be negative")
	}

	if err := c.RateLimiter.DelaySchedule.Validate(); err != nil {
		return fmt.Errorf("rate_limiter: %w", err)
	}
	if c.RateLimiter.Expiration < 0 {
		return fmt.Errorf("rate_limiter expiration must not be negative")
	}

	if err := c.Scrypt.Validate(); err != nil {
		return fmt.Errorf("scrypt: %w", err)
	}

	if c.Biometrics.SessionTimeout <= 0 || c.Biometrics.ResponseTimeout <= 0 {
		return fmt.Errorf("biometrics timeouts must be positive")
	}

	if len(c.Keyset.StorageTypes) == 0 {
		return fmt.Errorf("keyset storage_types must not be empty")
	}
	if _, err := c.Keyset.ParseStorageTypes(); err != nil {
		return err
	}
	return nil
}

// ParseStorageTypes maps the configured names onto factor storage types.
func (k KeysetConfig) ParseStorageTypes() ([]authfactor.StorageType, error) {
	out := make([]authfactor.StorageType, 0, len(k.StorageTypes))
	for _, name := range k.StorageTypes {
		switch name {
		case authfactor.StorageVaultKeyset.String():
			out = append(out, authfactor.StorageVaultKeyset)
		case authfactor.StorageUserSecretStash.String():
			out = append(out, authfactor.StorageUserSecretStash)
		default:
			return nil, fmt.Errorf("invalid keyset storage type: %q (must be vault-keyset or user-secret-stash)", name)
		}
	}
	return out, nil
}
