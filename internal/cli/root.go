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

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-authblock/internal/config"
	"github.com/jeremyhahn/go-authblock/pkg/correlation"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/metrics"
)

// app carries the state shared by the commands of one root command.
type app struct {
	v      *viper.Viper
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the authblockctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), ctx: context.Background(), stdout: os.Stdout, stderr: os.Stderr}

	rootCmd := &cobra.Command{
		Use:   "authblockctl",
		Short: "authblockctl - auth factor and auth block operator tool",
		Long: `authblockctl creates, authenticates and removes the auth factors of
local users. Each factor is protected by an auth block that derives the
user's vault keys from the factor input and a hardware credential.

Supported hwsec backends:
  - software: emulated sealing frontend, root kept in storage
  - tpm2:     TPM 2.0 device or simulator`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
			a.ctx = correlation.Ensure(cmd.Context())
			cmd.SetContext(a.ctx)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (YAML)")
	flags.StringP("output", "o", "text", "output format (text, json, table)")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("storage", "", "storage backend (memory, file)")
	flags.String("data-dir", "", "directory for the file storage backend")
	flags.String("hwsec", "", "hwsec backend (software, tpm2)")
	flags.String("tpm-device", "", "TPM character device")
	flags.Bool("tpm-simulator", false, "use the embedded TPM simulator")
	flags.Bool("metrics", false, "print operation metrics after the command")

	a.v.SetEnvPrefix("AUTHBLOCK")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()
	for key, flag := range map[string]string{
		"config":          "config",
		"output":          "output",
		"verbose":         "verbose",
		"logging.level":   "log-level",
		"storage.backend": "storage",
		"storage.path":    "data-dir",
		"hwsec.backend":   "hwsec",
		"hwsec.device":    "tpm-device",
		"hwsec.simulator": "tpm-simulator",
		"metrics.enabled": "metrics",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		a.createCmd(),
		a.authCmd(),
		a.removeCmd(),
		a.listCmd(),
		a.delayCmd(),
		a.stateInfoCmd(),
		a.typesCmd(),
		a.healthCmd(),
		a.versionCmd(),
	)
	return rootCmd
}

// Execute runs the root command and prints any error
func Execute(ctx context.Context) error {
	cmd := NewRootCommand()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		format, _ := cmd.PersistentFlags().GetString("output")
		_ = NewPrinter(format, os.Stderr).PrintError(err)
	}
	return err
}

// loadConfig layers the config file, AUTHBLOCK_* variables and flags.
func (a *app) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if path := a.v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		config.ApplyEnvOverrides(cfg)
	}

	if a.v.IsSet("logging.level") {
		cfg.Logging.Level = a.v.GetString("logging.level")
	}
	if a.v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	if a.v.IsSet("storage.backend") {
		cfg.Storage.Backend = a.v.GetString("storage.backend")
	}
	if a.v.IsSet("storage.path") {
		cfg.Storage.Path = a.v.GetString("storage.path")
		if !a.v.IsSet("storage.backend") {
			cfg.Storage.Backend = "file"
		}
	}
	if a.v.IsSet("hwsec.backend") {
		cfg.Hwsec.Backend = a.v.GetString("hwsec.backend")
	}
	if a.v.IsSet("hwsec.device") {
		cfg.Hwsec.Device = a.v.GetString("hwsec.device")
	}
	if a.v.IsSet("hwsec.simulator") {
		cfg.Hwsec.Simulator = a.v.GetBool("hwsec.simulator")
	}
	if a.v.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = a.v.GetBool("metrics.enabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withStack opens the configured components, runs fn and closes them.
func (a *app) withStack(fn func(*stack) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := correlation.Logger(a.ctx, logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: a.stderr,
	}))
	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	s, err := openStack(cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(s)
	closeErr := s.Close()
	if cfg.Metrics.Enabled {
		if err := printMetrics(a.stderr); err != nil {
			logger.Warn("failed to gather metrics", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func (a *app) printer() *Printer {
	return NewPrinter(a.v.GetString("output"), a.stdout)
}
