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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-authblock/internal/config"
	"github.com/jeremyhahn/go-authblock/pkg/audit"
	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/hwsec"
	swhwsec "github.com/jeremyhahn/go-authblock/pkg/hwsec/software"
	"github.com/jeremyhahn/go-authblock/pkg/hwsec/tpm2"
	"github.com/jeremyhahn/go-authblock/pkg/keyset"
	"github.com/jeremyhahn/go-authblock/pkg/lecredential"
	"github.com/jeremyhahn/go-authblock/pkg/logging"
	"github.com/jeremyhahn/go-authblock/pkg/pinweaver"
	"github.com/jeremyhahn/go-authblock/pkg/secure"
	"github.com/jeremyhahn/go-authblock/pkg/storage"
	"github.com/jeremyhahn/go-authblock/pkg/storage/file"
)

// softwareRootKey holds the software sealing root so that state sealed by
// one invocation can be unsealed by the next.
const softwareRootKey = "hwsec/software-root"

// stack is the set of components one command runs against.
type stack struct {
	cfg     *config.Config
	logger  *logging.Logger
	backend storage.Backend
	hw      hwsec.CryptohomeFrontend
	pw      *pinweaver.Frontend
	le      *lecredential.Manager
	utility *authblock.Utility
	keysets *keyset.Manager
	closers []func() error
}

func openStack(cfg *config.Config, logger *logging.Logger) (_ *stack, err error) {
	s := &stack{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	switch cfg.Storage.Backend {
	case "file":
		fs, err := file.New(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage backend: %w", err)
		}
		s.backend = fs
	default:
		s.backend = storage.NewMemory()
	}
	s.closers = append(s.closers, s.backend.Close)

	if err := s.openHwsec(); err != nil {
		return nil, err
	}

	pw, err := pinweaver.New(storage.NewPrefixed(s.backend, "pinweaver"),
		pinweaver.WithLogger(logger.With("component", "pinweaver")))
	if err != nil {
		return nil, fmt.Errorf("failed to open pinweaver: %w", err)
	}
	s.pw = pw

	auditor := audit.NewLoggerAdapter(logger)
	leOpts := []lecredential.Option{
		lecredential.WithLogger(logger.With("component", "lecredential")),
		lecredential.WithAuditor(auditor),
	}
	if cfg.LECredential.CheckRatePerMinute > 0 {
		leOpts = append(leOpts, lecredential.WithAdmissionLimit(
			cfg.LECredential.CheckRatePerMinute, cfg.LECredential.CheckBurst))
	}
	s.le = lecredential.New(pw, leOpts...)
	s.closers = append(s.closers, func() error { s.le.Close(); return nil })

	deps := &authblock.Deps{
		Hwsec:     s.hw,
		PinWeaver: pw,
		LE:        s.le,
		Scrypt:    cfg.Scrypt,
		Logger:    logger.With("component", "authblock"),
	}
	s.utility = authblock.NewUtility(authblock.NewGeneric(deps),
		authblock.WithUtilityLogger(logger.With("component", "utility")),
		authblock.WithUtilityAuditor(auditor))
	s.closers = append(s.closers, func() error { s.utility.Close(); return nil })

	storageTypes, err := cfg.Keyset.ParseStorageTypes()
	if err != nil {
		return nil, err
	}
	s.keysets = keyset.New(s.backend, s.utility, s.le,
		keyset.WithLogger(logger.With("component", "keyset")),
		keyset.WithAuditor(auditor),
		keyset.WithEnableKeyData(cfg.Keyset.EnableKeyData),
		keyset.WithStorageTypes(storageTypes...),
		keyset.WithRateLimiterPolicy(cfg.RateLimiter.DelaySchedule, cfg.RateLimiter.Expiration))
	return s, nil
}

func (s *stack) openHwsec() error {
	switch s.cfg.Hwsec.Backend {
	case "tpm2":
		opts := []tpm2.Option{
			tpm2.WithLogger(s.logger.With("component", "tpm2")),
			tpm2.WithUserPCR(s.cfg.Hwsec.UserPCR),
		}
		var (
			f   *tpm2.Frontend
			err error
		)
		if s.cfg.Hwsec.Simulator {
			f, err = tpm2.OpenSimulator(opts...)
		} else {
			f, err = tpm2.Open(s.cfg.Hwsec.Device, opts...)
		}
		if err != nil {
			return err
		}
		s.hw = f
		s.closers = append(s.closers, f.Close)
		return nil
	default:
		root, err := s.softwareRoot()
		if err != nil {
			return err
		}
		defer secure.Zero(root)
		f, err := swhwsec.New(swhwsec.WithRoot(root))
		if err != nil {
			return err
		}
		s.hw = f
		return nil
	}
}

func (s *stack) softwareRoot() ([]byte, error) {
	root, err := s.backend.Get(softwareRootKey)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read software root: %w", err)
	}
	if root, err = secure.Random(32); err != nil {
		return nil, err
	}
	if err := s.backend.Put(softwareRootKey, root, storage.DefaultOptions()); err != nil {
		return nil, fmt.Errorf("failed to save software root: %w", err)
	}
	s.logger.Info("generated software sealing root")
	return root, nil
}

// Close releases the components in reverse order of creation.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
