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
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/authfactor"
	"github.com/jeremyhahn/go-authblock/pkg/keyset"
)

// cliTypes are the factor types whose hardware state survives between
// invocations of the tool.
var cliTypes = []authfactor.Type{
	authfactor.TypePassword,
	authfactor.TypePin,
	authfactor.TypeKiosk,
}

func parseCLIType(name string) (authfactor.Type, error) {
	t, err := authfactor.ParseType(name)
	if err != nil {
		return authfactor.TypeUnspecified, err
	}
	for _, ok := range cliTypes {
		if t == ok {
			return t, nil
		}
	}
	return authfactor.TypeUnspecified, fmt.Errorf("factor type %s needs a device session and cannot be managed from the command line", t)
}

func typedMetadata(t authfactor.Type) authfactor.TypedMetadata {
	switch t {
	case authfactor.TypePin:
		return authfactor.PinMetadata{}
	case authfactor.TypeKiosk:
		return authfactor.KioskMetadata{}
	default:
		return authfactor.PasswordMetadata{}
	}
}

// secretInput builds the auth input of a knowledge factor. Kiosk factors
// use the username when no secret is given.
func secretInput(t authfactor.Type, username, secret string) (authblock.AuthInput, error) {
	if secret == "" {
		if t != authfactor.TypeKiosk {
			return authblock.AuthInput{}, fmt.Errorf("--secret is required for %s factors", t)
		}
		secret = username
	}
	return authblock.AuthInput{UserInput: mo.Some([]byte(secret))}, nil
}

// vaultID identifies a vault key without revealing it.
func vaultID(v *keyset.Vault) string {
	key := v.Key()
	sum := sha256.Sum256(key)
	clear(key)
	return hex.EncodeToString(sum[:8])
}

func (a *app) createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <user> <label>",
		Short: "Add an auth factor",
		Long: `Add an auth factor to a user. The first factor creates the user and its
vault key. Later factors need an existing factor to unlock the vault.

Example:
  authblockctl create alice password --type password --secret hunter2
  authblockctl create alice pin --type pin --secret 1234 \
      --auth-label password --auth-secret hunter2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, label := args[0], args[1]
			typeName, _ := cmd.Flags().GetString("type")
			secret, _ := cmd.Flags().GetString("secret")
			authLabel, _ := cmd.Flags().GetString("auth-label")
			authSecret, _ := cmd.Flags().GetString("auth-secret")
			clobber, _ := cmd.Flags().GetBool("clobber")

			t, err := parseCLIType(typeName)
			if err != nil {
				return err
			}
			in, err := secretInput(t, username, secret)
			if err != nil {
				return err
			}
			req := keyset.AddRequest{
				Label:    label,
				Type:     t,
				Input:    in,
				Metadata: authfactor.Metadata{Typed: typedMetadata(t)},
				KeyData:  &keyset.KeyData{Label: label, Type: t.String(), LowEntropy: t == authfactor.TypePin},
				Clobber:  clobber,
			}

			return a.withStack(func(s *stack) error {
				ctx := cmd.Context()
				existing, err := s.keysets.ListFactors(ctx, username)
				if err != nil {
					return err
				}
				if len(existing) == 0 {
					vault, err := s.keysets.AddInitialFactor(ctx, username, req)
					if err != nil {
						return err
					}
					defer vault.Clear()
					return a.printer().PrintSuccess(fmt.Sprintf("created user %s with %s factor %q (vault %s)",
						username, t, label, vaultID(vault)))
				}

				if authLabel == "" {
					return fmt.Errorf("user %s exists; --auth-label is required to unlock the vault", username)
				}
				vault, err := a.unlock(ctx, s, username, authLabel, authSecret)
				if err != nil {
					return err
				}
				defer vault.Clear()
				if err := s.keysets.AddFactor(ctx, vault, req); err != nil {
					return err
				}
				return a.printer().PrintSuccess(fmt.Sprintf("added %s factor %q to %s", t, label, username))
			})
		},
	}
	cmd.Flags().String("type", "password", "factor type (password, pin, kiosk)")
	cmd.Flags().String("secret", "", "factor secret")
	cmd.Flags().String("auth-label", "", "label of an existing factor that unlocks the vault")
	cmd.Flags().String("auth-secret", "", "secret of the unlocking factor")
	cmd.Flags().Bool("clobber", false, "replace a factor with the same label")
	return cmd
}

// unlock authenticates an existing factor, reading its type from the record.
func (a *app) unlock(ctx context.Context, s *stack, username, label, secret string) (*keyset.Vault, error) {
	f, err := s.keysets.GetFactor(ctx, username, label)
	if err != nil {
		return nil, err
	}
	in, err := secretInput(f.Type, username, secret)
	if err != nil {
		return nil, err
	}
	return s.keysets.Authenticate(ctx, username, label, in)
}

func (a *app) authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth <user> <label>",
		Short: "Authenticate an auth factor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, label := args[0], args[1]
			secret, _ := cmd.Flags().GetString("secret")
			return a.withStack(func(s *stack) error {
				vault, err := a.unlock(cmd.Context(), s, username, label, secret)
				if err != nil {
					return err
				}
				defer vault.Clear()
				return a.printer().PrintSuccess(fmt.Sprintf("authenticated %s with %q (vault %s)",
					username, label, vaultID(vault)))
			})
		},
	}
	cmd.Flags().String("secret", "", "factor secret")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user> <label>",
		Short: "Remove an auth factor and release its hardware state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(func(s *stack) error {
				if err := s.keysets.RemoveFactor(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				return a.printer().PrintSuccess(fmt.Sprintf("removed %q from %s", args[1], args[0]))
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user>",
		Short: "List the auth factors of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(func(s *stack) error {
				factors, err := s.keysets.ListFactors(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printer().PrintFactors(factors)
			})
		},
	}
}

func (a *app) delayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delay <user> <label>",
		Short: "Show how long a factor is locked out",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(func(s *stack) error {
				delay, err := s.keysets.FactorDelay(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return a.printer().PrintDelay(args[1], delay)
			})
		},
	}
}

func (a *app) stateInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state-info <user> <label>",
		Short: "Describe the auth block state of a factor",
		Long: `Describe the auth block state of a factor. Only public fields are
shown: the block type, credential labels and work factors.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(func(s *stack) error {
				f, err := s.keysets.GetFactor(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return a.printer().PrintStateInfo(s.keysets.Drivers().GetDriver(f.Type), &f)
			})
		},
	}
}

func (a *app) typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types [user]",
		Short: "List the factor types that can be added",
		Long: `List the factor types that can be added with the configured hardware.
With a user, the types already configured for that user are taken into
account.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(func(s *stack) error {
				ctx := cmd.Context()
				var configured []authfactor.Type
				if len(args) == 1 {
					factors, err := s.keysets.ListFactors(ctx, args[0])
					if err != nil {
						return err
					}
					for _, f := range factors {
						configured = append(configured, f.Type)
					}
				}
				types := s.keysets.Drivers().SupportedTypes(ctx, s.keysets.StorageTypes(), configured)
				return a.printer().PrintTypes(types)
			})
		},
	}
}
