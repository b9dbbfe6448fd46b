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
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/jeremyhahn/go-authblock/pkg/authblock"
	"github.com/jeremyhahn/go-authblock/pkg/authfactor"
	"github.com/jeremyhahn/go-authblock/pkg/status"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message. Errors from the credential stack
// also carry their kind and recommended actions.
func (p *Printer) PrintError(err error) error {
	var se *status.Error
	isStatus := errors.As(err, &se)

	switch p.format {
	case OutputFormatJSON:
		out := map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
		if isStatus {
			out["kind"] = status.KindOf(err).String()
			out["actions"] = lo.Map(status.Actions(err).Actions(), func(a status.Action, _ int) string {
				return a.String()
			})
			out["message"] = status.UserMessage(err)
		}
		return p.printJSON(out)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		if isStatus {
			fmt.Fprintf(p.writer, "  Kind:    %s\n", status.KindOf(err))
			fmt.Fprintf(p.writer, "  Actions: %s\n", status.Actions(err))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

type factorView struct {
	Label         string `json:"label"`
	Type          string `json:"type"`
	BlockType     string `json:"block_type"`
	LockoutPolicy string `json:"lockout_policy"`
}

func viewOf(f authfactor.Factor) factorView {
	v := factorView{
		Label:         f.Label,
		Type:          f.Type.String(),
		BlockType:     "none",
		LockoutPolicy: f.Metadata.Common.LockoutPolicy.String(),
	}
	if f.State != nil {
		v.BlockType = f.State.Type.String()
	}
	return v
}

// PrintFactors prints the factors of a user
func (p *Printer) PrintFactors(factors []authfactor.Factor) error {
	views := lo.Map(factors, func(f authfactor.Factor, _ int) factorView { return viewOf(f) })
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"factors": views,
		})
	case OutputFormatTable:
		if len(views) == 0 {
			fmt.Fprintln(p.writer, "No factors found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-24s %-20s %-28s %-16s\n", "LABEL", "TYPE", "BLOCK", "LOCKOUT")
		fmt.Fprintln(p.writer, strings.Repeat("-", 91))
		for _, v := range views {
			fmt.Fprintf(p.writer, "%-24s %-20s %-28s %-16s\n", v.Label, v.Type, v.BlockType, v.LockoutPolicy)
		}
		return nil
	case OutputFormatText:
		if len(views) == 0 {
			fmt.Fprintln(p.writer, "No factors found")
			return nil
		}
		fmt.Fprintln(p.writer, "Factors:")
		for _, v := range views {
			fmt.Fprintf(p.writer, "  - %s (%s, %s)\n", v.Label, v.Type, v.BlockType)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintDelay prints the lockout delay of a factor
func (p *Printer) PrintDelay(label string, delay time.Duration) error {
	locked := delay == authfactor.InfiniteDelay
	switch p.format {
	case OutputFormatJSON:
		out := map[string]interface{}{
			"label":  label,
			"locked": locked,
		}
		if !locked {
			out["delay_seconds"] = int64(delay / time.Second)
		}
		return p.printJSON(out)
	case OutputFormatTable, OutputFormatText:
		switch {
		case locked:
			fmt.Fprintf(p.writer, "%s: locked until reset\n", label)
		case delay == 0:
			fmt.Fprintf(p.writer, "%s: available\n", label)
		default:
			fmt.Fprintf(p.writer, "%s: available in %s\n", label, delay.Round(time.Second))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// stateFields lists the public fields of a block state. Wrapped keys and
// IVs are left out.
func stateFields(s *authblock.State) [][2]string {
	if s == nil {
		return nil
	}
	hexOf := func(b []byte) string {
		if len(b) == 0 {
			return "-"
		}
		return hex.EncodeToString(b)
	}
	switch v := s.Variant.(type) {
	case *authblock.PinWeaverState:
		return [][2]string{
			{"le_label", fmt.Sprint(v.LELabel)},
			{"reset_salt", fmt.Sprint(len(v.ResetSalt) > 0)},
		}
	case *authblock.FingerprintState:
		return [][2]string{
			{"template_id", v.TemplateID},
			{"gsc_secret_label", fmt.Sprint(v.GSCSecretLabel)},
		}
	case *authblock.TpmBoundToPcrState:
		return [][2]string{
			{"scrypt_derived", fmt.Sprint(v.ScryptDerived)},
			{"tpm_public_key_hash", hexOf(v.TpmPublicKeyHash)},
		}
	case *authblock.TpmNotBoundToPcrState:
		return [][2]string{
			{"scrypt_derived", fmt.Sprint(v.ScryptDerived)},
			{"tpm_public_key_hash", hexOf(v.TpmPublicKeyHash)},
		}
	case *authblock.TpmEccState:
		return [][2]string{
			{"auth_value_rounds", fmt.Sprint(v.AuthValueRounds)},
			{"tpm_public_key_hash", hexOf(v.TpmPublicKeyHash)},
		}
	case *authblock.ScryptState:
		return [][2]string{
			{"scrypt_params", fmt.Sprintf("N=%d r=%d p=%d", v.N, v.R, v.P)},
		}
	case *authblock.ChallengeCredentialState:
		return [][2]string{
			{"algorithm", v.Algorithm.String()},
			{"scrypt_params", fmt.Sprintf("N=%d r=%d p=%d", v.Scrypt.N, v.Scrypt.R, v.Scrypt.P)},
		}
	case *authblock.DoubleWrappedCompatState:
		return [][2]string{
			{"scrypt_params", fmt.Sprintf("N=%d r=%d p=%d", v.Scrypt.N, v.Scrypt.R, v.Scrypt.P)},
			{"tpm_public_key_hash", hexOf(v.Tpm.TpmPublicKeyHash)},
		}
	case *authblock.CryptohomeRecoveryState:
		return [][2]string{
			{"channel_public_key", hexOf(v.ChannelPubKey)},
		}
	default:
		return nil
	}
}

// PrintStateInfo prints the public part of a factor's block state
func (p *Printer) PrintStateInfo(d authfactor.Driver, f *authfactor.Factor) error {
	view := viewOf(*f)
	fields := stateFields(f.State)
	switch p.format {
	case OutputFormatJSON:
		state := make(map[string]string, len(fields))
		for _, kv := range fields {
			state[kv[0]] = kv[1]
		}
		return p.printJSON(map[string]interface{}{
			"factor":             view,
			"state":              state,
			"needs_reset_secret": d.NeedsResetSecret(),
			"needs_rate_limiter": d.NeedsRateLimiter(),
			"delay_supported":    d.IsDelaySupported(),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Factor %s:\n", view.Label)
		fmt.Fprintf(p.writer, "  Type:    %s\n", view.Type)
		fmt.Fprintf(p.writer, "  Block:   %s\n", view.BlockType)
		fmt.Fprintf(p.writer, "  Lockout: %s\n", view.LockoutPolicy)
		for _, kv := range fields {
			fmt.Fprintf(p.writer, "  %s: %s\n", kv[0], kv[1])
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintTypes prints the factor types that can be added
func (p *Printer) PrintTypes(types []authfactor.Type) error {
	names := lo.Map(types, func(t authfactor.Type, _ int) string { return t.String() })
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"types": names,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, "Supported factor types:")
		for _, n := range names {
			fmt.Fprintf(p.writer, "  - %s\n", n)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as indented JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
