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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-authblock/pkg/health"
)

func (a *app) healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the sealing frontend, PinWeaver and storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return a.withStack(func(s *stack) error {
				checker := health.NewChecker()
				checker.SetTimeout(timeout)
				checker.RegisterCheck("hwsec", health.HwsecCheck(s.hw))
				checker.RegisterCheck("pinweaver", health.PinWeaverCheck(s.pw))
				checker.RegisterCheck("storage", health.StorageCheck(s.backend))

				results := checker.Run(cmd.Context())
				overall := health.AggregateStatus(results)
				if err := a.printer().PrintHealth(overall, results); err != nil {
					return err
				}
				if overall == health.StatusUnhealthy {
					return fmt.Errorf("health check failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().Duration("timeout", health.DefaultTimeout, "deadline of each check")
	return cmd
}

// PrintHealth prints the results of a health run
func (p *Printer) PrintHealth(overall health.Status, results []health.CheckResult) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Status: %s\n", overall)
		fmt.Fprintf(p.writer, "%-12s %-10s %-10s %s\n", "CHECK", "STATUS", "LATENCY", "DETAIL")
		fmt.Fprintln(p.writer, strings.Repeat("-", 60))
		for _, r := range results {
			detail := r.Message
			if r.Error != "" {
				detail = r.Error
			}
			fmt.Fprintf(p.writer, "%-12s %-10s %-10s %s\n", r.Name, r.Status, r.Latency.Round(time.Microsecond), detail)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}
