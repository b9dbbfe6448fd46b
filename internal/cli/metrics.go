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
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jeremyhahn/go-authblock/pkg/metrics"
)

// printMetrics writes the non-zero module metrics of this process to w.
func printMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	prefix := metrics.Namespace + "_"
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			value, ok := sampleValue(m)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s%s %v\n", mf.GetName(), labelString(m.GetLabel()), value)
		}
	}
	return nil
}

func sampleValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), m.GetCounter().GetValue() != 0
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), m.GetGauge().GetValue() != 0
	case m.GetHistogram() != nil:
		n := m.GetHistogram().GetSampleCount()
		return float64(n), n != 0
	default:
		return 0, false
	}
}

func labelString(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
