// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/gridwatch/efusectl/internal/monitor"
)

// Stdout renders system reports as human-readable text with raw register
// values alongside the converted quantities.
type Stdout struct {
	out io.Writer
}

// NewStdout creates a stdout exporter writing to w.
func NewStdout(w io.Writer) *Stdout {
	return &Stdout{out: w}
}

// Export writes one report.
func (s *Stdout) Export(report *monitor.SystemReport) error {
	fmt.Fprintf(s.out, "\nINPUT (GLOBAL)\n")
	fmt.Fprintf(s.out, "  READ_PIN : raw=0x%04X (%d) -> %s\n\n", report.RawPin, report.RawPin, report.Pin)

	table := tablewriter.NewWriter(s.out)
	table.Header("RAIL", "VIN", "VOUT", "IOUT", "IOUT RAW", "POUT", "FAULTS")
	for _, rail := range report.Rails {
		if err := table.Append([]string{
			rail.Rail.Name,
			rail.Vin.String(),
			rail.Vout.String(),
			rail.Iout.String(),
			fmt.Sprintf("0x%04X", rail.RawIout),
			rail.Pout.String(),
			strings.Join(rail.Faults, ", "),
		}); err != nil {
			return fmt.Errorf("stdout exporter: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("stdout exporter: %w", err)
	}

	fmt.Fprintf(s.out, "\nPOWER SUMMARY\n")
	fmt.Fprintf(s.out, "  TOTAL OUT : %s\n", report.TotalOut)
	fmt.Fprintf(s.out, "  INPUT     : %s\n", report.Pin)
	fmt.Fprintf(s.out, "  LOSS      : %s\n", report.Loss)
	fmt.Fprintf(s.out, "  EFFICIENCY: %.2f %%\n\n", report.Efficiency)
	return nil
}
