// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"time"

	"github.com/gridwatch/efusectl/internal/device"
)

// Rail is one logical power output of the eFuse, bound to a device page.
// Rails are defined at configuration time and immutable for the process
// lifetime.
type Rail struct {
	Page byte
	Name string
}

// RailReport is an immutable snapshot of one rail's telemetry. Raw register
// values are kept alongside the converted quantities for diagnostic display.
type RailReport struct {
	Rail Rail

	RawVin  uint16
	RawVout uint16
	RawIout uint16 // diagnostic only; Iout below is derived from Pout/Vout
	RawPout uint16

	Vin  device.Volts
	Vout device.Volts
	Iout device.Amps
	Pout device.Watts

	// Faults is never empty; it holds device.NoFaults when clean.
	Faults []string
}

// SystemReport aggregates global input power and every rail's snapshot.
type SystemReport struct {
	Timestamp time.Time

	RawPin uint16
	Pin    device.Watts

	Rails []RailReport

	TotalOut device.Watts
	// Loss is Pin - TotalOut, preserved as-is (negative when input power
	// reads zero while rails report output).
	Loss device.Watts
	// Efficiency is TotalOut/Pin in percent, 0 when Pin is not positive.
	Efficiency float64
}
