// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "fmt"

// Volts is a voltage in volts.
type Volts float64

// Watts is a power in watts.
type Watts float64

// Amps is a current in amperes.
type Amps float64

func (v Volts) String() string {
	return fmt.Sprintf("%.2f V", float64(v))
}

func (w Watts) String() string {
	return fmt.Sprintf("%.2f W", float64(w))
}

func (a Amps) String() string {
	return fmt.Sprintf("%.3f A", float64(a))
}

// LSB scale factors from the MP5922 datasheet.
const (
	voltageScale = 0.015625 // volts per LSB for READ_VIN / READ_VOUT
	powerScale   = 0.125    // watts per LSB for READ_POUT / READ_PIN
)

// Voltage converts a raw voltage register value to volts.
func Voltage(raw uint16) Volts {
	return Volts(float64(raw) * voltageScale)
}

// Power converts a raw power register value to watts.
func Power(raw uint16) Watts {
	return Watts(float64(raw) * powerScale)
}

// Current derives amperes from already-converted power and voltage. Rail
// current is always derived this way so it stays self-consistent with the
// reported power; the raw READ_IOUT register is for diagnostic display only.
// Returns 0 when voltage is not positive.
func Current(power Watts, voltage Volts) Amps {
	if voltage <= 0 {
		return 0
	}
	return Amps(float64(power) / float64(voltage))
}
