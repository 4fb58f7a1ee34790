// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package device

// NoFaults is the sentinel fault name returned when no status bit is set.
// A decoded fault set is never empty.
const NoFaults = "no faults"

type faultBit struct {
	mask uint16
	name string
}

// Status bit tables. Decoding is data-driven so adding a bit is a one-line
// change; order here is the reporting order.
var (
	statusWordFaults = []faultBit{
		{1 << 15, "VOUT overvoltage"},
		{1 << 14, "IOUT overcurrent"},
		{1 << 13, "VIN undervoltage"},
		{1 << 12, "temperature fault"},
		{1 << 7, "device fault"},
		{1 << 6, "power-good deasserted"},
	}

	statusIoutFaults = []faultBit{
		{1 << 0, "IOUT overcurrent warning"},
		{1 << 1, "IOUT overcurrent fault"},
	}

	statusInputFaults = []faultBit{
		{1 << 0, "VIN undervoltage fault"},
		{1 << 1, "VIN overvoltage fault"},
	}

	statusTempFaults = []faultBit{
		{1 << 0, "temperature warning"},
		{1 << 1, "temperature fault (input-stage)"},
	}
)

// DecodeFaults maps the four raw status words to named fault conditions.
// Every bit is evaluated independently; if none is set the result is the
// single NoFaults sentinel.
func DecodeFaults(statusWord, statusIout, statusInput, statusTemp uint16) []string {
	var faults []string

	for _, src := range []struct {
		raw  uint16
		bits []faultBit
	}{
		{statusWord, statusWordFaults},
		{statusIout, statusIoutFaults},
		{statusInput, statusInputFaults},
		{statusTemp, statusTempFaults},
	} {
		for _, fb := range src.bits {
			if src.raw&fb.mask != 0 {
				faults = append(faults, fb.name)
			}
		}
	}

	if len(faults) == 0 {
		return []string{NoFaults}
	}
	return faults
}
