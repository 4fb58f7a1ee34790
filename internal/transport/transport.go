// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// Transport performs addressed byte-level register reads and writes against a
// device on the bus. Implementations own the physical link; callers own
// command sequencing and settle timing.
type Transport interface {
	// ReadBytes reads n bytes from the register of the device at devAddr.
	// Implementations may return fewer bytes than requested together with an
	// error; they never zero-fill.
	ReadBytes(devAddr, reg byte, n int) ([]byte, error)

	// WriteBytes writes data to the register of the device at devAddr.
	// An empty data slice denotes a command-only write (no data phase).
	WriteBytes(devAddr, reg byte, data []byte) error

	// Close releases the underlying link.
	Close() error
}
