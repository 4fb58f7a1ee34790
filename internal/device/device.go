// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/gridwatch/efusectl/internal/transport"
)

// ErrShortRead reports a transport response carrying fewer bytes than the
// register read requested. Short responses are fatal for the operation and
// never zero-filled.
var ErrShortRead = errors.New("short register read")

// Device is a single PMBus eFuse at a fixed bus address. It owns no local
// state beyond the link: the currently selected page lives on the physical
// device and can be changed by other bus actors, so every page-scoped access
// re-selects the page immediately before use.
type Device struct {
	logger *slog.Logger
	tr     transport.Transport
	addr   byte
	clock  clock.Clock
}

// OptFn is a functional option for configuring a Device.
type OptFn func(*Device)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OptFn {
	return func(d *Device) {
		d.logger = logger
	}
}

// WithClock sets the clock used for settle delays. Tests inject a fake clock
// so delays do not wall-block.
func WithClock(c clock.Clock) OptFn {
	return func(d *Device) {
		d.clock = c
	}
}

// New creates a Device on tr at the given 7-bit bus address.
func New(tr transport.Transport, addr byte, opts ...OptFn) *Device {
	d := &Device{
		logger: slog.Default(),
		tr:     tr,
		addr:   addr,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("device", fmt.Sprintf("0x%02X", addr))
	return d
}

// Address returns the device's bus address.
func (d *Device) Address() byte {
	return d.addr
}

// ReadWord reads a 16-bit register, composed little-endian from two bytes.
func (d *Device) ReadWord(reg byte) (uint16, error) {
	data, err := d.tr.ReadBytes(d.addr, reg, 2)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("reg 0x%02X: got %d of 2 bytes: %w", reg, len(data), ErrShortRead)
	}
	return uint16(data[0]) | uint16(data[1])<<8, nil
}

// WriteWord writes a 16-bit register, split little-endian into two bytes.
func (d *Device) WriteWord(reg byte, value uint16) error {
	return d.tr.WriteBytes(d.addr, reg, []byte{byte(value), byte(value >> 8)})
}

// WriteByte writes an 8-bit register.
func (d *Device) WriteByte(reg byte, value byte) error {
	return d.tr.WriteBytes(d.addr, reg, []byte{value})
}

// WriteCommand issues a command-only write carrying no data bytes.
func (d *Device) WriteCommand(reg byte) error {
	return d.tr.WriteBytes(d.addr, reg, nil)
}

// SelectPage switches the device's active page and waits out the page settle
// delay. Callers must re-select before every page-scoped access; the page is
// shared mutable state on the device and does not survive across unrelated
// operations.
func (d *Device) SelectPage(page byte) error {
	if err := d.WriteByte(RegPage, page); err != nil {
		return fmt.Errorf("select page %d: %w", page, err)
	}
	d.clock.Sleep(pageSettleDelay)
	return nil
}

// Unlock writes the PMBus password and waits out the unlock settle delay.
// Required once per session before any write-protected command succeeds.
func (d *Device) Unlock() error {
	if err := d.WriteWord(RegPassword, unlockPassword); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	d.clock.Sleep(unlockSettleDelay)
	d.logger.Debug("Unlocked device")
	return nil
}

// ClearFaults clears all latched fault bits globally (not per-page) and waits
// out the clear settle delay.
func (d *Device) ClearFaults() error {
	if err := d.WriteCommand(RegClearFaults); err != nil {
		return fmt.Errorf("clear faults: %w", err)
	}
	d.clock.Sleep(clearSettleDelay)
	d.logger.Debug("Cleared faults")
	return nil
}

// RailEnable switches the rail on the given page on. Success is assumed if
// the write does not fail; no confirmation read-back is performed.
func (d *Device) RailEnable(page byte) error {
	return d.setOperation(page, operationOn)
}

// RailDisable switches the rail on the given page off.
func (d *Device) RailDisable(page byte) error {
	return d.setOperation(page, operationOff)
}

func (d *Device) setOperation(page, state byte) error {
	if err := d.SelectPage(page); err != nil {
		return err
	}
	if err := d.WriteByte(RegOperation, state); err != nil {
		return fmt.Errorf("set operation on page %d: %w", page, err)
	}
	d.logger.Debug("Set rail operation", "page", page, "on", state == operationOn)
	return nil
}
