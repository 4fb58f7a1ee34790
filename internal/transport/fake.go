// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"
	"sync"
)

// Call is one recorded transaction against the fake bridge.
type Call struct {
	Write bool
	Reg   byte
	Data  []byte // written bytes, nil for reads
	N     int    // requested byte count, 0 for writes
}

// FakeBridge simulates a paged PMBus eFuse behind the Transport interface.
// It keeps a per-page register file, honors the page-select register and the
// latched status words, and records every transaction so tests can assert
// exact command sequences. It also backs the dev fake-bridge mode for running
// the CLI without hardware.
type FakeBridge struct {
	logger *slog.Logger
	addr   byte

	mu       sync.Mutex
	page     byte
	paged    map[byte]map[byte]uint16 // page -> reg -> value
	global   map[byte]uint16          // non-page-scoped registers
	enabled  map[byte]bool            // page -> operation on/off
	unlocked bool
	calls    []Call

	readErr map[byte]error // reg -> injected read failure
}

var _ Transport = (*FakeBridge)(nil)

// Registers the fake interprets specially. Kept local so the fake stays
// usable without importing the device package.
const (
	fakeRegPage        byte = 0x00
	fakeRegOperation   byte = 0x01
	fakeRegClearFaults byte = 0x03
	fakeRegPassword    byte = 0xE1
)

var fakeStatusRegs = []byte{0x79, 0x7B, 0x7C, 0x7D}

// FakeBridgeOptFn is a functional option for configuring the fake bridge.
type FakeBridgeOptFn func(*FakeBridge)

// WithFakeBridgeLogger sets the logger.
func WithFakeBridgeLogger(logger *slog.Logger) FakeBridgeOptFn {
	return func(f *FakeBridge) {
		f.logger = logger
	}
}

// NewFakeBridge creates a fake bridge for the device at addr, seeded with
// plausible idle telemetry: 12 V in, 1 V out, 1 W per rail, 5 W input.
func NewFakeBridge(addr byte, opts ...FakeBridgeOptFn) *FakeBridge {
	f := &FakeBridge{
		logger:  slog.Default(),
		addr:    addr,
		paged:   make(map[byte]map[byte]uint16),
		global:  map[byte]uint16{0x97: 40}, // READ_PIN: 40 * 0.125 = 5 W
		enabled: make(map[byte]bool),
		readErr: make(map[byte]error),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("transport", "fake-bridge")

	for page := byte(0); page < 3; page++ {
		f.SetWord(page, 0x88, 768) // VIN: 768 * 0.015625 = 12 V
		f.SetWord(page, 0x8B, 64)  // VOUT: 64 * 0.015625 = 1 V
		f.SetWord(page, 0x8C, 100) // raw IOUT, diagnostic only
		f.SetWord(page, 0x96, 8)   // POUT: 8 * 0.125 = 1 W
	}
	return f
}

// SetWord seeds a page-scoped register value.
func (f *FakeBridge) SetWord(page, reg byte, value uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	regs, ok := f.paged[page]
	if !ok {
		regs = make(map[byte]uint16)
		f.paged[page] = regs
	}
	regs[reg] = value
}

// SetGlobalWord seeds a non-page-scoped register value.
func (f *FakeBridge) SetGlobalWord(reg byte, value uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global[reg] = value
}

// FailReads makes every read of reg return err until cleared with nil.
func (f *FakeBridge) FailReads(reg byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.readErr, reg)
		return
	}
	f.readErr[reg] = err
}

// Calls returns a copy of the recorded transaction log.
func (f *FakeBridge) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// ResetCalls clears the transaction log.
func (f *FakeBridge) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Page returns the currently selected page.
func (f *FakeBridge) Page() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page
}

// Enabled reports whether the rail on page is switched on.
func (f *FakeBridge) Enabled(page byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled[page]
}

// Unlocked reports whether the password register has been written.
func (f *FakeBridge) Unlocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocked
}

// ReadBytes serves a register read from the simulated register file.
func (f *FakeBridge) ReadBytes(devAddr, reg byte, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Reg: reg, N: n})

	if devAddr != f.addr {
		return nil, fmt.Errorf("fake-bridge: no device at address 0x%02X", devAddr)
	}
	if err := f.readErr[reg]; err != nil {
		return nil, err
	}

	value, ok := f.global[reg]
	if !ok {
		value = f.paged[f.page][reg]
	}

	buf := make([]byte, n)
	if n > 0 {
		buf[0] = byte(value)
	}
	if n > 1 {
		buf[1] = byte(value >> 8)
	}
	return buf, nil
}

// WriteBytes applies a register write, interpreting the page, operation,
// clear-faults and password registers the way the device does.
func (f *FakeBridge) WriteBytes(devAddr, reg byte, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	recorded := make([]byte, len(data))
	copy(recorded, data)
	f.calls = append(f.calls, Call{Write: true, Reg: reg, Data: recorded})

	if devAddr != f.addr {
		return fmt.Errorf("fake-bridge: no device at address 0x%02X", devAddr)
	}

	switch reg {
	case fakeRegPage:
		if len(data) != 1 {
			return fmt.Errorf("fake-bridge: page select expects 1 byte, got %d", len(data))
		}
		f.page = data[0]

	case fakeRegOperation:
		if len(data) != 1 {
			return fmt.Errorf("fake-bridge: operation expects 1 byte, got %d", len(data))
		}
		f.enabled[f.page] = data[0] != 0

	case fakeRegClearFaults:
		// Latched status bits clear globally, on every page.
		for _, regs := range f.paged {
			for _, status := range fakeStatusRegs {
				delete(regs, status)
			}
		}

	case fakeRegPassword:
		f.unlocked = true

	default:
		var value uint16
		if len(data) > 0 {
			value = uint16(data[0])
		}
		if len(data) > 1 {
			value |= uint16(data[1]) << 8
		}
		regs, ok := f.paged[f.page]
		if !ok {
			regs = make(map[byte]uint16)
			f.paged[f.page] = regs
		}
		regs[reg] = value
	}
	return nil
}

// Close is a no-op for the fake bridge.
func (f *FakeBridge) Close() error {
	return nil
}
