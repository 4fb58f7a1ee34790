// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/utils/clock"

	"github.com/gridwatch/efusectl/internal/device"
)

// ErrInvalidRail reports a rail index outside the configured set. Checked
// before any register access.
var ErrInvalidRail = errors.New("rail index out of range")

// Device is the register-level surface the monitor drives.
type Device interface {
	SelectPage(page byte) error
	ReadWord(reg byte) (uint16, error)
}

// PowerMonitor collects per-rail and system telemetry from a single eFuse.
// Each multi-register read sequence is a critical section: the device's page
// state is shared on the bus, and an interleaved page switch between the
// select and the subsequent reads corrupts the result silently. The monitor
// serializes its own transactions; it cannot defend against other processes
// on the bus.
type PowerMonitor struct {
	logger *slog.Logger
	dev    Device
	rails  []Rail
	clock  clock.PassiveClock

	mu sync.Mutex
}

// OptFn is a functional option for configuring a PowerMonitor.
type OptFn func(*PowerMonitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OptFn {
	return func(pm *PowerMonitor) {
		pm.logger = logger
	}
}

// WithClock sets the clock used to timestamp reports.
func WithClock(c clock.PassiveClock) OptFn {
	return func(pm *PowerMonitor) {
		pm.clock = c
	}
}

// NewPowerMonitor creates a monitor over dev for the configured rails. Rail
// order is preserved in every SystemReport.
func NewPowerMonitor(dev Device, rails []Rail, opts ...OptFn) *PowerMonitor {
	pm := &PowerMonitor{
		logger: slog.Default(),
		dev:    dev,
		rails:  rails,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(pm)
	}
	pm.logger = pm.logger.With("service", "monitor")
	return pm
}

// Rails returns the configured rails in order.
func (pm *PowerMonitor) Rails() []Rail {
	out := make([]Rail, len(pm.rails))
	copy(out, pm.rails)
	return out
}

// Rail returns the configured rail at index, failing fast on an index outside
// the configured set.
func (pm *PowerMonitor) Rail(index int) (Rail, error) {
	if index < 0 || index >= len(pm.rails) {
		return Rail{}, fmt.Errorf("rail %d of %d: %w", index, len(pm.rails), ErrInvalidRail)
	}
	return pm.rails[index], nil
}

// ReadInputPower reads the global input-power register once and converts it.
// READ_PIN is not page-scoped, so no page select precedes it.
func (pm *PowerMonitor) ReadInputPower() (uint16, device.Watts, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.readInputPower()
}

func (pm *PowerMonitor) readInputPower() (uint16, device.Watts, error) {
	raw, err := pm.dev.ReadWord(device.RegReadPin)
	if err != nil {
		return 0, 0, fmt.Errorf("read input power: %w", err)
	}
	return raw, device.Power(raw), nil
}

// ReadRail reads one rail's full telemetry snapshot.
func (pm *PowerMonitor) ReadRail(index int) (*RailReport, error) {
	rail, err := pm.Rail(index)
	if err != nil {
		return nil, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.readRail(rail)
}

// readRail selects the rail's page and reads telemetry and status registers.
// Caller holds pm.mu.
func (pm *PowerMonitor) readRail(rail Rail) (*RailReport, error) {
	if err := pm.dev.SelectPage(rail.Page); err != nil {
		return nil, err
	}

	var rawVin, rawVout, rawIout, rawPout uint16
	var statusWord, statusIout, statusInput, statusTemp uint16

	for _, rd := range []struct {
		reg  byte
		dest *uint16
	}{
		{device.RegReadVin, &rawVin},
		{device.RegReadVout, &rawVout},
		{device.RegReadIout, &rawIout},
		{device.RegReadPout, &rawPout},
		{device.RegStatusWord, &statusWord},
		{device.RegStatusIout, &statusIout},
		{device.RegStatusInput, &statusInput},
		{device.RegStatusTemp, &statusTemp},
	} {
		value, err := pm.dev.ReadWord(rd.reg)
		if err != nil {
			return nil, fmt.Errorf("rail %q reg 0x%02X: %w", rail.Name, rd.reg, err)
		}
		*rd.dest = value
	}

	vout := device.Voltage(rawVout)
	pout := device.Power(rawPout)

	return &RailReport{
		Rail:    rail,
		RawVin:  rawVin,
		RawVout: rawVout,
		RawIout: rawIout,
		RawPout: rawPout,
		Vin:     device.Voltage(rawVin),
		Vout:    vout,
		Iout:    device.Current(pout, vout),
		Pout:    pout,
		Faults:  device.DecodeFaults(statusWord, statusIout, statusInput, statusTemp),
	}, nil
}

// ReadSystem reads global input power once, then every configured rail in
// order, and computes the power summary. The report is all-or-nothing: any
// failure discards rails already read. Nothing is cached; every invocation
// re-queries the device.
func (pm *PowerMonitor) ReadSystem() (*SystemReport, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	rawPin, pin, err := pm.readInputPower()
	if err != nil {
		return nil, err
	}

	report := &SystemReport{
		Timestamp: pm.clock.Now(),
		RawPin:    rawPin,
		Pin:       pin,
		Rails:     make([]RailReport, 0, len(pm.rails)),
	}

	var totalOut device.Watts
	for _, rail := range pm.rails {
		rr, err := pm.readRail(rail)
		if err != nil {
			return nil, err
		}
		totalOut += rr.Pout
		report.Rails = append(report.Rails, *rr)
	}

	report.TotalOut = totalOut
	report.Loss = pin - totalOut
	if pin > 0 {
		report.Efficiency = float64(totalOut) / float64(pin) * 100
	}

	pm.logger.Debug("Read system telemetry",
		"pin", pin,
		"total-out", totalOut,
		"efficiency", report.Efficiency,
	)
	return report, nil
}
