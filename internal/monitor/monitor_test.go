// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/gridwatch/efusectl/internal/device"
	"github.com/gridwatch/efusectl/internal/transport"
)

const testAddr byte = 0x70

var testRails = []Rail{
	{Page: 0, Name: "Main Rail (Loop 1)"},
	{Page: 1, Name: "Aux Rail (Loop 2)"},
	{Page: 2, Name: "Rail 3 (Loop 3)"},
}

func newTestMonitor(t *testing.T) (*PowerMonitor, *transport.FakeBridge) {
	t.Helper()

	bridge := transport.NewFakeBridge(testAddr)
	// Rail 0 keeps the seeded defaults: 12 V in, 1 V out, 1 W out.
	// Rail 1: 2 V out, 2 W out -> 1 A derived.
	bridge.SetWord(1, device.RegReadVout, 128)
	bridge.SetWord(1, device.RegReadPout, 16)
	// Rail 2: faulted.
	bridge.SetWord(2, device.RegStatusWord, 0x8000)
	bridge.SetWord(2, device.RegStatusTemp, 0x0001)

	clk := clocktesting.NewFakeClock(time.Now())
	dev := device.New(bridge, testAddr, device.WithClock(clk))
	pm := NewPowerMonitor(dev, testRails, WithClock(clk))

	bridge.ResetCalls()
	return pm, bridge
}

func TestReadInputPower(t *testing.T) {
	pm, bridge := newTestMonitor(t)

	raw, watts, err := pm.ReadInputPower()
	require.NoError(t, err)
	assert.Equal(t, uint16(40), raw)
	assert.Equal(t, device.Watts(5.0), watts)

	// READ_PIN is global: no page select precedes it.
	calls := bridge.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Write)
	assert.Equal(t, device.RegReadPin, calls[0].Reg)
}

func TestReadRail(t *testing.T) {
	pm, _ := newTestMonitor(t)

	report, err := pm.ReadRail(0)
	require.NoError(t, err)

	assert.Equal(t, testRails[0], report.Rail)
	assert.Equal(t, uint16(768), report.RawVin)
	assert.Equal(t, uint16(64), report.RawVout)
	assert.Equal(t, uint16(100), report.RawIout)
	assert.Equal(t, uint16(8), report.RawPout)
	assert.Equal(t, device.Volts(12.0), report.Vin)
	assert.Equal(t, device.Volts(1.0), report.Vout)
	assert.Equal(t, device.Watts(1.0), report.Pout)
	// Current is derived from converted power and voltage, not from the raw
	// IOUT register.
	assert.Equal(t, device.Amps(1.0), report.Iout)
	assert.Equal(t, []string{device.NoFaults}, report.Faults)
}

func TestReadRailDecodesFaults(t *testing.T) {
	pm, _ := newTestMonitor(t)

	report, err := pm.ReadRail(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"VOUT overvoltage", "temperature warning"}, report.Faults)
}

func TestReadRailInvalidIndex(t *testing.T) {
	pm, bridge := newTestMonitor(t)

	for _, index := range []int{-1, 3, 100} {
		_, err := pm.ReadRail(index)
		assert.ErrorIs(t, err, ErrInvalidRail)
	}

	// Fails fast: no register access happened.
	assert.Empty(t, bridge.Calls())
}

func TestReadSystem(t *testing.T) {
	pm, _ := newTestMonitor(t)

	report, err := pm.ReadSystem()
	require.NoError(t, err)

	require.Len(t, report.Rails, 3)
	assert.Equal(t, device.Watts(5.0), report.Pin)
	assert.Equal(t, device.Watts(4.0), report.TotalOut) // 1 + 2 + 1
	assert.Equal(t, device.Watts(1.0), report.Loss)
	assert.InDelta(t, 80.0, report.Efficiency, 1e-9)
	assert.False(t, report.Timestamp.IsZero())

	// Rails come back in configured order.
	for i, rail := range testRails {
		assert.Equal(t, rail, report.Rails[i].Rail)
	}
}

// TestReadSystemCallSequence pins the register access discipline: exactly one
// global input-power read, then per rail one page select immediately followed
// by the full telemetry and status read sequence.
func TestReadSystemCallSequence(t *testing.T) {
	pm, bridge := newTestMonitor(t)

	_, err := pm.ReadSystem()
	require.NoError(t, err)

	railRegs := []byte{
		device.RegReadVin,
		device.RegReadVout,
		device.RegReadIout,
		device.RegReadPout,
		device.RegStatusWord,
		device.RegStatusIout,
		device.RegStatusInput,
		device.RegStatusTemp,
	}

	calls := bridge.Calls()
	require.Len(t, calls, 1+len(testRails)*(1+len(railRegs)))

	assert.Equal(t, transport.Call{Reg: device.RegReadPin, N: 2}, calls[0])

	i := 1
	for _, rail := range testRails {
		assert.Equal(t, transport.Call{Write: true, Reg: device.RegPage, Data: []byte{rail.Page}}, calls[i])
		i++
		for _, reg := range railRegs {
			assert.Equal(t, transport.Call{Reg: reg, N: 2}, calls[i])
			i++
		}
	}
}

func TestReadSystemZeroInputPower(t *testing.T) {
	pm, bridge := newTestMonitor(t)
	bridge.SetGlobalWord(device.RegReadPin, 0)

	report, err := pm.ReadSystem()
	require.NoError(t, err)

	assert.Equal(t, device.Watts(0), report.Pin)
	assert.Equal(t, float64(0), report.Efficiency)
	// Loss stays negative, not clamped.
	assert.Equal(t, device.Watts(-4.0), report.Loss)
}

func TestReadSystemAllOrNothing(t *testing.T) {
	pm, bridge := newTestMonitor(t)
	readErr := errors.New("bus dropped")
	bridge.FailReads(device.RegReadPout, readErr)

	report, err := pm.ReadSystem()
	assert.ErrorIs(t, err, readErr)
	assert.Nil(t, report)
}

func TestReadSystemInputPowerFailure(t *testing.T) {
	pm, bridge := newTestMonitor(t)
	readErr := errors.New("bus dropped")
	bridge.FailReads(device.RegReadPin, readErr)

	report, err := pm.ReadSystem()
	assert.ErrorIs(t, err, readErr)
	assert.Nil(t, report)

	// The failure happened before any rail was touched.
	calls := bridge.Calls()
	require.Len(t, calls, 1)
}

func TestRailAccessors(t *testing.T) {
	pm, _ := newTestMonitor(t)

	rail, err := pm.Rail(1)
	require.NoError(t, err)
	assert.Equal(t, testRails[1], rail)

	_, err = pm.Rail(3)
	assert.ErrorIs(t, err, ErrInvalidRail)

	rails := pm.Rails()
	assert.Equal(t, testRails, rails)

	// Rails returns a copy; mutating it does not affect the monitor.
	rails[0].Name = "mutated"
	unchanged, err := pm.Rail(0)
	require.NoError(t, err)
	assert.Equal(t, testRails[0], unchanged)
}
