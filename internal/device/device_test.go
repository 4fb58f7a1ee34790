// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/gridwatch/efusectl/internal/transport"
)

const testAddr byte = 0x70

func newTestDevice(t *testing.T) (*Device, *transport.FakeBridge, *clocktesting.FakeClock) {
	t.Helper()
	bridge := transport.NewFakeBridge(testAddr)
	clk := clocktesting.NewFakeClock(time.Now())
	dev := New(bridge, testAddr, WithClock(clk))
	bridge.ResetCalls()
	return dev, bridge, clk
}

func TestReadWordLittleEndian(t *testing.T) {
	mockTr := new(mockTransport)
	mockTr.On("ReadBytes", testAddr, RegReadVout, 2).Return([]byte{0x34, 0x12}, nil)

	dev := New(mockTr, testAddr)
	value, err := dev.ReadWord(RegReadVout)

	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), value)
	mockTr.AssertExpectations(t)
}

func TestReadWordShortResponse(t *testing.T) {
	mockTr := new(mockTransport)
	mockTr.On("ReadBytes", testAddr, RegReadVin, 2).Return([]byte{0x01}, nil)

	dev := New(mockTr, testAddr)
	_, err := dev.ReadWord(RegReadVin)

	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReadWordTransportErrorPropagates(t *testing.T) {
	transportErr := errors.New("bus stuck")
	mockTr := new(mockTransport)
	mockTr.On("ReadBytes", testAddr, RegStatusWord, 2).Return([]byte(nil), transportErr)

	dev := New(mockTr, testAddr)
	_, err := dev.ReadWord(RegStatusWord)

	assert.ErrorIs(t, err, transportErr)
}

func TestWriteWordLittleEndian(t *testing.T) {
	mockTr := new(mockTransport)
	mockTr.On("WriteBytes", testAddr, RegPassword, []byte{0xC2, 0x82}).Return(nil)

	dev := New(mockTr, testAddr)
	require.NoError(t, dev.WriteWord(RegPassword, 0x82C2))
	mockTr.AssertExpectations(t)
}

func TestWriteCommandCarriesNoData(t *testing.T) {
	mockTr := new(mockTransport)
	mockTr.On("WriteBytes", testAddr, RegClearFaults, []byte(nil)).Return(nil)

	dev := New(mockTr, testAddr)
	require.NoError(t, dev.WriteCommand(RegClearFaults))
	mockTr.AssertExpectations(t)
}

func TestSelectPage(t *testing.T) {
	dev, bridge, clk := newTestDevice(t)
	start := clk.Now()

	require.NoError(t, dev.SelectPage(2))

	calls := bridge.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Write)
	assert.Equal(t, RegPage, calls[0].Reg)
	assert.Equal(t, []byte{2}, calls[0].Data)
	assert.Equal(t, byte(2), bridge.Page())

	// Page settle delay must elapse before the next register operation.
	assert.Equal(t, 10*time.Millisecond, clk.Now().Sub(start))
}

func TestUnlock(t *testing.T) {
	dev, bridge, clk := newTestDevice(t)
	start := clk.Now()

	require.NoError(t, dev.Unlock())

	calls := bridge.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, RegPassword, calls[0].Reg)
	assert.Equal(t, []byte{0xC2, 0x82}, calls[0].Data)
	assert.True(t, bridge.Unlocked())
	assert.Equal(t, 20*time.Millisecond, clk.Now().Sub(start))
}

func TestClearFaults(t *testing.T) {
	dev, bridge, clk := newTestDevice(t)
	bridge.SetWord(1, RegStatusWord, 0x8000)
	start := clk.Now()

	require.NoError(t, dev.ClearFaults())

	calls := bridge.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Write)
	assert.Equal(t, RegClearFaults, calls[0].Reg)
	assert.Empty(t, calls[0].Data)
	assert.Equal(t, 10*time.Millisecond, clk.Now().Sub(start))

	// Latched bits clear globally, even on pages not currently selected.
	require.NoError(t, dev.SelectPage(1))
	value, err := dev.ReadWord(RegStatusWord)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), value)
}

func TestRailEnableSelectsPageFirst(t *testing.T) {
	dev, bridge, _ := newTestDevice(t)

	require.NoError(t, dev.RailEnable(1))

	calls := bridge.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, RegPage, calls[0].Reg)
	assert.Equal(t, []byte{1}, calls[0].Data)
	assert.Equal(t, RegOperation, calls[1].Reg)
	assert.Equal(t, []byte{0x80}, calls[1].Data)
	assert.True(t, bridge.Enabled(1))
}

func TestRailDisable(t *testing.T) {
	dev, bridge, _ := newTestDevice(t)

	require.NoError(t, dev.RailEnable(0))
	require.NoError(t, dev.RailDisable(0))

	assert.False(t, bridge.Enabled(0))

	calls := bridge.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []byte{0x00}, calls[3].Data)
}

func TestControlWriteFailurePropagates(t *testing.T) {
	writeErr := errors.New("nack")
	mockTr := new(mockTransport)
	mockTr.On("WriteBytes", testAddr, RegPage, []byte{0}).Return(nil)
	mockTr.On("WriteBytes", testAddr, RegOperation, []byte{0x80}).Return(writeErr)

	clk := clocktesting.NewFakeClock(time.Now())
	dev := New(mockTr, testAddr, WithClock(clk))

	assert.ErrorIs(t, dev.RailEnable(0), writeErr)
}
