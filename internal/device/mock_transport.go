// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"github.com/stretchr/testify/mock"
)

// mockTransport is a mock implementation of transport.Transport for
// exercising error propagation and framing without a bus.
type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) ReadBytes(devAddr, reg byte, n int) ([]byte, error) {
	calledArgs := m.Called(devAddr, reg, n)
	data, _ := calledArgs.Get(0).([]byte)
	return data, calledArgs.Error(1)
}

func (m *mockTransport) WriteBytes(devAddr, reg byte, data []byte) error {
	calledArgs := m.Called(devAddr, reg, data)
	return calledArgs.Error(0)
}

func (m *mockTransport) Close() error {
	calledArgs := m.Called()
	return calledArgs.Error(0)
}
