// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

// USB-ISS protocol bytes. The adapter is a serial-to-I2C bridge; every
// transaction is a framed request on the serial port followed by a fixed-size
// response.
const (
	issCmd     = 0x5A // internal adapter commands (set mode, version, ...)
	issSetMode = 0x02
	issAckOK   = 0xFF

	// I2C_AD1: I2C transaction against a device with a one-byte internal
	// register address. Frame: [0x55, addr8, reg, count, data...].
	issI2CAD1 = 0x55
)

// i2cModes maps a bus speed in kHz to the USB-ISS operating-mode byte.
// 100 kHz and above use the adapter's hardware I2C engine.
var i2cModes = map[int]byte{
	20:   0x20,
	50:   0x30,
	100:  0x60,
	400:  0x70,
	1000: 0x80,
}

// USBISSConfig holds the serial link settings for the bridge.
type USBISSConfig struct {
	// Port is the serial device of the adapter, e.g. /dev/ttyACM0.
	Port string
	// BusSpeedKHz selects the I2C clock: 20, 50, 100, 400 or 1000.
	BusSpeedKHz int
}

// USBISS drives a USB-ISS serial-to-I2C bridge adapter.
type USBISS struct {
	logger *slog.Logger
	port   io.ReadWriteCloser

	// The serial link carries one transaction at a time; interleaved frames
	// corrupt the protocol.
	mu sync.Mutex
}

var _ Transport = (*USBISS)(nil)

// USBISSOptFn is a functional option for configuring the bridge.
type USBISSOptFn func(*USBISS)

// WithUSBISSLogger sets the logger.
func WithUSBISSLogger(logger *slog.Logger) USBISSOptFn {
	return func(b *USBISS) {
		b.logger = logger
	}
}

// OpenUSBISS opens the serial port and switches the adapter into I2C mode at
// the configured bus speed.
func OpenUSBISS(cfg USBISSConfig, opts ...USBISSOptFn) (*USBISS, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("usb-iss: serial port required")
	}

	mode, ok := i2cModes[cfg.BusSpeedKHz]
	if !ok {
		return nil, fmt.Errorf("usb-iss: unsupported bus speed %d kHz", cfg.BusSpeedKHz)
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Port,
		BaudRate: 115200,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("usb-iss: open %s: %w", cfg.Port, err)
	}

	bridge := newUSBISS(port, opts...)
	if err := bridge.setI2CMode(mode); err != nil {
		_ = port.Close()
		return nil, err
	}

	bridge.logger.Info("Opened USB-ISS bridge", "port", cfg.Port, "speed-khz", cfg.BusSpeedKHz)
	return bridge, nil
}

// newUSBISS wraps an already-open serial link. Split out so tests can inject
// an in-memory port.
func newUSBISS(port io.ReadWriteCloser, opts ...USBISSOptFn) *USBISS {
	bridge := &USBISS{
		logger: slog.Default(),
		port:   port,
	}
	for _, opt := range opts {
		opt(bridge)
	}
	bridge.logger = bridge.logger.With("transport", "usb-iss")
	return bridge
}

// setI2CMode issues the set-mode frame and checks the two-byte acknowledgement.
func (b *USBISS) setI2CMode(mode byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The trailing byte configures the adapter's spare IO pins; 0x04 leaves
	// them as digital inputs.
	if _, err := b.port.Write([]byte{issCmd, issSetMode, mode, 0x04}); err != nil {
		return fmt.Errorf("usb-iss: set mode: %w", err)
	}

	var ack [2]byte
	if _, err := io.ReadFull(b.port, ack[:]); err != nil {
		return fmt.Errorf("usb-iss: set mode response: %w", err)
	}
	if ack[0] != issAckOK {
		return fmt.Errorf("usb-iss: set mode rejected, error code 0x%02X", ack[1])
	}
	return nil
}

// ReadBytes reads n bytes from the register of the device at devAddr.
func (b *USBISS) ReadBytes(devAddr, reg byte, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame := []byte{issI2CAD1, devAddr<<1 | 1, reg, byte(n)}
	if _, err := b.port.Write(frame); err != nil {
		return nil, fmt.Errorf("usb-iss: read request reg 0x%02X: %w", reg, err)
	}

	buf := make([]byte, n)
	rd, err := io.ReadFull(b.port, buf)
	if err != nil {
		return buf[:rd], fmt.Errorf("usb-iss: read %d bytes reg 0x%02X: %w", n, reg, err)
	}
	return buf, nil
}

// WriteBytes writes data to the register of the device at devAddr. An empty
// data slice is a command-only write.
func (b *USBISS) WriteBytes(devAddr, reg byte, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame := make([]byte, 0, 4+len(data))
	frame = append(frame, issI2CAD1, devAddr<<1, reg, byte(len(data)))
	frame = append(frame, data...)
	if _, err := b.port.Write(frame); err != nil {
		return fmt.Errorf("usb-iss: write request reg 0x%02X: %w", reg, err)
	}

	var ack [1]byte
	if _, err := io.ReadFull(b.port, ack[:]); err != nil {
		return fmt.Errorf("usb-iss: write response reg 0x%02X: %w", reg, err)
	}
	if ack[0] == 0 {
		return fmt.Errorf("usb-iss: device 0x%02X nacked write to reg 0x%02X", devAddr, reg)
	}
	return nil
}

// Close closes the serial port.
func (b *USBISS) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.Close()
}
