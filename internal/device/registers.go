// SPDX-FileCopyrightText: 2026 The Efusectl Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "time"

// PMBus command codes of the MP5922 eFuse consumed by this tool.
const (
	RegPage        byte = 0x00
	RegOperation   byte = 0x01
	RegClearFaults byte = 0x03 // command-only
	RegStatusWord  byte = 0x79
	RegStatusIout  byte = 0x7B
	RegStatusInput byte = 0x7C
	RegStatusTemp  byte = 0x7D
	RegReadVin     byte = 0x88
	RegReadVout    byte = 0x8B
	RegReadIout    byte = 0x8C // diagnostic only, never fed into Current
	RegReadPout    byte = 0x96 // page-scoped
	RegReadPin     byte = 0x97 // global, not page-scoped
	RegPassword    byte = 0xE1
)

// OPERATION register payloads.
const (
	operationOn  byte = 0x80
	operationOff byte = 0x00
)

// unlockPassword is the fixed PMBus password that arms write-protected
// commands for the session.
const unlockPassword uint16 = 0x82C2

// Settle delays are minimum wait times the device requires before the next
// register access is guaranteed valid. They are datasheet timing, not
// implementation artifacts.
const (
	// pageSettleDelay follows every page switch; registers read earlier may
	// still belong to the previous page.
	pageSettleDelay = 10 * time.Millisecond
	// clearSettleDelay follows CLEAR_FAULTS while the device resets its
	// latched status bits.
	clearSettleDelay = 10 * time.Millisecond
	// unlockSettleDelay follows the password write while the device arms
	// write-protected commands.
	unlockSettleDelay = 20 * time.Millisecond
)
