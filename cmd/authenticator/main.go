// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

// Command authenticator runs a software CTAP2 authenticator core as a
// local command-line simulator: it wires the ctap2 package's components
// together behind a bbolt-backed store and drives them directly, without a
// real USB HID or BLE transport.
package main

func main() {
	Execute()
}
