// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

// FirmwareVersion is the device's reported version tuple.
type FirmwareVersion struct {
	Major, Minor, Build, Point uint16
}

// Config is the immutable authenticator configuration assembled at
// startup and reported verbatim by GetInfo (§3, §6).
type Config struct {
	// AAGUID is the 16-byte authenticator attestation GUID.
	AAGUID [16]byte

	Firmware FirmwareVersion

	// Transports advertised in GetInfo, e.g. {"usb"}.
	Transports []string

	// SupportedAlgorithms restricts this device instance to a subset of
	// the registry's globally-registered algorithms, in preference order;
	// an empty slice means "every algorithm the registry has".
	SupportedAlgorithms []int64

	// DefaultToRK forces resident-key storage for MakeCredential even when
	// the platform didn't request rk=true (see SUPPLEMENTED FEATURES).
	DefaultToRK bool

	// PresenceTimeout bounds how long the user-presence prompt may block
	// before UserPresence escalates to user_action_timeout.
	PresenceTimeout int64 // milliseconds; 0 or less means 30 seconds
}

// DefaultConfig returns a Config with a generated-looking AAGUID, USB
// transport only, and DefaultToRK left false (matches CTAP2's own default
// behavior: rk is opt-in unless the platform or device configuration says
// otherwise).
func DefaultConfig() Config {
	return Config{
		AAGUID:     [16]byte{0x53, 0x69, 0x6c, 0x69, 0x63, 0x6f, 0x6e, 0x4b, 0x65, 0x79, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		Firmware:   FirmwareVersion{Major: 1, Minor: 0, Build: 0, Point: 0},
		Transports: []string{"usb"},
	}
}

// algorithmAllowed reports whether alg is usable by this device instance:
// present in SupportedAlgorithms, or SupportedAlgorithms is empty.
func (c Config) algorithmAllowed(alg int64) bool {
	if len(c.SupportedAlgorithms) == 0 {
		return true
	}
	for _, a := range c.SupportedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}
