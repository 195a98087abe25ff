// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"crypto/sha256"
	"time"
)

// sha256Sum returns SHA-256(rpID), used as the rpIdHash field of
// authenticatorData (§4.F).
func sha256Sum(rpID string) [32]byte {
	return sha256.Sum256([]byte(rpID))
}

// unixTime converts a stored unix-seconds timestamp back into a time.Time.
func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}
