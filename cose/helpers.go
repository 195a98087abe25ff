// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package cose

import (
	"crypto/sha256"
	"math/big"
)

func sha256Sum(msg []byte) [32]byte {
	return sha256.Sum256(msg)
}

func bigFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}
