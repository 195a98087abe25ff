// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

// Package storage implements the authenticator's persistent key-value
// state: resident credentials indexed by relying party, the PIN hash and
// retry counter, and the wrapping key.
package storage

import "errors"

// KeyIDLength is the length in bytes of a storage-key credentialId. Any
// credentialId longer than this is, by construction, a wrapped
// (non-resident) credential rather than a storage key — see the threshold
// rule in spec §3/§4.B.
const KeyIDLength = 16

// ErrNotInitialized reports that Init has not run. Neither Memory nor Bolt
// returns it: both answer calls on an uninitialized store with zero values.
var ErrNotInitialized = errors.New("storage: not initialized")

// UserEntity is the WebAuthn user entity associated with a resident
// credential.
type UserEntity struct {
	ID          []byte
	Name        string
	DisplayName string
}

// CredentialRecord is the persisted shape of a credential source: enough
// to reconstruct a ctap2.CredentialSource without re-deriving anything.
type CredentialRecord struct {
	RPID         string
	User         UserEntity
	Algorithm    int64
	PrivateKey   []byte // provider-serialized, e.g. PKCS#8
	CredentialID []byte
	Counter      uint32
	CreatedAt    int64 // unix seconds
}

// Store is the persistent key-value interface the authenticator core
// depends on (component D, §4.D). Implementations must make every mutating
// call atomic: after a crash, state is either fully pre- or fully
// post-write, never partial.
type Store interface {
	// IsInitialized reports whether Init has ever successfully run.
	IsInitialized() (bool, error)

	// Init creates empty authenticator state. Must not be called twice;
	// callers check IsInitialized first.
	Init() error

	// Reset clears all state (credentials, PIN, retry counter, wrapping
	// key) and returns the device to a freshly-initialized state. Returns
	// false (no error) if the reset could not complete.
	Reset() (bool, error)

	// AddCredentialSource persists rec, replacing any existing record for
	// the same (rpId, userId) tuple.
	AddCredentialSource(rec CredentialRecord) error

	// CredentialSourcesByRP returns resident credentials for rpID. If
	// allowList is non-empty, results are filtered to credential IDs it
	// contains. Order is deterministic: most recently added first, where an
	// AddCredentialSource call that replaces a record (such as a counter
	// update) counts as adding it.
	CredentialSourcesByRP(rpID string, allowList [][]byte) ([]CredentialRecord, error)

	// PIN returns the stored 16-byte PIN hash, or nil if no PIN is set.
	PIN() ([]byte, error)

	// SetPIN stores a 16-byte PIN hash.
	SetPIN(hash []byte) error

	// PINRetries returns the current retry counter.
	PINRetries() (int, error)

	// SetPINRetries overwrites the retry counter.
	SetPINRetries(n int) error

	// DecrementPINRetries decrements the retry counter by one, floored at
	// zero, and returns the new value.
	DecrementPINRetries() (int, error)

	// HasWrappingKey reports whether a wrapping key has been set.
	HasWrappingKey() (bool, error)

	// WrappingKey returns the wrapping key.
	WrappingKey() ([]byte, error)

	// SetWrappingKey stores the wrapping key. Called once, at first
	// initialization.
	SetWrappingKey(key []byte) error
}
