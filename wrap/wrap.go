// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

// Package wrap implements the credential-wrapping scheme used for
// non-resident credentials: a symmetric authenticated wrap of a credential
// source's essential fields into an opaque blob that is handed back to the
// relying party as the credentialId.
package wrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidCredential is returned when a blob fails authentication or
// fails to decode into a valid Plaintext envelope.
var ErrInvalidCredential = errors.New("wrap: invalid credential")

// KeySize is the AES-256 key length wrap/unwrap requires.
const KeySize = 32

// nonceSize is the standard GCM nonce length.
const nonceSize = 12

// Plaintext is the self-describing envelope sealed inside a wrapped
// credentialId. It carries everything needed to reconstruct a
// ctap2.CredentialSource without touching storage.
type Plaintext struct {
	Algorithm  int64  `cbor:"1,keyasint"`
	PrivateKey []byte `cbor:"2,keyasint"`
	RPID       string `cbor:"3,keyasint"`
	UserHandle []byte `cbor:"4,keyasint"`
	Counter    uint32 `cbor:"5,keyasint"`
	CreatedAt  int64  `cbor:"6,keyasint"` // unix seconds
}

// Wrapper is the symmetric authenticated wrap/unwrap primitive of §4.B.
type Wrapper interface {
	// Wrap produces an opaque, authenticated blob from src. The blob is
	// bounded in length and strictly longer than a storage-key credential
	// id (see the threshold rule in §3/§4.B).
	Wrap(key []byte, src Plaintext) ([]byte, error)

	// Unwrap recovers the Plaintext sealed in blob, or fails with
	// ErrInvalidCredential if blob was tampered with or malformed.
	Unwrap(key []byte, blob []byte) (Plaintext, error)

	// GenerateKey returns a fresh wrapping key suitable for Wrap/Unwrap.
	GenerateKey(rand io.Reader) ([]byte, error)
}

// AESGCMWrapper implements Wrapper with AES-256-GCM: a random 12-byte nonce
// is prefixed to the ciphertext, and the plaintext is the CBOR encoding of
// Plaintext.
type AESGCMWrapper struct{}

var _ Wrapper = AESGCMWrapper{}

// NewAESGCMWrapper returns a ready-to-use AESGCMWrapper.
func NewAESGCMWrapper() AESGCMWrapper { return AESGCMWrapper{} }

// GenerateKey implements Wrapper.
func (AESGCMWrapper) GenerateKey(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("wrap: generating key: %w", err)
	}
	return key, nil
}

// Wrap implements Wrapper.
func (AESGCMWrapper) Wrap(key []byte, src Plaintext) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := cbor.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("wrap: encoding credential source: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("wrap: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// Unwrap implements Wrapper.
func (AESGCMWrapper) Unwrap(key []byte, blob []byte) (Plaintext, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return Plaintext{}, err
	}
	if len(blob) < nonceSize {
		return Plaintext{}, fmt.Errorf("%w: blob shorter than nonce", ErrInvalidCredential)
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Plaintext{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	var out Plaintext
	if err := cbor.Unmarshal(plain, &out); err != nil {
		return Plaintext{}, fmt.Errorf("%w: decoding envelope: %v", ErrInvalidCredential, err)
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("wrap: wrapping key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}
	return cipher.NewGCM(block)
}
