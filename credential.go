// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

// Package ctap2 implements a device-resident CTAP2 authenticator core:
// command dispatch, the credential model, PIN authorization, and
// attestation assembly, built on the cose, wrap, storage, pin and
// attestation packages.
package ctap2

import (
	"crypto"
	"fmt"
	"time"

	"github.com/silicon-key/ctap2/cose"
)

// UserEntity is the WebAuthn user entity bound to a credential.
type UserEntity struct {
	ID          []byte
	Name        string
	DisplayName string
}

// PublicKeyCredentialDescriptor identifies a credential in allowList/
// excludeList parameters and in GetAssertion responses.
type PublicKeyCredentialDescriptor struct {
	Type       string
	ID         []byte
	Transports []string
}

// CredentialSource is the atomic unit of a credential (§3): a sealed key
// pair, its identifiers, and its signature counter. The key pair is only
// ever produced by a cose.Provider and only ever consumed through Sign or
// PublicKey — nothing outside this type and its provider touches the raw
// key material.
type CredentialSource struct {
	Algorithm  int64
	PrivateKey crypto.Signer
	RPID       string
	User       UserEntity
	ID         []byte
	Counter    uint32
	CreatedAt  time.Time
}

// PublicKey returns the COSE-encoded public half of the credential, using
// the provider registered for its algorithm.
func (c *CredentialSource) PublicKey(registry *cose.Registry) (cose.Key, error) {
	provider, err := registry.Require(c.Algorithm)
	if err != nil {
		return nil, err
	}
	return provider.EncodeKey(c.PrivateKey.Public())
}

// Descriptor returns the WebAuthn credential descriptor for this source.
func (c *CredentialSource) Descriptor() PublicKeyCredentialDescriptor {
	return PublicKeyCredentialDescriptor{
		Type:       "public-key",
		ID:         c.ID,
		Transports: []string{"usb"},
	}
}

// Sign signs msg with the credential's private key via the provider
// registered for its algorithm.
func (c *CredentialSource) Sign(registry *cose.Registry, msg []byte) ([]byte, error) {
	provider, err := registry.Require(c.Algorithm)
	if err != nil {
		return nil, err
	}
	sig, err := provider.Sign(c.PrivateKey, msg)
	if err != nil {
		return nil, fmt.Errorf("ctap2: signing assertion: %w", err)
	}
	return sig, nil
}

// IncrementCounter advances the signature counter, wrapping at 0xFFFFFFFF
// per the permitted weakness in §5/§8.
func (c *CredentialSource) IncrementCounter() {
	c.Counter++
}

// UserHandle returns the user entity's opaque ID.
func (c *CredentialSource) UserHandle() []byte {
	return c.User.ID
}
