// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package cose

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrUnsupportedAlgorithm is returned when no provider is registered for a
// requested COSE algorithm identifier.
var ErrUnsupportedAlgorithm = errors.New("cose: unsupported algorithm")

// ErrKeyDecode is returned when a COSE key map fails to parse into a
// concrete public key.
var ErrKeyDecode = errors.New("cose: key decode error")

// Provider implements key generation, signing and COSE key encode/decode
// for a single signature algorithm. The private key handle it produces
// (crypto.Signer) is sealed: callers may only use it to sign or to read its
// Public() half, never to extract raw key material outside of
// MarshalPrivateKey.
type Provider interface {
	// Algorithm returns the COSE algorithm identifier this provider serves.
	Algorithm() int64

	// GenerateKeyPair creates a fresh key pair using entropy from rand.
	GenerateKeyPair(rand io.Reader) (crypto.Signer, error)

	// Sign hashes msg with the curve/key-appropriate digest and signs it.
	Sign(key crypto.Signer, msg []byte) ([]byte, error)

	// EncodeKey returns the COSE key map for a public key produced by this
	// provider.
	EncodeKey(pub crypto.PublicKey) (Key, error)

	// DecodeKey parses a COSE key map into a public key. Returns
	// ErrKeyDecode wrapped with details on any malformed field.
	DecodeKey(k Key) (crypto.PublicKey, error)

	// MarshalPrivateKey serializes a private key for persistence.
	MarshalPrivateKey(key crypto.Signer) ([]byte, error)

	// UnmarshalPrivateKey reconstructs a private key from its serialized
	// form.
	UnmarshalPrivateKey(data []byte) (crypto.Signer, error)
}

// Registry is a keyed lookup from COSE algorithm identifier to Provider.
// Registration order does not matter; a later Register call for an
// already-registered algorithm overwrites the earlier one.
type Registry struct {
	mu        sync.RWMutex
	providers map[int64]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[int64]Provider)}
}

// NewDefaultRegistry returns a Registry with ES256 registered, the only
// mandatory algorithm per the CTAP2 spec this authenticator implements.
// Callers that also want RS256 or EdDSA support call Register explicitly.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewES256Provider())
	return r
}

// Register adds a provider to the registry, overwriting any existing
// provider for the same algorithm.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Algorithm()] = p
}

// Lookup returns the provider registered for alg, if any.
func (r *Registry) Lookup(alg int64) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[alg]
	return p, ok
}

// Require is like Lookup but returns ErrUnsupportedAlgorithm on a miss.
func (r *Registry) Require(alg int64) (Provider, error) {
	p, ok := r.Lookup(alg)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, alg)
	}
	return p, nil
}

// Algorithms returns every registered algorithm identifier, in no
// particular order.
func (r *Registry) Algorithms() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	algs := make([]int64, 0, len(r.providers))
	for alg := range r.providers {
		algs = append(algs, alg)
	}
	return algs
}
