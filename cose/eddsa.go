// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package cose

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"io"
)

// EdDSAProvider signs with Ed25519 (PureEdDSA, no prehash — ed25519.Sign
// hashes internally per RFC 8032). Optional per CTAP2; not registered by
// NewDefaultRegistry.
type EdDSAProvider struct{}

var _ Provider = EdDSAProvider{}

// NewEdDSAProvider returns a ready-to-register EdDSAProvider.
func NewEdDSAProvider() EdDSAProvider { return EdDSAProvider{} }

// Algorithm implements Provider.
func (EdDSAProvider) Algorithm() int64 { return AlgEdDSA }

// GenerateKeyPair implements Provider.
func (EdDSAProvider) GenerateKeyPair(r io.Reader) (crypto.Signer, error) {
	if r == nil {
		r = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// Sign implements Provider. ed25519.Sign hashes the message internally
// (PureEdDSA), so msg is passed through unhashed.
func (EdDSAProvider) Sign(key crypto.Signer, msg []byte) ([]byte, error) {
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: EdDSA sign requires ed25519.PrivateKey, got %T", key)
	}
	return ed25519.Sign(priv, msg), nil
}

// EncodeKey implements Provider.
func (EdDSAProvider) EncodeKey(pub crypto.PublicKey) (Key, error) {
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected ed25519.PublicKey, got %T", ErrKeyDecode, pub)
	}
	return Key{
		KtyLabel: int64(KtyOKP),
		AlgLabel: int64(AlgEdDSA),
		CrvLabel: int64(CrvEd25519),
		XLabel:   []byte(edPub),
	}, nil
}

// DecodeKey implements Provider.
func (EdDSAProvider) DecodeKey(k Key) (crypto.PublicKey, error) {
	if kty := k.KeyType(); kty != KtyOKP {
		return nil, fmt.Errorf("%w: expected kty=OKP, got %d", ErrKeyDecode, kty)
	}
	crv, ok := k.Int64(CrvLabel)
	if !ok || crv != CrvEd25519 {
		return nil, fmt.Errorf("%w: expected crv=Ed25519, got %v", ErrKeyDecode, crv)
	}
	x, ok := k.Bytes(XLabel)
	if !ok || len(x) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: invalid ed25519 public key length", ErrKeyDecode)
	}
	return ed25519.PublicKey(x), nil
}

// MarshalPrivateKey implements Provider.
func (EdDSAProvider) MarshalPrivateKey(key crypto.Signer) ([]byte, error) {
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: EdDSA marshal requires ed25519.PrivateKey, got %T", key)
	}
	return x509.MarshalPKCS8PrivateKey(priv)
}

// UnmarshalPrivateKey implements Provider.
func (EdDSAProvider) UnmarshalPrivateKey(data []byte) (crypto.Signer, error) {
	key, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("cose: EdDSA unmarshal: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: EdDSA unmarshal: expected ed25519.PrivateKey, got %T", key)
	}
	return priv, nil
}
