// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package cose

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
	"math/big"
)

// RSAKeyBits is the modulus size used by RS256Provider.GenerateKeyPair.
const RSAKeyBits = 2048

// RS256Provider signs with RSASSA-PKCS1-v1.5 over SHA-256. It is optional
// per CTAP2 and is not registered by NewDefaultRegistry; callers that need
// it call Registry.Register(NewRS256Provider()) explicitly.
type RS256Provider struct{}

var _ Provider = RS256Provider{}

// NewRS256Provider returns a ready-to-register RS256Provider.
func NewRS256Provider() RS256Provider { return RS256Provider{} }

// Algorithm implements Provider.
func (RS256Provider) Algorithm() int64 { return AlgRS256 }

// GenerateKeyPair implements Provider.
func (RS256Provider) GenerateKeyPair(r io.Reader) (crypto.Signer, error) {
	if r == nil {
		r = rand.Reader
	}
	return rsa.GenerateKey(r, RSAKeyBits)
}

// Sign implements Provider.
func (RS256Provider) Sign(key crypto.Signer, msg []byte) ([]byte, error) {
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: RS256 sign requires *rsa.PrivateKey, got %T", key)
	}
	digest := sha256.Sum256(msg)
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
}

// EncodeKey implements Provider.
func (RS256Provider) EncodeKey(pub crypto.PublicKey) (Key, error) {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected *rsa.PublicKey, got %T", ErrKeyDecode, pub)
	}
	return Key{
		KtyLabel: int64(KtyRSA),
		AlgLabel: int64(AlgRS256),
		NLabel:   rsaPub.N.Bytes(),
		ELabel:   big.NewInt(int64(rsaPub.E)).Bytes(),
	}, nil
}

// DecodeKey implements Provider.
func (RS256Provider) DecodeKey(k Key) (crypto.PublicKey, error) {
	if kty := k.KeyType(); kty != KtyRSA {
		return nil, fmt.Errorf("%w: expected kty=RSA, got %d", ErrKeyDecode, kty)
	}
	n, okN := k.Bytes(NLabel)
	e, okE := k.Bytes(ELabel)
	if !okN || !okE {
		return nil, fmt.Errorf("%w: missing n/e", ErrKeyDecode)
	}
	return &rsa.PublicKey{
		N: bigFromBytes(n),
		E: int(bigFromBytes(e).Int64()),
	}, nil
}

// MarshalPrivateKey implements Provider.
func (RS256Provider) MarshalPrivateKey(key crypto.Signer) ([]byte, error) {
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: RS256 marshal requires *rsa.PrivateKey, got %T", key)
	}
	return x509.MarshalPKCS8PrivateKey(priv)
}

// UnmarshalPrivateKey implements Provider.
func (RS256Provider) UnmarshalPrivateKey(data []byte) (crypto.Signer, error) {
	key, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("cose: RS256 unmarshal: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: RS256 unmarshal: expected *rsa.PrivateKey, got %T", key)
	}
	return priv, nil
}
