// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package cose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"io"
)

// ES256Provider signs with ECDSA over the NIST P-256 curve, hashing with
// SHA-256 per FIPS 186-4. It is the only mandatory algorithm for this
// authenticator.
type ES256Provider struct{}

var _ Provider = ES256Provider{}

// NewES256Provider returns a ready-to-register ES256Provider.
func NewES256Provider() ES256Provider { return ES256Provider{} }

// Algorithm implements Provider.
func (ES256Provider) Algorithm() int64 { return AlgES256 }

// GenerateKeyPair implements Provider.
func (ES256Provider) GenerateKeyPair(r io.Reader) (crypto.Signer, error) {
	if r == nil {
		r = rand.Reader
	}
	return ecdsa.GenerateKey(elliptic.P256(), r)
}

// Sign implements Provider. msg is hashed with SHA-256, as ES256 requires,
// and the digest is signed with ecdsa.SignASN1.
func (ES256Provider) Sign(key crypto.Signer, msg []byte) ([]byte, error) {
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: ES256 sign requires *ecdsa.PrivateKey, got %T", key)
	}
	digest := sha256Sum(msg)
	return ecdsa.SignASN1(rand.Reader, priv, digest[:])
}

// EncodeKey implements Provider.
func (ES256Provider) EncodeKey(pub crypto.PublicKey) (Key, error) {
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected *ecdsa.PublicKey, got %T", ErrKeyDecode, pub)
	}
	size := (ecPub.Curve.Params().BitSize + 7) / 8
	return Key{
		KtyLabel: int64(KtyEC2),
		AlgLabel: int64(AlgES256),
		CrvLabel: int64(CrvP256),
		XLabel:   ecPub.X.FillBytes(make([]byte, size)),
		YLabel:   ecPub.Y.FillBytes(make([]byte, size)),
	}, nil
}

// DecodeKey implements Provider.
func (ES256Provider) DecodeKey(k Key) (crypto.PublicKey, error) {
	if kty := k.KeyType(); kty != KtyEC2 {
		return nil, fmt.Errorf("%w: expected kty=EC2, got %d", ErrKeyDecode, kty)
	}
	crv, ok := k.Int64(CrvLabel)
	if !ok || crv != CrvP256 {
		return nil, fmt.Errorf("%w: expected crv=P-256, got %v", ErrKeyDecode, crv)
	}
	x, okX := k.Bytes(XLabel)
	y, okY := k.Bytes(YLabel)
	if !okX || !okY {
		return nil, fmt.Errorf("%w: missing x/y coordinate", ErrKeyDecode)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     bigFromBytes(x),
		Y:     bigFromBytes(y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("%w: point not on P-256", ErrKeyDecode)
	}
	return pub, nil
}

// MarshalPrivateKey implements Provider.
func (ES256Provider) MarshalPrivateKey(key crypto.Signer) ([]byte, error) {
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: ES256 marshal requires *ecdsa.PrivateKey, got %T", key)
	}
	return x509.MarshalPKCS8PrivateKey(priv)
}

// UnmarshalPrivateKey implements Provider.
func (ES256Provider) UnmarshalPrivateKey(data []byte) (crypto.Signer, error) {
	key, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("cose: ES256 unmarshal: %w", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cose: ES256 unmarshal: expected *ecdsa.PrivateKey, got %T", key)
	}
	return priv, nil
}
