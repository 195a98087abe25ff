// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package attestation

import (
	"crypto"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/silicon-key/ctap2/cose"
)

// Format is the attestation statement format this authenticator produces:
// "packed" self attestation, signed with the credential's own private key
// rather than a separate attestation key — no attestation certificate is
// issued (see Non-goals).
const Format = "packed"

// Object is the CBOR-encodable shape of a CTAP2 attestation object:
//
//	{"fmt": "packed", "authData": bstr, "attStmt": {"alg": int, "sig": bstr}}
type Object struct {
	Format   string          `cbor:"fmt"`
	AuthData []byte          `cbor:"authData"`
	Stmt     PackedStatement `cbor:"attStmt"`
}

// PackedStatement is the attStmt map for "packed" self attestation.
type PackedStatement struct {
	Algorithm int64  `cbor:"alg"`
	Signature []byte `cbor:"sig"`
}

// SelfAttest builds the CBOR-encoded attestation object for a newly created
// credential: authData signed by the credential's own key, with no
// attestation certificate chain.
func SelfAttest(provider cose.Provider, key crypto.Signer, authData, clientDataHash []byte) ([]byte, error) {
	signed := append(append([]byte(nil), authData...), clientDataHash...)
	sig, err := provider.Sign(key, signed)
	if err != nil {
		return nil, fmt.Errorf("attestation: signing: %w", err)
	}
	obj := Object{
		Format:   Format,
		AuthData: authData,
		Stmt: PackedStatement{
			Algorithm: provider.Algorithm(),
			Signature: sig,
		},
	}
	out, err := cbor.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("attestation: encoding attestation object: %w", err)
	}
	return out, nil
}
