// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

// Package attestation builds and parses CTAP2 authenticator data and
// assembles the packed self-attestation object returned from
// authenticatorMakeCredential.
package attestation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/silicon-key/ctap2/cose"
)

// Flag bits within the authenticator data flags byte.
// https://www.w3.org/TR/webauthn-2/#sctn-authenticator-data
const (
	FlagUserPresent         byte = 1 << 0
	FlagUserVerified        byte = 1 << 2
	FlagAttestedCredentials byte = 1 << 6
	FlagExtensionData       byte = 1 << 7
)

// ErrTooShort is returned when a byte slice is too short to contain the
// structure Parse is trying to decode.
var ErrTooShort = errors.New("attestation: authenticator data too short")

// AttestedCredentialData is the attested-credential-data block present when
// FlagAttestedCredentials is set: the AAGUID, credential ID, and COSE public
// key of a newly created credential.
type AttestedCredentialData struct {
	AAGUID       [16]byte
	CredentialID []byte
	PublicKey    cose.Key
}

// AuthenticatorData is the decoded form of the CTAP2 authData byte string
// that accompanies every MakeCredential and GetAssertion response.
type AuthenticatorData struct {
	RPIDHash     [32]byte
	UserPresent  bool
	UserVerified bool
	SignCount    uint32
	Attested     *AttestedCredentialData
}

// Build serializes ad into the flat authData byte string CTAP2 expects.
func Build(ad AuthenticatorData) ([]byte, error) {
	var flags byte
	if ad.UserPresent {
		flags |= FlagUserPresent
	}
	if ad.UserVerified {
		flags |= FlagUserVerified
	}
	if ad.Attested != nil {
		flags |= FlagAttestedCredentials
	}

	out := make([]byte, 0, 37)
	out = append(out, ad.RPIDHash[:]...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, ad.SignCount)

	if ad.Attested != nil {
		if len(ad.Attested.CredentialID) > 0xFFFF {
			return nil, fmt.Errorf("attestation: credential id too long: %d bytes", len(ad.Attested.CredentialID))
		}
		out = append(out, ad.Attested.AAGUID[:]...)
		out = binary.BigEndian.AppendUint16(out, uint16(len(ad.Attested.CredentialID)))
		out = append(out, ad.Attested.CredentialID...)
		keyBytes, err := cbor.Marshal(ad.Attested.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("attestation: encoding credential public key: %w", err)
		}
		out = append(out, keyBytes...)
	}
	return out, nil
}

// Parse decodes an authData byte string produced by Build. Extension data,
// if present, is not parsed — this authenticator never emits any.
func Parse(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < 37 {
		return nil, ErrTooShort
	}
	ad := &AuthenticatorData{}
	copy(ad.RPIDHash[:], raw[:32])
	raw = raw[32:]

	flags := raw[0]
	ad.UserPresent = flags&FlagUserPresent != 0
	ad.UserVerified = flags&FlagUserVerified != 0
	raw = raw[1:]

	ad.SignCount = binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]

	if flags&FlagAttestedCredentials != 0 {
		if len(raw) < 18 {
			return nil, ErrTooShort
		}
		attested := &AttestedCredentialData{}
		copy(attested.AAGUID[:], raw[:16])
		raw = raw[16:]

		idLen := binary.BigEndian.Uint16(raw[:2])
		raw = raw[2:]
		if len(raw) < int(idLen) {
			return nil, ErrTooShort
		}
		attested.CredentialID = append([]byte(nil), raw[:idLen]...)
		raw = raw[idLen:]

		var key cose.Key
		decoder := cbor.NewDecoder(bytes.NewReader(raw))
		if err := decoder.Decode(&key); err != nil {
			return nil, fmt.Errorf("attestation: decoding credential public key: %w", err)
		}
		attested.PublicKey = key
		ad.Attested = attested
	}
	return ad, nil
}
