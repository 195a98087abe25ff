// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/silicon-key/ctap2"
	"github.com/silicon-key/ctap2/cose"
	"github.com/silicon-key/ctap2/ctap2test"
	"github.com/silicon-key/ctap2/pin"
)

// platformPIN mimics the platform half of the PIN protocol against the
// Dispatch-level ClientPIN sub-command surface, independent of the pin
// package's own internal tests.
type platformPIN struct {
	priv *ecdh.PrivateKey
}

func newPlatformPIN(t *testing.T) *platformPIN {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating platform key: %v", err)
	}
	return &platformPIN{priv: priv}
}

func (p *platformPIN) coseKey() cose.Key {
	pub := p.priv.PublicKey().Bytes()
	coord := (len(pub) - 1) / 2
	return cose.Key{
		cose.KtyLabel: int64(cose.KtyEC2),
		cose.CrvLabel: int64(cose.CrvP256),
		cose.XLabel:   pub[1 : 1+coord],
		cose.YLabel:   pub[1+coord:],
	}
}

func (p *platformPIN) sharedSecret(t *testing.T, authenticatorKey cose.Key) []byte {
	t.Helper()
	x, _ := authenticatorKey.Bytes(cose.XLabel)
	y, _ := authenticatorKey.Bytes(cose.YLabel)
	point := append([]byte{0x04}, append(append([]byte(nil), x...), y...)...)
	authPub, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		t.Fatalf("building authenticator public key: %v", err)
	}
	secretX, err := p.priv.ECDH(authPub)
	if err != nil {
		t.Fatalf("platform ecdh: %v", err)
	}
	sum := sha256.Sum256(secretX)
	return sum[:]
}

func paddedPIN(s string) []byte {
	padded := make([]byte, 64)
	copy(padded, s)
	return padded
}

type wireClientPINRequest struct {
	PINProtocol  uint64   `cbor:"1,keyasint"`
	SubCommand   uint64   `cbor:"2,keyasint"`
	KeyAgreement cose.Key `cbor:"3,keyasint,omitempty"`
	PINAuth      []byte   `cbor:"4,keyasint,omitempty"`
	NewPINEnc    []byte   `cbor:"5,keyasint,omitempty"`
	PINHashEnc   []byte   `cbor:"6,keyasint,omitempty"`
}

type wireClientPINResponse struct {
	KeyAgreement cose.Key `cbor:"1,keyasint,omitempty"`
	PINToken     []byte   `cbor:"2,keyasint,omitempty"`
	Retries      int64    `cbor:"3,keyasint,omitempty"`
}

func getKeyAgreement(t *testing.T, auth *ctap2test.Authenticator) cose.Key {
	t.Helper()
	status, body := auth.Dispatch(context.Background(), ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{SubCommand: 0x02}))
	if status != ctap2.StatusOK {
		t.Fatalf("getKeyAgreement status = 0x%02x", status)
	}
	var resp wireClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding getKeyAgreement response: %v", err)
	}
	return resp.KeyAgreement
}

func TestClientPINSetThenGetToken(t *testing.T) {
	auth, err := ctap2test.New(10)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	ctx := context.Background()
	platform := newPlatformPIN(t)
	authKey := getKeyAgreement(t, auth)
	secret := platform.sharedSecret(t, authKey)

	newPINEnc, err := pin.Encrypt(secret, paddedPIN("1234"))
	if err != nil {
		t.Fatalf("encrypting new pin: %v", err)
	}
	pinAuth := pin.Authenticate(secret, newPINEnc)

	status, _ := auth.Dispatch(ctx, ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{
		SubCommand:   0x03,
		KeyAgreement: platform.coseKey(),
		NewPINEnc:    newPINEnc,
		PINAuth:      pinAuth,
	}))
	if status != ctap2.StatusOK {
		t.Fatalf("setPIN status = 0x%02x, want 0x00", status)
	}

	pinHashEnc, err := pin.Encrypt(secret, pin.HashPIN("1234"))
	if err != nil {
		t.Fatalf("encrypting pin hash: %v", err)
	}
	status, body := auth.Dispatch(ctx, ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{
		SubCommand:   0x05,
		KeyAgreement: platform.coseKey(),
		PINHashEnc:   pinHashEnc,
	}))
	if status != ctap2.StatusOK {
		t.Fatalf("getPINToken status = 0x%02x, want 0x00", status)
	}
	var resp wireClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding getPINToken response: %v", err)
	}
	if len(resp.PINToken) == 0 {
		t.Fatalf("expected a non-empty encrypted pin token")
	}
}

func TestClientPINWrongHashDecrementsRetries(t *testing.T) {
	auth, err := ctap2test.New(11)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	ctx := context.Background()
	platform := newPlatformPIN(t)
	authKey := getKeyAgreement(t, auth)
	secret := platform.sharedSecret(t, authKey)

	newPINEnc, err := pin.Encrypt(secret, paddedPIN("1234"))
	if err != nil {
		t.Fatalf("encrypting new pin: %v", err)
	}
	status, _ := auth.Dispatch(ctx, ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{
		SubCommand:   0x03,
		KeyAgreement: platform.coseKey(),
		NewPINEnc:    newPINEnc,
		PINAuth:      pin.Authenticate(secret, newPINEnc),
	}))
	if status != ctap2.StatusOK {
		t.Fatalf("setPIN status = 0x%02x, want 0x00", status)
	}

	status, _ = auth.Dispatch(ctx, ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{SubCommand: 0x01}))
	if status != ctap2.StatusOK {
		t.Fatalf("getRetries status = 0x%02x, want 0x00", status)
	}

	wrongHashEnc, err := pin.Encrypt(secret, make([]byte, 16))
	if err != nil {
		t.Fatalf("encrypting wrong hash: %v", err)
	}
	status, _ = auth.Dispatch(ctx, ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{
		SubCommand:   0x05,
		KeyAgreement: platform.coseKey(),
		PINHashEnc:   wrongHashEnc,
	}))
	if status == ctap2.StatusOK {
		t.Fatalf("expected getPINToken with a wrong hash to fail")
	}

	_, body := auth.Dispatch(ctx, ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{SubCommand: 0x01}))
	var resp wireClientPINResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding getRetries response: %v", err)
	}
	if resp.Retries != int64(pin.InitialRetries-1) {
		t.Fatalf("retries = %d, want %d", resp.Retries, pin.InitialRetries-1)
	}
}

func TestClientPINSetPINAlreadySet(t *testing.T) {
	auth, err := ctap2test.New(12)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	ctx := context.Background()
	platform := newPlatformPIN(t)
	authKey := getKeyAgreement(t, auth)
	secret := platform.sharedSecret(t, authKey)

	newPINEnc, err := pin.Encrypt(secret, paddedPIN("1234"))
	if err != nil {
		t.Fatalf("encrypting new pin: %v", err)
	}
	status, _ := auth.Dispatch(ctx, ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{
		SubCommand:   0x03,
		KeyAgreement: platform.coseKey(),
		NewPINEnc:    newPINEnc,
		PINAuth:      pin.Authenticate(secret, newPINEnc),
	}))
	if status != ctap2.StatusOK {
		t.Fatalf("first setPIN status = 0x%02x, want 0x00", status)
	}

	otherPINEnc, err := pin.Encrypt(secret, paddedPIN("5678"))
	if err != nil {
		t.Fatalf("encrypting second new pin: %v", err)
	}
	status, _ = auth.Dispatch(ctx, ctap2.CmdClientPIN, marshal(t, wireClientPINRequest{
		SubCommand:   0x03,
		KeyAgreement: platform.coseKey(),
		NewPINEnc:    otherPINEnc,
		PINAuth:      pin.Authenticate(secret, otherPINEnc),
	}))
	if want := (&ctap2.Error{Kind: ctap2.ErrPINAuthInvalid}).Status(); status != want {
		t.Fatalf("second setPIN status = 0x%02x, want 0x%02x (pin_auth_invalid)", status, want)
	}
}
