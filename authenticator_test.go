// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/silicon-key/ctap2"
	"github.com/silicon-key/ctap2/attestation"
	"github.com/silicon-key/ctap2/cose"
	"github.com/silicon-key/ctap2/ctap2test"
)

type wireRPEntity struct {
	ID string `cbor:"id"`
}

type wireUserEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

type wireCredParam struct {
	Alg  int64  `cbor:"alg"`
	Type string `cbor:"type"`
}

type wireCredentialDescriptor struct {
	Type string `cbor:"type"`
	ID   []byte `cbor:"id"`
}

type wireMakeCredentialOptions struct {
	RK bool `cbor:"rk,omitempty"`
}

type wireMakeCredentialRequest struct {
	ClientDataHash   []byte                     `cbor:"1,keyasint"`
	RP               wireRPEntity               `cbor:"2,keyasint"`
	User             wireUserEntity             `cbor:"3,keyasint"`
	PubKeyCredParams []wireCredParam            `cbor:"4,keyasint"`
	Options          *wireMakeCredentialOptions `cbor:"7,keyasint,omitempty"`
}

type wireGetAssertionRequest struct {
	RPID           string                     `cbor:"1,keyasint"`
	ClientDataHash []byte                     `cbor:"2,keyasint"`
	AllowList      []wireCredentialDescriptor `cbor:"3,keyasint,omitempty"`
}

type wireAttestationObject struct {
	Format   string `cbor:"fmt"`
	AuthData []byte `cbor:"authData"`
}

type wireAssertionResponse struct {
	Credential wireCredentialDescriptor `cbor:"1,keyasint"`
	AuthData   []byte                   `cbor:"2,keyasint"`
	Signature  []byte                   `cbor:"3,keyasint"`
}

func marshal(t *testing.T, v any) cbor.RawMessage {
	t.Helper()
	raw, err := cbor.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	return raw
}

func hash(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// registeredPublicKey runs MakeCredential for rpID/username and returns the
// credential's descriptor and ES256 public key, parsed out of its
// attestation object's authData, so a test can verify a later assertion
// signature against it.
func registeredPublicKey(t *testing.T, auth *ctap2test.Authenticator, ctx context.Context, rpID, username string) (wireCredentialDescriptor, *ecdsa.PublicKey) {
	t.Helper()
	status, body := auth.Dispatch(ctx, ctap2.CmdMakeCredential, makeCredentialParams(t, rpID, username, true))
	if status != ctap2.StatusOK {
		t.Fatalf("MakeCredential(%s) status = 0x%02x, want 0x00", username, status)
	}
	var obj wireAttestationObject
	if err := cbor.Unmarshal(body, &obj); err != nil {
		t.Fatalf("decoding attestation object: %v", err)
	}
	authData, err := attestation.Parse(obj.AuthData)
	if err != nil {
		t.Fatalf("parsing authData: %v", err)
	}
	if authData.Attested == nil {
		t.Fatalf("attestation authData has no attested credential data")
	}
	provider, ok := cose.NewDefaultRegistry().Lookup(cose.AlgES256)
	if !ok {
		t.Fatalf("ES256 provider not registered")
	}
	pub, err := provider.DecodeKey(authData.Attested.PublicKey)
	if err != nil {
		t.Fatalf("decoding credential public key: %v", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("credential public key is %T, want *ecdsa.PublicKey", pub)
	}
	return wireCredentialDescriptor{Type: "public-key", ID: authData.Attested.CredentialID}, ecdsaPub
}

// verifyAssertionSignature checks that sig is a valid ES256 signature over
// authData || clientDataHash under pub.
func verifyAssertionSignature(t *testing.T, pub *ecdsa.PublicKey, authData, clientDataHash, sig []byte) bool {
	t.Helper()
	signed := append(append([]byte(nil), authData...), clientDataHash...)
	digest := sha256.Sum256(signed)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

func makeCredentialParams(t *testing.T, rpID, username string, rk bool) cbor.RawMessage {
	t.Helper()
	return marshal(t, wireMakeCredentialRequest{
		ClientDataHash: hash("register:" + rpID + ":" + username),
		RP:             wireRPEntity{ID: rpID},
		User:           wireUserEntity{ID: []byte(username), Name: username},
		PubKeyCredParams: []wireCredParam{
			{Alg: cose.AlgES256, Type: "public-key"},
		},
		Options: &wireMakeCredentialOptions{RK: rk},
	})
}

func TestMakeCredentialResidentThenGetAssertion(t *testing.T) {
	auth, err := ctap2test.New(1)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	ctx := context.Background()

	status, body := auth.Dispatch(ctx, ctap2.CmdMakeCredential, makeCredentialParams(t, "example.com", "alice", true))
	if status != ctap2.StatusOK {
		t.Fatalf("MakeCredential status = 0x%02x, want 0x00", status)
	}
	var obj wireAttestationObject
	if err := cbor.Unmarshal(body, &obj); err != nil {
		t.Fatalf("decoding attestation object: %v", err)
	}
	if obj.Format != "packed" {
		t.Fatalf("attestation fmt = %q, want packed", obj.Format)
	}
	if len(obj.AuthData) == 0 {
		t.Fatalf("attestation authData is empty")
	}

	assertParams := marshal(t, wireGetAssertionRequest{
		RPID:           "example.com",
		ClientDataHash: hash("assert:example.com"),
	})
	status, body = auth.Dispatch(ctx, ctap2.CmdGetAssertion, assertParams)
	if status != ctap2.StatusOK {
		t.Fatalf("GetAssertion status = 0x%02x, want 0x00", status)
	}
	var resp wireAssertionResponse
	if err := cbor.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding assertion response: %v", err)
	}
	if len(resp.Signature) == 0 {
		t.Fatalf("assertion signature is empty")
	}
	if auth.Presence.Prompts == 0 {
		t.Fatalf("expected at least one presence prompt across both operations")
	}
}

func TestMakeCredentialNonResidentNotDiscoverable(t *testing.T) {
	auth, err := ctap2test.New(2)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	ctx := context.Background()

	status, body := auth.Dispatch(ctx, ctap2.CmdMakeCredential, makeCredentialParams(t, "example.com", "bob", false))
	if status != ctap2.StatusOK {
		t.Fatalf("MakeCredential status = 0x%02x, want 0x00", status)
	}
	var obj wireAttestationObject
	if err := cbor.Unmarshal(body, &obj); err != nil {
		t.Fatalf("decoding attestation object: %v", err)
	}

	// The non-resident credential ID is embedded in authData's attested
	// credential data, not something this test parses independently; instead
	// verify the credential is NOT discoverable via GetAssertion with no
	// allowList (only resident credentials are returned that way).
	assertParams := marshal(t, wireGetAssertionRequest{
		RPID:           "example.com",
		ClientDataHash: hash("assert:example.com"),
	})
	status, _ = auth.Dispatch(ctx, ctap2.CmdGetAssertion, assertParams)
	if status == ctap2.StatusOK {
		t.Fatalf("expected no_credentials for a non-resident credential with no allowList, got status 0x00")
	}
}

func TestMakeCredentialUnsupportedAlgorithm(t *testing.T) {
	auth, err := ctap2test.New(3)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	params := marshal(t, wireMakeCredentialRequest{
		ClientDataHash:   hash("register:example.com:carol"),
		RP:               wireRPEntity{ID: "example.com"},
		User:             wireUserEntity{ID: []byte("carol"), Name: "carol"},
		PubKeyCredParams: []wireCredParam{{Alg: -257, Type: "public-key"}}, // RS256, not registered
	})
	status, _ := auth.Dispatch(context.Background(), ctap2.CmdMakeCredential, params)
	if status != (&ctap2.Error{Kind: ctap2.ErrUnsupportedAlgorithm}).Status() {
		t.Fatalf("status = 0x%02x, want unsupported_algorithm", status)
	}
}

func TestGetAssertionNoCredentials(t *testing.T) {
	auth, err := ctap2test.New(4)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	params := marshal(t, wireGetAssertionRequest{
		RPID:           "nowhere.example",
		ClientDataHash: hash("assert:nowhere.example"),
	})
	status, _ := auth.Dispatch(context.Background(), ctap2.CmdGetAssertion, params)
	if status != (&ctap2.Error{Kind: ctap2.ErrNoCredentials}).Status() {
		t.Fatalf("status = 0x%02x, want no_credentials", status)
	}
}

func TestResetErasesResidentCredentials(t *testing.T) {
	auth, err := ctap2test.New(5)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	ctx := context.Background()

	status, _ := auth.Dispatch(ctx, ctap2.CmdMakeCredential, makeCredentialParams(t, "example.com", "dave", true))
	if status != ctap2.StatusOK {
		t.Fatalf("MakeCredential status = 0x%02x, want 0x00", status)
	}

	status, _ = auth.Dispatch(ctx, ctap2.CmdReset, nil)
	if status != ctap2.StatusOK {
		t.Fatalf("Reset status = 0x%02x, want 0x00", status)
	}

	assertParams := marshal(t, wireGetAssertionRequest{
		RPID:           "example.com",
		ClientDataHash: hash("assert:example.com"),
	})
	status, _ = auth.Dispatch(ctx, ctap2.CmdGetAssertion, assertParams)
	if status == ctap2.StatusOK {
		t.Fatalf("expected no credentials to survive Reset")
	}
}

func TestGetInfoReportsExpectedFields(t *testing.T) {
	auth, err := ctap2test.New(6)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	status, body := auth.Dispatch(context.Background(), ctap2.CmdGetInfo, nil)
	if status != ctap2.StatusOK {
		t.Fatalf("GetInfo status = 0x%02x, want 0x00", status)
	}
	var resp map[int]any
	if err := cbor.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding GetInfo response: %v", err)
	}
	if _, ok := resp[1]; !ok {
		t.Fatalf("GetInfo response missing versions (key 1): %+v", resp)
	}
	if _, ok := resp[3]; !ok {
		t.Fatalf("GetInfo response missing aaguid (key 3): %+v", resp)
	}
	options, ok := resp[4].(map[any]any)
	if !ok {
		t.Fatalf("GetInfo response options (key 4) has unexpected shape: %+v", resp[4])
	}
	// rk is a fixed capability, independent of the DefaultToRK policy knob
	// (which is false in ctap2test.New's default config).
	if rk, _ := options["rk"].(bool); !rk {
		t.Fatalf("GetInfo options.rk = %v, want true", options["rk"])
	}
}

func TestGetNextAssertionWalksRemainingCandidates(t *testing.T) {
	auth, err := ctap2test.New(8)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	ctx := context.Background()

	pubKeys := make(map[string]*ecdsa.PublicKey)
	for _, user := range []string{"frank", "grace"} {
		desc, pub := registeredPublicKey(t, auth, ctx, "example.com", user)
		pubKeys[string(desc.ID)] = pub
	}

	clientDataHash := hash("assert:example.com")
	assertParams := marshal(t, wireGetAssertionRequest{
		RPID:           "example.com",
		ClientDataHash: clientDataHash,
	})
	status, body := auth.Dispatch(ctx, ctap2.CmdGetAssertion, assertParams)
	if status != ctap2.StatusOK {
		t.Fatalf("GetAssertion status = 0x%02x, want 0x00", status)
	}
	var first wireAssertionResponse
	if err := cbor.Unmarshal(body, &first); err != nil {
		t.Fatalf("decoding first assertion response: %v", err)
	}
	if pub, ok := pubKeys[string(first.Credential.ID)]; !ok {
		t.Fatalf("GetAssertion returned an unrecognized credential id")
	} else if !verifyAssertionSignature(t, pub, first.AuthData, clientDataHash, first.Signature) {
		t.Fatalf("GetAssertion signature does not verify against its own credential's public key")
	}

	status, body = auth.Dispatch(ctx, ctap2.CmdGetNextAssertion, nil)
	if status != ctap2.StatusOK {
		t.Fatalf("GetNextAssertion status = 0x%02x, want 0x00", status)
	}
	var second wireAssertionResponse
	if err := cbor.Unmarshal(body, &second); err != nil {
		t.Fatalf("decoding second assertion response: %v", err)
	}
	if string(first.Credential.ID) == string(second.Credential.ID) {
		t.Fatalf("GetNextAssertion returned the same credential as GetAssertion")
	}
	// GetNextAssertion must sign against the clientDataHash from the
	// original GetAssertion call, not a fresh or empty one, so the relying
	// party can actually verify it (spec.md:143).
	if pub, ok := pubKeys[string(second.Credential.ID)]; !ok {
		t.Fatalf("GetNextAssertion returned an unrecognized credential id")
	} else if !verifyAssertionSignature(t, pub, second.AuthData, clientDataHash, second.Signature) {
		t.Fatalf("GetNextAssertion signature does not verify against the original request's clientDataHash")
	}

	status, _ = auth.Dispatch(ctx, ctap2.CmdGetNextAssertion, nil)
	if status == ctap2.StatusOK {
		t.Fatalf("expected a third GetNextAssertion call to fail: only two credentials were registered")
	}
}

func TestUserPresenceDeniedFailsMakeCredential(t *testing.T) {
	auth, err := ctap2test.New(7)
	if err != nil {
		t.Fatalf("ctap2test.New: %v", err)
	}
	auth.Presence.Script(ctap2.PresenceDenied)

	status, _ := auth.Dispatch(context.Background(), ctap2.CmdMakeCredential, makeCredentialParams(t, "example.com", "erin", true))
	if status == ctap2.StatusOK {
		t.Fatalf("expected MakeCredential to fail when presence is denied")
	}
}
