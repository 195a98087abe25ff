// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"context"
	"fmt"

	"github.com/silicon-key/ctap2/storage"
)

type getAssertionOptions struct {
	UP bool `cbor:"up,omitempty"`
	UV bool `cbor:"uv,omitempty"`
}

type getAssertionRequest struct {
	RPID           string                     `cbor:"1,keyasint"`
	ClientDataHash []byte                     `cbor:"2,keyasint"`
	AllowList      []credentialDescriptorWire `cbor:"3,keyasint,omitempty"`
	Options        *getAssertionOptions       `cbor:"5,keyasint,omitempty"`
	PINAuth        []byte                     `cbor:"6,keyasint,omitempty"`
	PINProtocol    uint64                     `cbor:"7,keyasint,omitempty"`
}

type assertionResponse struct {
	Credential          credentialDescriptorWire `cbor:"1,keyasint"`
	AuthData            []byte                   `cbor:"2,keyasint"`
	Signature           []byte                   `cbor:"3,keyasint"`
	User                *userEntity              `cbor:"4,keyasint,omitempty"`
	NumberOfCredentials int64                    `cbor:"5,keyasint,omitempty"`
}

// assertionCandidate is a reconstructed, signable credential source paired
// with its storage/wrap origin so GetAssertion and GetNextAssertion can
// persist a counter bump back to the same place they found it.
type assertionCandidate struct {
	source   *CredentialSource
	resident bool
}

// getAssertion implements authenticatorGetAssertion (§4.G).
func (a *Authenticator) getAssertion(ctx context.Context, req getAssertionRequest) (any, error) {
	candidates, err := a.collectCandidates(req.RPID, req.AllowList)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, NewError(ErrNoCredentials, fmt.Errorf("ctap2: no credentials for rp %q", req.RPID))
	}

	uv, err := a.verifyPINAuthIfPresent(req.PINAuth, req.ClientDataHash)
	if err != nil {
		return nil, err
	}

	if _, err := a.requirePresence(ctx); err != nil {
		return nil, err
	}

	a.pending = candidates
	a.pendingUV = uv
	a.pendingClientDataHash = req.ClientDataHash
	resp, err := a.signAssertion(req.RPID, req.ClientDataHash, uv, candidates[0], len(candidates))
	if err != nil {
		return nil, err
	}
	if len(candidates) > 1 {
		a.pending = candidates[1:]
	} else {
		a.pending = nil
	}
	return resp, nil
}

// getNextAssertion implements authenticatorGetNextAssertion (§4.G): each
// call consumes one candidate off the front of the pending list left by the
// most recent GetAssertion, signing against that same call's clientDataHash
// and UV state (spec.md:143 — GetNextAssertion responses are "same shape as
// the primary response").
func (a *Authenticator) getNextAssertion(ctx context.Context) (any, error) {
	if len(a.pending) == 0 {
		return nil, NewError(ErrNotAllowed, fmt.Errorf("ctap2: no pending assertions"))
	}
	next := a.pending[0]
	a.pending = a.pending[1:]
	return a.signAssertion(next.source.RPID, a.pendingClientDataHash, a.pendingUV, next, 0)
}

// signAssertion builds authenticatorData, signs it together with
// clientDataHash, advances and persists the credential's counter, and
// returns the CTAP2 assertion response map.
func (a *Authenticator) signAssertion(rpID string, clientDataHash []byte, uv bool, cand assertionCandidate, numCredentials int) (*assertionResponse, error) {
	source := cand.source
	authData, err := a.buildAuthData(rpID, true, uv, source.Counter+1, nil)
	if err != nil {
		return nil, NewError(ErrOther, err)
	}
	signed := append(append([]byte(nil), authData...), clientDataHash...)
	sig, err := source.Sign(a.Registry, signed)
	if err != nil {
		return nil, NewError(ErrOther, err)
	}

	source.IncrementCounter()
	if cand.resident {
		provider, err := a.Registry.Require(source.Algorithm)
		if err != nil {
			return nil, NewError(ErrOther, err)
		}
		priv, err := provider.MarshalPrivateKey(source.PrivateKey)
		if err != nil {
			return nil, NewError(ErrOther, fmt.Errorf("ctap2: marshaling private key: %w", err))
		}
		rec := storage.CredentialRecord{
			RPID: source.RPID,
			User: storage.UserEntity{
				ID:          source.User.ID,
				Name:        source.User.Name,
				DisplayName: source.User.DisplayName,
			},
			Algorithm:    source.Algorithm,
			PrivateKey:   priv,
			CredentialID: source.ID,
			Counter:      source.Counter,
			CreatedAt:    source.CreatedAt.Unix(),
		}
		if err := a.Store.AddCredentialSource(rec); err != nil {
			return nil, NewError(ErrOther, fmt.Errorf("ctap2: persisting counter update: %w", err))
		}
	}

	resp := &assertionResponse{
		Credential: credentialDescriptorWire{
			Type: "public-key",
			ID:   source.ID,
		},
		AuthData:  authData,
		Signature: sig,
	}
	if numCredentials > 1 {
		resp.User = &userEntity{ID: source.User.ID, Name: source.User.Name, DisplayName: source.User.DisplayName}
		resp.NumberOfCredentials = int64(numCredentials)
	}
	return resp, nil
}

// collectCandidates gathers resident credentials for rpID and, for any
// allowList entry long enough to be a wrapped (non-resident) blob, attempts
// to unwrap it in place.
func (a *Authenticator) collectCandidates(rpID string, allowList []credentialDescriptorWire) ([]assertionCandidate, error) {
	var allowIDs [][]byte
	var wrapped [][]byte
	for _, d := range allowList {
		if len(d.ID) > storage.KeyIDLength {
			wrapped = append(wrapped, d.ID)
		} else {
			allowIDs = append(allowIDs, d.ID)
		}
	}

	records, err := a.Store.CredentialSourcesByRP(rpID, allowIDs)
	if err != nil {
		return nil, NewError(ErrOther, err)
	}

	var out []assertionCandidate
	for _, rec := range records {
		provider, err := a.Registry.Require(rec.Algorithm)
		if err != nil {
			continue
		}
		key, err := provider.UnmarshalPrivateKey(rec.PrivateKey)
		if err != nil {
			continue
		}
		out = append(out, assertionCandidate{
			resident: true,
			source: &CredentialSource{
				Algorithm:  rec.Algorithm,
				PrivateKey: key,
				RPID:       rec.RPID,
				User: UserEntity{
					ID:          rec.User.ID,
					Name:        rec.User.Name,
					DisplayName: rec.User.DisplayName,
				},
				ID:        rec.CredentialID,
				Counter:   rec.Counter,
				CreatedAt: unixTime(rec.CreatedAt),
			},
		})
	}

	wrapKey, wrapErr := a.Store.WrappingKey()
	for _, blob := range wrapped {
		if wrapErr != nil {
			continue
		}
		plain, err := a.Wrapper.Unwrap(wrapKey, blob)
		if err != nil {
			continue
		}
		if plain.RPID != rpID {
			continue
		}
		provider, err := a.Registry.Require(plain.Algorithm)
		if err != nil {
			continue
		}
		key, err := provider.UnmarshalPrivateKey(plain.PrivateKey)
		if err != nil {
			continue
		}
		out = append(out, assertionCandidate{
			resident: false,
			source: &CredentialSource{
				Algorithm:  plain.Algorithm,
				PrivateKey: key,
				RPID:       plain.RPID,
				User:       UserEntity{ID: plain.UserHandle},
				ID:         blob,
				Counter:    plain.Counter,
				CreatedAt:  unixTime(plain.CreatedAt),
			},
		})
	}
	return out, nil
}
