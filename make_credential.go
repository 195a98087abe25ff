// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"context"
	"fmt"
	"time"

	"github.com/silicon-key/ctap2/attestation"
	"github.com/silicon-key/ctap2/cose"
	"github.com/silicon-key/ctap2/pin"
	"github.com/silicon-key/ctap2/storage"
	"github.com/silicon-key/ctap2/wrap"
)

type rpEntity struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

type userEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

type credParam struct {
	Alg  int64  `cbor:"alg"`
	Type string `cbor:"type"`
}

type credentialDescriptorWire struct {
	Type       string   `cbor:"type"`
	ID         []byte   `cbor:"id"`
	Transports []string `cbor:"transports,omitempty"`
}

type makeCredentialOptions struct {
	RK bool `cbor:"rk,omitempty"`
	UV bool `cbor:"uv,omitempty"`
}

type makeCredentialRequest struct {
	ClientDataHash   []byte                     `cbor:"1,keyasint"`
	RP               rpEntity                   `cbor:"2,keyasint"`
	User             userEntity                 `cbor:"3,keyasint"`
	PubKeyCredParams []credParam                `cbor:"4,keyasint"`
	ExcludeList      []credentialDescriptorWire `cbor:"5,keyasint,omitempty"`
	Options          *makeCredentialOptions     `cbor:"7,keyasint,omitempty"`
	PINAuth          []byte                     `cbor:"8,keyasint,omitempty"`
	PINProtocol      uint64                     `cbor:"9,keyasint,omitempty"`
}

// makeCredential implements authenticatorMakeCredential (§4.G).
func (a *Authenticator) makeCredential(ctx context.Context, req makeCredentialRequest) (rawCBOR, error) {
	provider, alg, err := a.selectProvider(req.PubKeyCredParams)
	if err != nil {
		return nil, err
	}

	uv, err := a.verifyPINAuthIfPresent(req.PINAuth, req.ClientDataHash)
	if err != nil {
		return nil, err
	}

	if _, err := a.requirePresence(ctx); err != nil {
		return nil, err
	}

	key, err := provider.GenerateKeyPair(a.Rand)
	if err != nil {
		return nil, NewError(ErrOther, fmt.Errorf("ctap2: generating key pair: %w", err))
	}

	source := &CredentialSource{
		Algorithm:  alg,
		PrivateKey: key,
		RPID:       req.RP.ID,
		User: UserEntity{
			ID:          req.User.ID,
			Name:        req.User.Name,
			DisplayName: req.User.DisplayName,
		},
		CreatedAt: time.Now(),
	}

	resident := (req.Options != nil && req.Options.RK) || a.Config.DefaultToRK
	if resident {
		id := make([]byte, storage.KeyIDLength)
		if _, err := a.Rand.Read(id); err != nil {
			return nil, NewError(ErrOther, fmt.Errorf("ctap2: generating credential id: %w", err))
		}
		source.ID = id
		priv, err := provider.MarshalPrivateKey(key)
		if err != nil {
			return nil, NewError(ErrOther, fmt.Errorf("ctap2: marshaling private key: %w", err))
		}
		rec := storage.CredentialRecord{
			RPID: req.RP.ID,
			User: storage.UserEntity{
				ID:          req.User.ID,
				Name:        req.User.Name,
				DisplayName: req.User.DisplayName,
			},
			Algorithm:    alg,
			PrivateKey:   priv,
			CredentialID: id,
			Counter:      0,
			CreatedAt:    source.CreatedAt.Unix(),
		}
		if err := a.Store.AddCredentialSource(rec); err != nil {
			return nil, NewError(ErrOther, fmt.Errorf("ctap2: persisting credential: %w", err))
		}
	} else {
		priv, err := provider.MarshalPrivateKey(key)
		if err != nil {
			return nil, NewError(ErrOther, fmt.Errorf("ctap2: marshaling private key: %w", err))
		}
		wrapKey, err := a.Store.WrappingKey()
		if err != nil {
			return nil, NewError(ErrOther, err)
		}
		blob, err := a.Wrapper.Wrap(wrapKey, wrap.Plaintext{
			Algorithm:  alg,
			PrivateKey: priv,
			RPID:       req.RP.ID,
			UserHandle: req.User.ID,
			Counter:    0,
			CreatedAt:  source.CreatedAt.Unix(),
		})
		if err != nil {
			return nil, NewError(ErrOther, fmt.Errorf("ctap2: wrapping credential: %w", err))
		}
		source.ID = blob
	}

	pub, err := source.PublicKey(a.Registry)
	if err != nil {
		return nil, NewError(ErrOther, err)
	}

	var aaguid [16]byte
	copy(aaguid[:], a.Config.AAGUID[:])

	authData, err := a.buildAuthData(req.RP.ID, true, uv, source.Counter, &attestation.AttestedCredentialData{
		AAGUID:       aaguid,
		CredentialID: source.ID,
		PublicKey:    pub,
	})
	if err != nil {
		return nil, NewError(ErrOther, err)
	}

	obj, err := attestation.SelfAttest(provider, key, authData, req.ClientDataHash)
	if err != nil {
		return nil, NewError(ErrOther, err)
	}
	return rawCBOR(obj), nil
}

// selectProvider walks credTypesAndPubKeyAlgs in order, returning the first
// algorithm both registered and allowed for this device instance.
func (a *Authenticator) selectProvider(params []credParam) (cose.Provider, int64, error) {
	for _, p := range params {
		if p.Type != "public-key" {
			continue
		}
		if !a.Config.algorithmAllowed(p.Alg) {
			continue
		}
		provider, ok := a.Registry.Lookup(p.Alg)
		if !ok {
			continue
		}
		return provider, p.Alg, nil
	}
	return nil, 0, NewError(ErrUnsupportedAlgorithm, fmt.Errorf("ctap2: no supported algorithm among %d candidates", len(params)))
}

// verifyPINAuthIfPresent verifies pinAuth over clientDataHash using the
// current pin token, returning whether UV was established. A PIN-less
// device (no pinAuth supplied) is allowed (§4.G).
func (a *Authenticator) verifyPINAuthIfPresent(pinAuth, clientDataHash []byte) (bool, error) {
	if len(pinAuth) == 0 {
		return false, nil
	}
	if a.PIN == nil {
		return false, NewError(ErrPINAuthInvalid, fmt.Errorf("ctap2: pin subsystem unavailable"))
	}
	if !pin.VerifyAuth(a.PIN.Token(), clientDataHash, pinAuth) {
		return false, NewError(ErrPINAuthInvalid, fmt.Errorf("ctap2: pinAuth mismatch"))
	}
	return true, nil
}

// requirePresence blocks on the user-presence capability.
func (a *Authenticator) requirePresence(ctx context.Context) (bool, error) {
	if a.Presence == nil {
		return true, nil
	}
	timeout := time.Duration(a.Config.PresenceTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var (
		result PresenceResult
		err    error
	)
	kaErr := a.withKeepalive(ctx, time.Second, func() error {
		result, err = a.Presence.Prompt(ctx, timeout)
		return err
	})
	if kaErr != nil {
		return false, NewError(ErrOther, kaErr)
	}
	switch result {
	case PresenceGranted:
		return true, nil
	case PresenceTimedOut:
		return false, NewError(ErrUserActionTimeout, fmt.Errorf("ctap2: presence prompt timed out"))
	default:
		return false, NewError(ErrNotAllowed, fmt.Errorf("ctap2: presence denied"))
	}
}
