// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"errors"
	"fmt"

	"github.com/silicon-key/ctap2/cose"
	"github.com/silicon-key/ctap2/pin"
)

// ClientPIN sub-command codes (§4.E).
const (
	subCmdGetRetries      uint64 = 0x01
	subCmdGetKeyAgreement uint64 = 0x02
	subCmdSetPIN          uint64 = 0x03
	subCmdChangePIN       uint64 = 0x04
	subCmdGetPINToken     uint64 = 0x05
)

type clientPINRequest struct {
	PINProtocol  uint64   `cbor:"1,keyasint"`
	SubCommand   uint64   `cbor:"2,keyasint"`
	KeyAgreement cose.Key `cbor:"3,keyasint,omitempty"`
	PINAuth      []byte   `cbor:"4,keyasint,omitempty"`
	NewPINEnc    []byte   `cbor:"5,keyasint,omitempty"`
	PINHashEnc   []byte   `cbor:"6,keyasint,omitempty"`
}

type clientPINResponse struct {
	KeyAgreement cose.Key `cbor:"1,keyasint,omitempty"`
	PINToken     []byte   `cbor:"2,keyasint,omitempty"`
	Retries      int64    `cbor:"3,keyasint,omitempty"`
}

// clientPIN implements authenticatorClientPIN (§4.E, §4.G): it routes a
// sub-command to the pin.Protocol state machine or to a direct store/key
// agreement lookup.
func (a *Authenticator) clientPIN(req clientPINRequest) (any, error) {
	if a.PIN == nil {
		return nil, NewError(ErrPINNotSet, fmt.Errorf("ctap2: pin subsystem unavailable"))
	}

	switch req.SubCommand {
	case subCmdGetRetries:
		retries, err := a.Store.PINRetries()
		if err != nil {
			return nil, NewError(ErrOther, err)
		}
		return &clientPINResponse{Retries: int64(retries)}, nil

	case subCmdGetKeyAgreement:
		return &clientPINResponse{KeyAgreement: a.PIN.KeyAgreement()}, nil

	case subCmdSetPIN:
		if err := a.PIN.SetPIN(a.Store, req.KeyAgreement, req.NewPINEnc, req.PINAuth); err != nil {
			return nil, pinErrorToCTAP(err)
		}
		return nil, nil

	case subCmdChangePIN:
		if err := a.PIN.ChangePIN(a.Store, req.KeyAgreement, req.NewPINEnc, req.PINHashEnc, req.PINAuth); err != nil {
			return nil, pinErrorToCTAP(err)
		}
		return nil, nil

	case subCmdGetPINToken:
		tokenEnc, err := a.PIN.GetPINToken(a.Store, req.KeyAgreement, req.PINHashEnc)
		if err != nil {
			return nil, pinErrorToCTAP(err)
		}
		return &clientPINResponse{PINToken: tokenEnc}, nil

	default:
		return nil, NewError(ErrOther, fmt.Errorf("ctap2: unrecognized clientPIN sub-command %d", req.SubCommand))
	}
}

// pinErrorToCTAP maps a pin package sentinel error to its ErrorKind.
func pinErrorToCTAP(err error) *Error {
	switch {
	case errors.Is(err, pin.ErrPINAlreadySet):
		return NewError(ErrPINAuthInvalid, err)
	case errors.Is(err, pin.ErrPINNotSet):
		return NewError(ErrPINNotSet, err)
	case errors.Is(err, pin.ErrPINBlocked):
		return NewError(ErrPINBlocked, err)
	case errors.Is(err, pin.ErrPINInvalid):
		return NewError(ErrPINInvalid, err)
	case errors.Is(err, pin.ErrPolicyViolation):
		return NewError(ErrPINPolicyViolation, err)
	case errors.Is(err, pin.ErrPINAuthInvalid):
		return NewError(ErrPINAuthInvalid, err)
	default:
		return NewError(ErrOther, err)
	}
}
