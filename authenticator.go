// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/silicon-key/ctap2/attestation"
	"github.com/silicon-key/ctap2/cose"
	"github.com/silicon-key/ctap2/pin"
	"github.com/silicon-key/ctap2/storage"
	"github.com/silicon-key/ctap2/wrap"
)

// CTAP2 command codes, the first byte of the CBOR request payload (§6).
const (
	CmdMakeCredential   byte = 0x01
	CmdGetAssertion     byte = 0x02
	CmdGetInfo          byte = 0x04
	CmdClientPIN        byte = 0x06
	CmdReset            byte = 0x07
	CmdGetNextAssertion byte = 0x08
	CmdBioEnrollment    byte = 0x09
)

// PresenceResult is the outcome of a UserPresence.Prompt call.
type PresenceResult int

const (
	PresenceDenied PresenceResult = iota
	PresenceGranted
	PresenceTimedOut
)

// UserPresence is the capability the dispatcher consults before any
// credential-producing or credential-asserting operation completes (§6).
type UserPresence interface {
	Prompt(ctx context.Context, timeout time.Duration) (PresenceResult, error)
}

// KeepAlive emits periodic liveness pings during a blocking operation so
// the transport layer can keep its channel open (§5).
type KeepAlive interface {
	Ping()
}

// Authenticator wires components A–F together behind the CTAP2 command
// dispatcher (component G). It is single-threaded cooperative per §5: the
// transport is responsible for serializing calls to Dispatch.
type Authenticator struct {
	Config Config

	Registry *cose.Registry
	Wrapper  wrap.Wrapper
	Store    storage.Store
	PIN      *pin.Protocol

	Presence  UserPresence
	Keepalive KeepAlive
	Rand      io.Reader

	log *slog.Logger

	// pending holds the GetAssertion candidate list for GetNextAssertion
	// (§4.G); it is cleared by any call that isn't GetNextAssertion itself.
	// pendingClientDataHash and pendingUV carry over the original
	// GetAssertion call's clientDataHash and UV result, since each
	// GetNextAssertion response must sign against them, not a fresh one.
	pending               []assertionCandidate
	pendingClientDataHash []byte
	pendingUV             bool
}

// New assembles an Authenticator from its collaborators. rand is the
// caller-supplied entropy source and is stored as given (New supplies no
// default for it); logger defaults to slog.Default() if nil.
func New(cfg Config, registry *cose.Registry, wrapper wrap.Wrapper, store storage.Store, pinProto *pin.Protocol, presence UserPresence, keepalive KeepAlive, rand io.Reader, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		Config:    cfg,
		Registry:  registry,
		Wrapper:   wrapper,
		Store:     store,
		PIN:       pinProto,
		Presence:  presence,
		Keepalive: keepalive,
		Rand:      rand,
		log:       logger,
	}
}

// Dispatch decodes and routes a single CTAP2 command. It is the only
// component that converts a *Error into a status byte (§7); every other
// component surfaces plain Go errors.
func (a *Authenticator) Dispatch(ctx context.Context, cmd byte, params cbor.RawMessage) (byte, []byte) {
	var (
		resp any
		err  error
	)

	if cmd != CmdGetNextAssertion {
		a.pending = nil
		a.pendingClientDataHash = nil
		a.pendingUV = false
	}

	switch cmd {
	case CmdMakeCredential:
		var req makeCredentialRequest
		if decErr := decodeParams(params, &req); decErr != nil {
			return a.status(NewError(ErrOther, decErr))
		}
		resp, err = a.makeCredential(ctx, req)
	case CmdGetAssertion:
		var req getAssertionRequest
		if decErr := decodeParams(params, &req); decErr != nil {
			return a.status(NewError(ErrOther, decErr))
		}
		resp, err = a.getAssertion(ctx, req)
	case CmdGetNextAssertion:
		resp, err = a.getNextAssertion(ctx)
	case CmdGetInfo:
		resp, err = a.getInfo()
	case CmdClientPIN:
		var req clientPINRequest
		if decErr := decodeParams(params, &req); decErr != nil {
			return a.status(NewError(ErrOther, decErr))
		}
		resp, err = a.clientPIN(req)
	case CmdReset:
		err = a.reset()
	default:
		err = NewError(ErrOther, fmt.Errorf("ctap2: unrecognized command 0x%02x", cmd))
	}

	if err != nil {
		a.log.Debug("ctap2 command failed", "cmd", cmd, "error", err)
		return a.status(err)
	}
	if resp == nil {
		return StatusOK, nil
	}
	// rawCBOR responses (the attestation object) are already a complete,
	// self-describing CBOR map and are returned verbatim.
	if raw, ok := resp.(rawCBOR); ok {
		return StatusOK, raw
	}
	out, encErr := cbor.Marshal(resp)
	if encErr != nil {
		a.log.Error("ctap2 response encode failed", "cmd", cmd, "error", encErr)
		return a.status(NewError(ErrOther, encErr))
	}
	return StatusOK, out
}

// rawCBOR marks a response that is already CBOR-encoded and must not be
// marshaled a second time.
type rawCBOR []byte

// status normalizes any error into a *Error and reads off its status byte.
func (a *Authenticator) status(err error) (byte, []byte) {
	ctapErr, ok := err.(*Error)
	if !ok {
		ctapErr = NewError(ErrOther, err)
	}
	return ctapErr.Status(), nil
}

func decodeParams(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := cbor.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("ctap2: decoding command parameters: %w", err)
	}
	return nil
}

// withKeepalive runs fn, pinging Keepalive every interval until fn returns.
// Grounded in the teacher's background-goroutine-with-defer-stop idiom for
// long-running service loops.
func (a *Authenticator) withKeepalive(ctx context.Context, interval time.Duration, fn func() error) error {
	if a.Keepalive == nil || interval <= 0 {
		return fn()
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Keepalive.Ping()
			}
		}
	}()
	defer close(done)
	return fn()
}

// buildAuthData assembles authenticator data for a credential, optionally
// including attested credential data.
func (a *Authenticator) buildAuthData(rpID string, up, uv bool, counter uint32, attested *attestation.AttestedCredentialData) ([]byte, error) {
	rpHash := sha256Sum(rpID)
	return attestation.Build(attestation.AuthenticatorData{
		RPIDHash:     rpHash,
		UserPresent:  up,
		UserVerified: uv,
		SignCount:    counter,
		Attested:     attested,
	})
}
