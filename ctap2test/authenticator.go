// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2test

import (
	"fmt"
	"log/slog"

	"github.com/silicon-key/ctap2"
	"github.com/silicon-key/ctap2/cose"
	"github.com/silicon-key/ctap2/pin"
	"github.com/silicon-key/ctap2/storage"
	"github.com/silicon-key/ctap2/wrap"
)

// Authenticator bundles a ctap2.Authenticator with the fakes driving it, so
// a test can both call Dispatch and inspect what its fakes observed.
type Authenticator struct {
	*ctap2.Authenticator

	Presence  *Presence
	Keepalive *Keepalive
	Rand      *DeterministicRand
	Store     storage.Store
}

// New assembles a ctap2.Authenticator wired entirely to in-process fakes: an
// in-memory store, a default (ES256-only) COSE registry, an AES-GCM
// credential wrapper, a fresh PIN protocol, and presence/keepalive/rand
// fakes that default to "grant immediately".
func New(seed byte) (*Authenticator, error) {
	store := storage.NewMemory()
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("ctap2test: initializing store: %w", err)
	}

	rnd := NewDeterministicRand(seed)
	wrapper := wrap.NewAESGCMWrapper()
	wrapKey, err := wrapper.GenerateKey(rnd)
	if err != nil {
		return nil, fmt.Errorf("ctap2test: generating wrapping key: %w", err)
	}
	if err := store.SetWrappingKey(wrapKey); err != nil {
		return nil, fmt.Errorf("ctap2test: storing wrapping key: %w", err)
	}

	pinProto, err := pin.NewProtocol(rnd)
	if err != nil {
		return nil, fmt.Errorf("ctap2test: initializing pin protocol: %w", err)
	}

	presence := NewPresence()
	keepalive := &Keepalive{}

	auth := ctap2.New(
		ctap2.DefaultConfig(),
		cose.NewDefaultRegistry(),
		wrapper,
		store,
		pinProto,
		presence,
		keepalive,
		rnd,
		slog.Default(),
	)

	return &Authenticator{
		Authenticator: auth,
		Presence:      presence,
		Keepalive:     keepalive,
		Rand:          rnd,
		Store:         store,
	}, nil
}
