// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

// Package ctap2test provides an in-process test harness for exercising a
// ctap2.Authenticator without a real transport or a real user: a fake
// presence prompt that always grants (or can be told not to), a no-op
// keepalive sink, and a deterministic entropy source so fixtures are
// reproducible.
package ctap2test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/silicon-key/ctap2"
)

// Presence is a scriptable ctap2.UserPresence. By default every Prompt call
// grants immediately; call Script to queue different outcomes for the next
// calls, or Delay to make every later call wait before resolving.
type Presence struct {
	grant   []ctap2.PresenceResult
	delay   time.Duration
	Prompts int
}

// NewPresence returns a Presence that grants every prompt immediately.
func NewPresence() *Presence {
	return &Presence{}
}

// Script queues outcomes to return in order; once exhausted, Prompt grants.
func (p *Presence) Script(results ...ctap2.PresenceResult) {
	p.grant = append(p.grant, results...)
}

// Delay makes every subsequent Prompt call sleep d before resolving,
// exercising the KeepAlive path.
func (p *Presence) Delay(d time.Duration) {
	p.delay = d
}

// Prompt implements ctap2.UserPresence.
func (p *Presence) Prompt(ctx context.Context, timeout time.Duration) (ctap2.PresenceResult, error) {
	p.Prompts++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctap2.PresenceDenied, ctx.Err()
		}
	}
	if len(p.grant) == 0 {
		return ctap2.PresenceGranted, nil
	}
	next := p.grant[0]
	p.grant = p.grant[1:]
	return next, nil
}

// Keepalive is a ctap2.KeepAlive that counts pings instead of forwarding
// them anywhere.
type Keepalive struct {
	Pings int
}

// Ping implements ctap2.KeepAlive.
func (k *Keepalive) Ping() {
	k.Pings++
}

// DeterministicRand is an io.Reader that produces the same byte stream
// every run, seeded from a counter rather than real entropy. It exists so
// fixtures (credential IDs, PIN tokens, key material) are reproducible
// across test runs without needing crypto/rand.
type DeterministicRand struct {
	seed    byte
	counter uint64
}

// NewDeterministicRand returns a DeterministicRand seeded with seed.
func NewDeterministicRand(seed byte) *DeterministicRand {
	return &DeterministicRand{seed: seed}
}

// Read fills p with a seeded, counter-incrementing byte stream. It never
// errors and always fills p completely, per io.Reader's "full read" idiom
// used throughout the PIN and wrap packages.
func (d *DeterministicRand) Read(p []byte) (int, error) {
	for i := range p {
		d.counter++
		p[i] = byte(d.counter) ^ d.seed
	}
	return len(p), nil
}

// NewUserHandle returns a fresh random user handle, stamped with a UUID so
// fixtures are easy to tell apart in test failure output.
func NewUserHandle() []byte {
	id := uuid.New()
	return []byte(fmt.Sprintf("user-%s", id.String()))
}
