// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

import "fmt"

// reset implements authenticatorReset (§4.G, §9): it clears all persisted
// state and regenerates the PIN subsystem's key-agreement key pair and PIN
// token, since both must never survive a reset.
func (a *Authenticator) reset() error {
	ok, err := a.Store.Reset()
	if err != nil {
		return NewError(ErrOther, err)
	}
	if !ok {
		return NewError(ErrNotAllowed, fmt.Errorf("ctap2: reset did not complete"))
	}

	if a.PIN != nil {
		if err := a.PIN.Regenerate(a.Rand); err != nil {
			return NewError(ErrOther, err)
		}
	}

	wrapKey, err := a.Wrapper.GenerateKey(a.Rand)
	if err != nil {
		return NewError(ErrOther, err)
	}
	if err := a.Store.SetWrappingKey(wrapKey); err != nil {
		return NewError(ErrOther, err)
	}

	a.pending = nil
	return nil
}
