// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package ctap2

import "fmt"

// ErrorKind classifies a dispatcher-level failure, independent of the CTAP
// status byte it maps to — see Status.
type ErrorKind int

const (
	// ErrOther is an unclassified internal failure.
	ErrOther ErrorKind = iota
	// ErrNoCredentials means GetAssertion found zero matching credentials.
	ErrNoCredentials
	// ErrNotAllowed means an index was exhausted or the operation is
	// disallowed by current state.
	ErrNotAllowed
	// ErrPINInvalid means the decrypted PIN hash mismatched.
	ErrPINInvalid
	// ErrPINBlocked means the retry counter is at zero.
	ErrPINBlocked
	// ErrPINAuthInvalid means an HMAC check failed or an ordering
	// precondition was violated.
	ErrPINAuthInvalid
	// ErrPINNotSet means an operation required a PIN that isn't set.
	ErrPINNotSet
	// ErrPINRequired means an operation required a PIN but none was
	// supplied.
	ErrPINRequired
	// ErrPINPolicyViolation means the PIN failed the length policy.
	ErrPINPolicyViolation
	// ErrUnsupportedAlgorithm means no registered provider matches any
	// requested algorithm.
	ErrUnsupportedAlgorithm
	// ErrInvalidCredential means a credential unwrap or decode failed.
	ErrInvalidCredential
	// ErrUserActionTimeout means the user-presence prompt expired.
	ErrUserActionTimeout
)

// ctapStatus maps each ErrorKind to its CTAP status byte, per §7.
var ctapStatus = map[ErrorKind]byte{
	ErrOther:                0x25,
	ErrInvalidCredential:    0x22,
	ErrUnsupportedAlgorithm: 0x26,
	ErrUserActionTimeout:    0x27,
	ErrNoCredentials:        0x2E,
	ErrNotAllowed:           0x30,
	ErrPINInvalid:           0x31,
	ErrPINBlocked:           0x32,
	ErrPINAuthInvalid:       0x33,
	ErrPINNotSet:            0x35,
	ErrPINRequired:          0x36,
	ErrPINPolicyViolation:   0x37,
}

// Error is the dispatcher's typed error: a classification plus the
// underlying cause. Only the command dispatcher (component G) constructs
// these — errors from every other component surface unchanged until they
// reach it, per §7's propagation rule.
type Error struct {
	Kind  ErrorKind
	Cause error
}

// NewError wraps cause with kind.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("ctap2: %s", e.Kind)
	}
	return fmt.Sprintf("ctap2: %s: %v", e.Kind, e.Cause)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Status returns the CTAP2 status byte for this error's Kind.
func (e *Error) Status() byte {
	if code, ok := ctapStatus[e.Kind]; ok {
		return code
	}
	return ctapStatus[ErrOther]
}

// StatusOK is the success status byte: no error, remaining bytes are a
// CBOR response map.
const StatusOK byte = 0x00

func (k ErrorKind) String() string {
	switch k {
	case ErrNoCredentials:
		return "no_credentials"
	case ErrNotAllowed:
		return "not_allowed"
	case ErrPINInvalid:
		return "pin_invalid"
	case ErrPINBlocked:
		return "pin_blocked"
	case ErrPINAuthInvalid:
		return "pin_auth_invalid"
	case ErrPINNotSet:
		return "pin_not_set"
	case ErrPINRequired:
		return "pin_required"
	case ErrPINPolicyViolation:
		return "pin_policy_violation"
	case ErrUnsupportedAlgorithm:
		return "unsupported_algorithm"
	case ErrInvalidCredential:
		return "invalid_credential"
	case ErrUserActionTimeout:
		return "user_action_timeout"
	default:
		return "other"
	}
}
