// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

// Package pin implements the CTAP2 PIN/UV Auth Protocol One: ECDH key
// agreement, shared-secret derivation, PIN transport encryption, PIN
// authentication, and the setPIN/changePIN/getPINToken state machines.
package pin

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/silicon-key/ctap2/cose"
	"github.com/silicon-key/ctap2/storage"
)

// TokenSize is the length in bytes of an issued PIN token.
const TokenSize = 16

// HashSize is the length in bytes of the stored/transported PIN hash.
const HashSize = 16

// InitialRetries is the retry counter value a freshly initialized or reset
// device starts with.
const InitialRetries = 8

// ecdhAlg is the COSE algorithm identifier for ECDH-ES+HKDF-256, used only
// to label the key-agreement public key; it is never passed to a cose.Provider
// since key agreement keys don't sign anything.
const ecdhAlg = -25

// Errors returned by the PIN state machines. The dispatcher (component G)
// maps these to CTAP status bytes; nothing in this package knows about the
// wire format.
var (
	ErrPINAlreadySet   = errors.New("pin: already set")
	ErrPINNotSet       = errors.New("pin: not set")
	ErrPINAuthInvalid  = errors.New("pin: auth invalid")
	ErrPINInvalid      = errors.New("pin: invalid")
	ErrPINBlocked      = errors.New("pin: retries exhausted")
	ErrPolicyViolation = errors.New("pin: policy violation")
)

// Protocol holds the authenticator's ephemeral key-agreement key pair and
// PIN token, generated once per device lifetime (process lifetime is
// acceptable per §3) and regenerated on Reset.
type Protocol struct {
	keyAgreement *ecdh.PrivateKey
	pinToken     []byte
}

// NewProtocol generates a fresh key-agreement key pair and PIN token using
// entropy from r.
func NewProtocol(r io.Reader) (*Protocol, error) {
	p := &Protocol{}
	if err := p.Regenerate(r); err != nil {
		return nil, err
	}
	return p, nil
}

// Regenerate creates a new key-agreement key pair and PIN token, discarding
// the old ones. Called at device start and again on Reset.
func (p *Protocol) Regenerate(r io.Reader) error {
	key, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return fmt.Errorf("pin: generating key agreement key: %w", err)
	}
	token := make([]byte, TokenSize)
	if _, err := io.ReadFull(r, token); err != nil {
		return fmt.Errorf("pin: generating pin token: %w", err)
	}
	p.keyAgreement = key
	p.pinToken = token
	return nil
}

// Token returns the current PIN token. Exposed for the dispatcher's
// per-request pinAuth verification (§4.G, "MakeCredential/GetAssertion
// pinAuth parameter").
func (p *Protocol) Token() []byte {
	return append([]byte(nil), p.pinToken...)
}

// KeyAgreement returns the device's ECDH public key as a COSE key map, for
// the getKeyAgreement sub-command.
func (p *Protocol) KeyAgreement() cose.Key {
	pub := p.keyAgreement.PublicKey().Bytes() // uncompressed: 0x04 || X || Y
	coord := (len(pub) - 1) / 2
	return cose.Key{
		cose.KtyLabel: int64(cose.KtyEC2),
		cose.AlgLabel: int64(ecdhAlg),
		cose.CrvLabel: int64(cose.CrvP256),
		cose.XLabel:   append([]byte(nil), pub[1:1+coord]...),
		cose.YLabel:   append([]byte(nil), pub[1+coord:]...),
	}
}

// SharedSecret performs ECDH against the platform's public key and returns
// SHA-256(x-coordinate), per §4.E.
func (p *Protocol) SharedSecret(platform cose.Key) ([]byte, error) {
	x, okX := platform.Bytes(cose.XLabel)
	y, okY := platform.Bytes(cose.YLabel)
	if !okX || !okY {
		return nil, fmt.Errorf("%w: platform key missing x/y coordinate", ErrPINAuthInvalid)
	}
	point := make([]byte, 0, 1+len(x)+len(y))
	point = append(point, 0x04)
	point = append(point, x...)
	point = append(point, y...)
	platformPub, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid platform key point: %v", ErrPINAuthInvalid, err)
	}
	// crypto/ecdh's ECDH on NIST curves returns exactly the x-coordinate,
	// which is what the CTAP2 shared-secret derivation calls for.
	x2, err := p.keyAgreement.ECDH(platformPub)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", ErrPINAuthInvalid, err)
	}
	secret := sha256.Sum256(x2)
	return secret[:], nil
}

// Encrypt implements the PIN transport cipher: AES-256-CBC with a zero IV.
// plaintext must be a multiple of the AES block size, true of every value
// CTAP2 passes through this cipher (64-byte padded PINs, 16-byte hashes,
// 16-byte tokens).
func Encrypt(secret, plaintext []byte) ([]byte, error) {
	block, iv, err := cbcBlock(secret)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("pin: plaintext length %d not a multiple of block size", len(plaintext))
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

// Decrypt is the inverse of Encrypt.
func Decrypt(secret, ciphertext []byte) ([]byte, error) {
	block, iv, err := cbcBlock(secret)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("pin: ciphertext length %d not a multiple of block size", len(ciphertext))
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

func cbcBlock(secret []byte) (cipher.Block, []byte, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("pin: %w", err)
	}
	return block, make([]byte, aes.BlockSize), nil
}

// Authenticate returns LEFT16(HMAC-SHA256(secret, message)), the pinAuth
// value for a given shared secret and message.
func Authenticate(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)[:16]
}

// VerifyAuth reports whether mac is the correct pinAuth for message under
// secret, using a constant-time comparison.
func VerifyAuth(secret, message, mac []byte) bool {
	expected := Authenticate(secret, message)
	return hmac.Equal(expected, mac)
}

// ExtractPIN recovers the UTF-8 PIN from a 64-byte zero-padded plaintext:
// the PIN ends at the first 0x00 byte. Returns ErrPolicyViolation if the
// result isn't valid UTF-8 or violates the 4-code-point minimum / 63-byte
// maximum length bounds.
func ExtractPIN(padded []byte) (string, error) {
	end := bytes.IndexByte(padded, 0x00)
	if end < 0 {
		end = len(padded)
	}
	raw := padded[:end]
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: pin is not valid UTF-8", ErrPolicyViolation)
	}
	pin := string(raw)
	if utf8.RuneCountInString(pin) < 4 {
		return "", fmt.Errorf("%w: pin shorter than 4 code points", ErrPolicyViolation)
	}
	if len(pin) > 63 {
		return "", fmt.Errorf("%w: pin longer than 63 bytes", ErrPolicyViolation)
	}
	return pin, nil
}

// HashPIN returns the storage form of a PIN: LEFT16(SHA-256(pin)).
func HashPIN(pin string) []byte {
	sum := sha256.Sum256([]byte(pin))
	return sum[:16]
}

// SetPIN implements the setPIN sub-command state machine (§4.E). Fails if a
// PIN is already set, the pinAuth doesn't verify, or the decrypted PIN
// violates the length policy. On success the PIN hash is stored.
func (p *Protocol) SetPIN(store storage.Store, platformKey cose.Key, newPinEnc, pinAuth []byte) error {
	existing, err := store.PIN()
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrPINAlreadySet
	}

	secret, err := p.SharedSecret(platformKey)
	if err != nil {
		return err
	}
	if !VerifyAuth(secret, newPinEnc, pinAuth) {
		return ErrPINAuthInvalid
	}

	padded, err := Decrypt(secret, newPinEnc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPINAuthInvalid, err)
	}
	pinStr, err := ExtractPIN(padded)
	if err != nil {
		return err
	}
	return store.SetPIN(HashPIN(pinStr))
}

// ChangePIN implements the changePIN sub-command state machine (§4.E). The
// retry counter is decremented before the provided hash is checked; a
// failed hash check never commits the new PIN.
func (p *Protocol) ChangePIN(store storage.Store, platformKey cose.Key, newPinEnc, pinHashEnc, pinAuth []byte) error {
	existing, err := store.PIN()
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrPINNotSet
	}

	secret, err := p.SharedSecret(platformKey)
	if err != nil {
		return err
	}
	message := append(append([]byte(nil), newPinEnc...), pinHashEnc...)
	if !VerifyAuth(secret, message, pinAuth) {
		return ErrPINAuthInvalid
	}

	if err := p.verifyPINHash(store, secret, pinHashEnc); err != nil {
		return err
	}

	padded, err := Decrypt(secret, newPinEnc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPINAuthInvalid, err)
	}
	pinStr, err := ExtractPIN(padded)
	if err != nil {
		return err
	}
	if err := store.SetPIN(HashPIN(pinStr)); err != nil {
		return err
	}
	return store.SetPINRetries(InitialRetries)
}

// GetPINToken implements the getPINToken sub-command state machine (§4.E):
// verify the platform knows the PIN by comparing pinHashEnc, then return
// the PIN token encrypted under the shared secret.
func (p *Protocol) GetPINToken(store storage.Store, platformKey cose.Key, pinHashEnc []byte) ([]byte, error) {
	existing, err := store.PIN()
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPINNotSet
	}

	secret, err := p.SharedSecret(platformKey)
	if err != nil {
		return nil, err
	}

	if err := p.verifyPINHash(store, secret, pinHashEnc); err != nil {
		return nil, err
	}
	if err := store.SetPINRetries(InitialRetries); err != nil {
		return nil, err
	}
	return Encrypt(secret, p.pinToken)
}

// verifyPINHash is the shared retry-bookkeeping + hash-comparison step of
// ChangePIN and GetPINToken. If the retry counter is already at zero it
// returns ErrPINBlocked without decrementing further or attempting to
// decrypt pinHashEnc — the retry-counter lockout escalation beyond this
// point is explicitly out of scope (spec §9).
func (p *Protocol) verifyPINHash(store storage.Store, secret, pinHashEnc []byte) error {
	retries, err := store.PINRetries()
	if err != nil {
		return err
	}
	if retries <= 0 {
		return ErrPINBlocked
	}
	if _, err := store.DecrementPINRetries(); err != nil {
		return err
	}

	decrypted, err := Decrypt(secret, pinHashEnc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPINInvalid, err)
	}
	stored, err := store.PIN()
	if err != nil {
		return err
	}
	if len(decrypted) < HashSize || len(stored) < HashSize || !hmac.Equal(decrypted[:HashSize], stored[:HashSize]) {
		return ErrPINInvalid
	}
	return nil
}
