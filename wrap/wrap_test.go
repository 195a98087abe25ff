// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package wrap_test

import (
	"crypto/rand"
	"testing"

	"github.com/silicon-key/ctap2/wrap"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	w := wrap.NewAESGCMWrapper()
	key, err := w.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	src := wrap.Plaintext{
		Algorithm:  -7,
		PrivateKey: []byte("pretend-pkcs8-bytes"),
		RPID:       "example.com",
		UserHandle: []byte{0x01, 0x02, 0x03},
		Counter:    0,
		CreatedAt:  1700000000,
	}

	blob, err := w.Wrap(key, src)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	const storageKeyLength = 16
	if len(blob) <= storageKeyLength {
		t.Fatalf("wrapped blob length %d does not exceed storage-key threshold %d", len(blob), storageKeyLength)
	}

	got, err := w.Unwrap(key, blob)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if got != src {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, src)
	}
}

func TestUnwrapRejectsTamperedBlob(t *testing.T) {
	w := wrap.NewAESGCMWrapper()
	key, err := w.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	blob, err := w.Wrap(key, wrap.Plaintext{Algorithm: -7, RPID: "example.com"})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	for i := range blob {
		tampered := append([]byte(nil), blob...)
		tampered[i] ^= 0xFF
		if _, err := w.Unwrap(key, tampered); err == nil {
			t.Fatalf("expected unwrap of tampered byte %d to fail", i)
		}
	}
}

func TestUnwrapRejectsWrongKey(t *testing.T) {
	w := wrap.NewAESGCMWrapper()
	key1, _ := w.GenerateKey(rand.Reader)
	key2, _ := w.GenerateKey(rand.Reader)

	blob, err := w.Wrap(key1, wrap.Plaintext{Algorithm: -7, RPID: "example.com"})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if _, err := w.Unwrap(key2, blob); err == nil {
		t.Fatal("expected unwrap with wrong key to fail")
	}
}
