// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package storage

import (
	"bytes"
	"sync"
)

// Memory is an in-process Store backed by a mutex-guarded map. It is the
// test/demo double for Bolt — useful anywhere a real on-disk backend would
// be overkill, but it provides no crash consistency of its own beyond
// "the whole call holds the lock".
type Memory struct {
	mu          sync.Mutex
	initialized bool
	byRP        map[string][]CredentialRecord // insertion order, oldest first
	pin         []byte
	pinRetries  int
	wrappingKey []byte
}

var _ Store = (*Memory)(nil)

// NewMemory returns an uninitialized Memory store.
func NewMemory() *Memory {
	return &Memory{byRP: make(map[string][]CredentialRecord)}
}

// IsInitialized implements Store.
func (m *Memory) IsInitialized() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized, nil
}

// Init implements Store.
func (m *Memory) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	m.byRP = make(map[string][]CredentialRecord)
	m.pin = nil
	m.pinRetries = 8
	m.wrappingKey = nil
	return nil
}

// Reset implements Store.
func (m *Memory) Reset() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRP = make(map[string][]CredentialRecord)
	m.pin = nil
	m.pinRetries = 8
	m.wrappingKey = nil
	m.initialized = true
	return true, nil
}

// AddCredentialSource implements Store.
func (m *Memory) AddCredentialSource(rec CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	creds := m.byRP[rec.RPID]
	filtered := creds[:0:0]
	for _, existing := range creds {
		if bytes.Equal(existing.User.ID, rec.User.ID) {
			continue // replaced below
		}
		filtered = append(filtered, existing)
	}
	filtered = append(filtered, rec)
	m.byRP[rec.RPID] = filtered
	return nil
}

// CredentialSourcesByRP implements Store.
func (m *Memory) CredentialSourcesByRP(rpID string, allowList [][]byte) ([]CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	creds := m.byRP[rpID]
	out := make([]CredentialRecord, 0, len(creds))
	// Most recently added first: iterate insertion order in reverse.
	for i := len(creds) - 1; i >= 0; i-- {
		rec := creds[i]
		if len(allowList) > 0 && !containsID(allowList, rec.CredentialID) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func containsID(allowList [][]byte, id []byte) bool {
	for _, candidate := range allowList {
		if bytes.Equal(candidate, id) {
			return true
		}
	}
	return false
}

// PIN implements Store.
func (m *Memory) PIN() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pin == nil {
		return nil, nil
	}
	return append([]byte(nil), m.pin...), nil
}

// SetPIN implements Store.
func (m *Memory) SetPIN(hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pin = append([]byte(nil), hash...)
	return nil
}

// PINRetries implements Store.
func (m *Memory) PINRetries() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinRetries, nil
}

// SetPINRetries implements Store.
func (m *Memory) SetPINRetries(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinRetries = n
	return nil
}

// DecrementPINRetries implements Store.
func (m *Memory) DecrementPINRetries() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinRetries > 0 {
		m.pinRetries--
	}
	return m.pinRetries, nil
}

// HasWrappingKey implements Store.
func (m *Memory) HasWrappingKey() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wrappingKey != nil, nil
}

// WrappingKey implements Store.
func (m *Memory) WrappingKey() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.wrappingKey...), nil
}

// SetWrappingKey implements Store.
func (m *Memory) SetWrappingKey(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wrappingKey = append([]byte(nil), key...)
	return nil
}
