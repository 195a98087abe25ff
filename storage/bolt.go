// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

// Bucket and key names for the Bolt-backed Store. Kept unexported: callers
// never see the on-disk layout, per §4.D ("format at the storage
// component's discretion").
var (
	bucketCredentials = []byte("credentials")
	bucketMeta        = []byte("meta")

	metaKeyInitialized = []byte("initialized")
	metaKeyPIN         = []byte("pin")
	metaKeyPINRetries  = []byte("pinRetries")
	metaKeyWrappingKey = []byte("wrappingKey")
)

// Bolt is a Store backed by a single go.etcd.io/bbolt database file. Every
// mutating method runs inside one bolt.Update transaction, so a crash mid
// write leaves the file in its pre- or post-transaction state, never a
// partial one — bbolt's own durability guarantee is exactly the atomicity
// §4.D/§6 require.
type Bolt struct {
	db *bolt.DB
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens (creating if necessary) a bbolt database at path and
// ensures both buckets exist.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: opening bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCredentials); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: preparing buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close closes the underlying database file.
func (b *Bolt) Close() error { return b.db.Close() }

func credentialKey(rpID string, userID []byte) []byte {
	key := make([]byte, 0, len(rpID)+1+len(userID))
	key = append(key, rpID...)
	key = append(key, 0x00)
	key = append(key, userID...)
	return key
}

// boltRecord adds an insertion sequence to CredentialRecord so
// CredentialSourcesByRP can return a deterministic most-recent-first order
// even though bbolt iterates buckets in key-sorted order.
type boltRecord struct {
	CredentialRecord
	Seq uint64
}

// IsInitialized implements Store.
func (b *Bolt) IsInitialized() (bool, error) {
	var initialized bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyInitialized)
		initialized = len(v) == 1 && v[0] == 1
		return nil
	})
	return initialized, err
}

// Init implements Store.
func (b *Bolt) Init() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketCredentials); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(bucketCredentials); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Delete(metaKeyPIN); err != nil {
			return err
		}
		if err := meta.Put(metaKeyPINRetries, encodeUint64(8)); err != nil {
			return err
		}
		if err := meta.Delete(metaKeyWrappingKey); err != nil {
			return err
		}
		return meta.Put(metaKeyInitialized, []byte{1})
	})
}

// Reset implements Store.
func (b *Bolt) Reset() (bool, error) {
	if err := b.Init(); err != nil {
		return false, err
	}
	return true, nil
}

// AddCredentialSource implements Store.
func (b *Bolt) AddCredentialSource(rec CredentialRecord) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCredentials)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		raw, err := cbor.Marshal(boltRecord{CredentialRecord: rec, Seq: seq})
		if err != nil {
			return fmt.Errorf("storage: encoding credential record: %w", err)
		}
		return bucket.Put(credentialKey(rec.RPID, rec.User.ID), raw)
	})
}

// CredentialSourcesByRP implements Store.
func (b *Bolt) CredentialSourcesByRP(rpID string, allowList [][]byte) ([]CredentialRecord, error) {
	prefix := append([]byte(rpID), 0x00)
	var matches []boltRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCredentials).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec boltRecord
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("storage: decoding credential record: %w", err)
			}
			if len(allowList) > 0 && !containsID(allowList, rec.CredentialID) {
				continue
			}
			matches = append(matches, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Seq > matches[j].Seq })
	out := make([]CredentialRecord, len(matches))
	for i, m := range matches {
		out[i] = m.CredentialRecord
	}
	return out, nil
}

// PIN implements Store.
func (b *Bolt) PIN() ([]byte, error) {
	var pin []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyPIN)
		if v != nil {
			pin = append([]byte(nil), v...)
		}
		return nil
	})
	return pin, err
}

// SetPIN implements Store.
func (b *Bolt) SetPIN(hash []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKeyPIN, hash)
	})
}

// PINRetries implements Store.
func (b *Bolt) PINRetries() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = int(decodeUint64(tx.Bucket(bucketMeta).Get(metaKeyPINRetries)))
		return nil
	})
	return n, err
}

// SetPINRetries implements Store.
func (b *Bolt) SetPINRetries(n int) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKeyPINRetries, encodeUint64(uint64(n)))
	})
}

// DecrementPINRetries implements Store.
func (b *Bolt) DecrementPINRetries() (int, error) {
	var n int
	err := b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		n = int(decodeUint64(meta.Get(metaKeyPINRetries)))
		if n > 0 {
			n--
		}
		return meta.Put(metaKeyPINRetries, encodeUint64(uint64(n)))
	})
	return n, err
}

// HasWrappingKey implements Store.
func (b *Bolt) HasWrappingKey() (bool, error) {
	var has bool
	err := b.db.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(bucketMeta).Get(metaKeyWrappingKey) != nil
		return nil
	})
	return has, err
}

// WrappingKey implements Store.
func (b *Bolt) WrappingKey() ([]byte, error) {
	var key []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyWrappingKey)
		key = append([]byte(nil), v...)
		return nil
	})
	return key, err
}

// SetWrappingKey implements Store.
func (b *Bolt) SetWrappingKey(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKeyWrappingKey, key)
	})
}

func encodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
