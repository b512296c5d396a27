// Package credentials stores per-host secret material (SSH private keys,
// passphrases, TLS client certificates) encrypted at rest.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/cuemby/engineeye/pkg/enginerr"
)

// Store holds named secret blobs keyed by host ID and blob name.
type Store interface {
	Get(hostID, key string) ([]byte, error)
	Set(hostID, key string, value []byte) error
	Delete(hostID, key string) error
	DeleteHost(hostID string) error
}

// MemoryStore is an in-process Store with no persistence, useful for tests
// and for hosts configured entirely through environment-provided keys.
type MemoryStore struct {
	mu   sync.RWMutex
	blob map[string]map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blob: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(hostID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	host, ok := m.blob[hostID]
	if !ok {
		return nil, nil
	}
	v, ok := host[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Set(hostID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	host, ok := m.blob[hostID]
	if !ok {
		host = make(map[string][]byte)
		m.blob[hostID] = host
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	host[key] = cp
	return nil
}

func (m *MemoryStore) Delete(hostID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if host, ok := m.blob[hostID]; ok {
		delete(host, key)
	}
	return nil
}

func (m *MemoryStore) DeleteHost(hostID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blob, hostID)
	return nil
}

var credentialsBucket = []byte("credentials")

// BoltStore persists secrets in a bbolt database, each value sealed with
// AES-256-GCM under a single master key that the caller supplies; the key
// itself is never written to the database.
type BoltStore struct {
	db   *bbolt.DB
	aead cipher.AEAD
	mu   sync.Mutex
}

// NewBoltStore opens (or creates) the credentials bucket in db and prepares
// an AEAD cipher from masterKey, which must be exactly 32 bytes.
func NewBoltStore(db *bbolt.DB, masterKey []byte) (*BoltStore, error) {
	if len(masterKey) != 32 {
		return nil, enginerr.New(enginerr.InvalidConfiguration, "credentials master key must be 32 bytes")
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.InvalidConfiguration, "constructing aes cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.InvalidConfiguration, "constructing gcm aead", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ServerError, "creating credentials bucket", err)
	}

	return &BoltStore{db: db, aead: aead}, nil
}

func compositeKey(hostID, key string) []byte {
	buf := make([]byte, 0, len(hostID)+len(key)+1)
	buf = append(buf, []byte(hostID)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(key)...)
	return buf
}

func (b *BoltStore) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := b.aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 4+len(nonce)+len(sealed))
	binary.BigEndian.PutUint32(out[:4], uint32(len(nonce)))
	copy(out[4:], nonce)
	copy(out[4+len(nonce):], sealed)
	return out, nil
}

func (b *BoltStore) open(envelope []byte) ([]byte, error) {
	if len(envelope) < 4 {
		return nil, errors.New("credentials envelope too short")
	}
	nonceLen := binary.BigEndian.Uint32(envelope[:4])
	if int(4+nonceLen) > len(envelope) {
		return nil, errors.New("credentials envelope truncated")
	}
	nonce := envelope[4 : 4+nonceLen]
	ciphertext := envelope[4+nonceLen:]
	return b.aead.Open(nil, nonce, ciphertext, nil)
}

func (b *BoltStore) Get(hostID, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var envelope []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		v := bucket.Get(compositeKey(hostID, key))
		if v != nil {
			envelope = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ServerError, "reading credential", err)
	}
	if envelope == nil {
		return nil, nil
	}
	plaintext, err := b.open(envelope)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ServerError, fmt.Sprintf("decrypting credential %s/%s", hostID, key), err)
	}
	return plaintext, nil
}

func (b *BoltStore) Set(hostID, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	envelope, err := b.seal(value)
	if err != nil {
		return enginerr.Wrap(enginerr.ServerError, "encrypting credential", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		return bucket.Put(compositeKey(hostID, key), envelope)
	})
}

func (b *BoltStore) Delete(hostID, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		return bucket.Delete(compositeKey(hostID, key))
	})
}

func (b *BoltStore) DeleteHost(hostID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := append([]byte(hostID), 0)
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		c := bucket.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
