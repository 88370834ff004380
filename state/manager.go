package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"crossvault/storage"
)

// Manager provides typed reads and writes over the raw key-value backend. All
// values are RLP encoded so the persisted layout stays canonical across
// backends.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	exists, err := m.db.Has(key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Batch collects RLP-encoded writes for one atomic commit against the backend.
// Encoding errors stick to the batch and surface at Commit.
type Batch struct {
	db  storage.Database
	ops storage.Batch
	err error
}

// NewBatch starts an empty write batch.
func (m *Manager) NewBatch() *Batch {
	return &Batch{db: m.db}
}

// KVPut queues the value under the supplied key using RLP encoding.
func (b *Batch) KVPut(key []byte, value interface{}) {
	if b.err != nil {
		return
	}
	if len(key) == 0 {
		b.err = fmt.Errorf("kv: key must not be empty")
		return
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		b.err = err
		return
	}
	b.ops.Put(key, encoded)
}

// Commit writes every queued entry in a single backend batch.
func (b *Batch) Commit() error {
	if b.err != nil {
		return b.err
	}
	return b.db.Write(&b.ops)
}

// KVHas reports whether the supplied key exists in state.
func (m *Manager) KVHas(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Has(key)
}
