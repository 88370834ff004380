package vault

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"crossvault/state"
)

// Store persists vault records through the state manager. It implements the
// engine's persistence interface; tests substitute an in-memory mock.
type Store struct {
	st *state.Manager
}

// NewStore constructs a store bound to the provided state manager.
func NewStore(st *state.Manager) *Store {
	return &Store{st: st}
}

type storedPosition struct {
	User            common.Address
	Chain           string
	Collateral      *big.Int
	Borrowed        *big.Int
	Supplied        *big.Int
	SyncNonce       uint64
	SupplyAccruedAt uint64
}

type storedPool struct {
	Chain         string
	SuppliedTotal *big.Int
	UtilizedTotal *big.Int
	LastAccrual   uint64
}

type storedChain struct {
	Tag      string
	Vault    common.Address
	Endpoint string
	Asset    string
}

// GetPosition loads the recorded position for (user, chain), returning nil
// when none has been written yet.
func (s *Store) GetPosition(chain string, user common.Address) (*Position, error) {
	var stored storedPosition
	found, err := s.st.KVGet(positionKey(chain, user), &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &Position{
		User:            stored.User,
		Chain:           stored.Chain,
		Collateral:      zeroIfNil(stored.Collateral),
		Borrowed:        zeroIfNil(stored.Borrowed),
		Supplied:        zeroIfNil(stored.Supplied),
		SyncNonce:       stored.SyncNonce,
		SupplyAccruedAt: int64(stored.SupplyAccruedAt),
	}, nil
}

// PutPosition writes the position under its (user, chain) key.
func (s *Store) PutPosition(pos *Position) error {
	return s.st.KVPut(positionKey(pos.Chain, pos.User), storedPositionOf(pos))
}

func storedPositionOf(pos *Position) storedPosition {
	return storedPosition{
		User:            pos.User,
		Chain:           strings.TrimSpace(pos.Chain),
		Collateral:      zeroIfNil(pos.Collateral),
		Borrowed:        zeroIfNil(pos.Borrowed),
		Supplied:        zeroIfNil(pos.Supplied),
		SyncNonce:       pos.SyncNonce,
		SupplyAccruedAt: uint64(pos.SupplyAccruedAt),
	}
}

// HasProcessed reports whether the message id has already been applied.
func (s *Store) HasProcessed(id [32]byte) (bool, error) {
	return s.st.KVHas(processedKey(id))
}

// MarkProcessed records the message id in the append-only processed set.
func (s *Store) MarkProcessed(id [32]byte) error {
	return s.st.KVPut(processedKey(id), true)
}

// GetPool loads a chain's pool accounting, returning nil when absent.
func (s *Store) GetPool(chain string) (*Pool, error) {
	var stored storedPool
	found, err := s.st.KVGet(poolKey(chain), &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &Pool{
		Chain:         stored.Chain,
		SuppliedTotal: zeroIfNil(stored.SuppliedTotal),
		UtilizedTotal: zeroIfNil(stored.UtilizedTotal),
		LastAccrual:   int64(stored.LastAccrual),
	}, nil
}

// PutPool writes a chain's pool accounting.
func (s *Store) PutPool(pool *Pool) error {
	return s.st.KVPut(poolKey(pool.Chain), storedPoolOf(pool))
}

func storedPoolOf(pool *Pool) storedPool {
	return storedPool{
		Chain:         strings.TrimSpace(pool.Chain),
		SuppliedTotal: zeroIfNil(pool.SuppliedTotal),
		UtilizedTotal: zeroIfNil(pool.UtilizedTotal),
		LastAccrual:   uint64(pool.LastAccrual),
	}
}

// CommitMessage records a message's state effects together with its processed
// marker in one write batch. A nil position or pool skips that entry; a crash
// can never leave the effect applied with the id unmarked, or the reverse.
func (s *Store) CommitMessage(id [32]byte, pos *Position, pool *Pool) error {
	batch := s.st.NewBatch()
	if pos != nil {
		batch.KVPut(positionKey(pos.Chain, pos.User), storedPositionOf(pos))
	}
	if pool != nil {
		batch.KVPut(poolKey(pool.Chain), storedPoolOf(pool))
	}
	batch.KVPut(processedKey(id), true)
	return batch.Commit()
}

// NextNonce increments and returns the outbound message counter. The counter
// only ever moves forward so derived message ids stay unique per origin.
func (s *Store) NextNonce() (uint64, error) {
	var current uint64
	if _, err := s.st.KVGet(nonceKey, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.st.KVPut(nonceKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// LoadChains reads the persisted chain registry entries in registration order.
func (s *Store) LoadChains() ([]Chain, error) {
	var stored []storedChain
	if _, err := s.st.KVGet(registryKey, &stored); err != nil {
		return nil, err
	}
	chains := make([]Chain, 0, len(stored))
	for _, entry := range stored {
		chains = append(chains, Chain{
			Tag:      entry.Tag,
			Vault:    entry.Vault,
			Endpoint: entry.Endpoint,
			Asset:    entry.Asset,
		})
	}
	return chains, nil
}

// SaveChains persists the ordered chain registry.
func (s *Store) SaveChains(chains []Chain) error {
	stored := make([]storedChain, 0, len(chains))
	for _, entry := range chains {
		stored = append(stored, storedChain{
			Tag:      strings.TrimSpace(entry.Tag),
			Vault:    entry.Vault,
			Endpoint: strings.TrimSpace(entry.Endpoint),
			Asset:    strings.TrimSpace(entry.Asset),
		})
	}
	return s.st.KVPut(registryKey, stored)
}
