package vault

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry tracks the chains participating in the vault network: an ordered
// list of chain tags with the peer vault address trusted on each. Entries are
// append-only after setup and writes are gated on the configured authority so
// a peer vault cannot be silently repointed.
type Registry struct {
	mu        sync.RWMutex
	authority common.Address
	chains    []Chain
	index     map[string]int
}

// NewRegistry constructs an empty registry whose writes require the supplied
// authority address.
func NewRegistry(authority common.Address) *Registry {
	return &Registry{
		authority: authority,
		index:     make(map[string]int),
	}
}

// Register appends a chain to the registry. Only the authority may register
// and existing tags are never overwritten.
func (r *Registry) Register(caller common.Address, chain Chain) error {
	if r == nil {
		return ErrNotAuthorized
	}
	if caller != r.authority {
		return ErrNotAuthorized
	}
	tag := strings.TrimSpace(chain.Tag)
	if tag == "" || chain.Vault == (common.Address{}) {
		return ErrInvalidChain
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[tag]; exists {
		return ErrChainExists
	}
	entry := chain
	entry.Tag = tag
	entry.Endpoint = strings.TrimSpace(chain.Endpoint)
	entry.Asset = strings.ToUpper(strings.TrimSpace(chain.Asset))
	r.index[tag] = len(r.chains)
	r.chains = append(r.chains, entry)
	return nil
}

// Has reports whether a chain tag is registered.
func (r *Registry) Has(tag string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[strings.TrimSpace(tag)]
	return ok
}

// Get returns the registered chain for the tag.
func (r *Registry) Get(tag string) (Chain, bool) {
	if r == nil {
		return Chain{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.index[strings.TrimSpace(tag)]
	if !ok {
		return Chain{}, false
	}
	return r.chains[idx], true
}

// Chains returns all registered chains in registration order.
func (r *Registry) Chains() []Chain {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Chain{}, r.chains...)
}

// Peers returns every registered chain except the excluded tag, preserving
// registration order. This is the broadcast fan-out set.
func (r *Registry) Peers(exclude string) []Chain {
	if r == nil {
		return nil
	}
	needle := strings.TrimSpace(exclude)
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]Chain, 0, len(r.chains))
	for _, chain := range r.chains {
		if chain.Tag == needle {
			continue
		}
		peers = append(peers, chain)
	}
	return peers
}

// Restore seeds the registry from persisted entries, bypassing the authority
// gate. Used only while loading state at startup.
func (r *Registry) Restore(chains []Chain) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains = r.chains[:0]
	r.index = make(map[string]int, len(chains))
	for _, chain := range chains {
		tag := strings.TrimSpace(chain.Tag)
		if tag == "" {
			continue
		}
		if _, exists := r.index[tag]; exists {
			continue
		}
		entry := chain
		entry.Tag = tag
		r.index[tag] = len(r.chains)
		r.chains = append(r.chains, entry)
	}
}
