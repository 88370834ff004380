package bridge

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"crossvault/vault"
)

// MemoryTransport is an in-process hub connecting vault engines by chain tag.
// It backs multi-vault tests and local development clusters. In queued mode
// deliveries are buffered until drained, which lets a test reorder or
// duplicate them the way a real relayer might.
type MemoryTransport struct {
	mu       sync.Mutex
	handlers map[string]InboundHandler
	queued   bool
	queue    []Delivery
	fee      *big.Int
}

// NewMemoryTransport constructs an empty hub with a zero per-delivery fee.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{handlers: make(map[string]InboundHandler)}
}

// Register binds a handler to a chain tag.
func (m *MemoryTransport) Register(chain string, handler InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[chain] = handler
}

// SetFee sets the flat fee quoted per delivery.
func (m *MemoryTransport) SetFee(fee *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fee == nil {
		m.fee = nil
		return
	}
	m.fee = new(big.Int).Set(fee)
}

// SetQueued toggles buffered mode. Buffered deliveries are held until Drain or
// Flush.
func (m *MemoryTransport) SetQueued(queued bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = queued
}

// Deliver hands the payload to the destination handler, or buffers it in
// queued mode.
func (m *MemoryTransport) Deliver(_ context.Context, delivery Delivery) error {
	m.mu.Lock()
	if m.queued {
		m.queue = append(m.queue, delivery)
		m.mu.Unlock()
		return nil
	}
	handler := m.handlers[delivery.Dest.Tag]
	m.mu.Unlock()
	return m.dispatch(handler, delivery)
}

// EstimateFee quotes the flat configured fee regardless of destination.
func (m *MemoryTransport) EstimateFee(vault.Chain) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fee == nil {
		return nil
	}
	return new(big.Int).Set(m.fee)
}

// Drain removes and returns all buffered deliveries without dispatching them.
func (m *MemoryTransport) Drain() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.queue
	m.queue = nil
	return drained
}

// Flush dispatches all buffered deliveries in arrival order, stopping at the
// first failure.
func (m *MemoryTransport) Flush() error {
	for _, delivery := range m.Drain() {
		if err := m.Dispatch(delivery); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch hands a single delivery to its destination handler. Dispatching the
// same delivery more than once emulates an at-least-once relayer.
func (m *MemoryTransport) Dispatch(delivery Delivery) error {
	m.mu.Lock()
	handler := m.handlers[delivery.Dest.Tag]
	m.mu.Unlock()
	return m.dispatch(handler, delivery)
}

func (m *MemoryTransport) dispatch(handler InboundHandler, delivery Delivery) error {
	if handler == nil {
		return fmt.Errorf("bridge: no handler registered for chain %q", delivery.Dest.Tag)
	}
	return handler.Receive(delivery.Origin, delivery.OriginVault, delivery.Payload)
}
