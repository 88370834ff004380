package bridge

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crossvault/vault"
)

var (
	// ErrNoTransport indicates the broadcaster was asked to send without a
	// transport wired in.
	ErrNoTransport = errors.New("bridge: transport not configured")
	// ErrUnknownDestination indicates a directed send named a chain the
	// registry does not know.
	ErrUnknownDestination = errors.New("bridge: destination chain not registered")
)

// Delivery is one envelope addressed to one destination chain. The origin
// fields let the receiving side authenticate the sender against its registry
// before decoding the payload.
type Delivery struct {
	Origin      string
	OriginVault common.Address
	Dest        vault.Chain
	Payload     []byte
}

// Transport moves encoded envelopes between vaults. Implementations are
// expected to be at-least-once: redelivery is safe because receivers
// deduplicate on message id.
type Transport interface {
	Deliver(ctx context.Context, delivery Delivery) error
	EstimateFee(dest vault.Chain) *big.Int
}

// InboundHandler is the receiving side of a transport. The vault engine
// satisfies it.
type InboundHandler interface {
	Receive(originChain string, originVault common.Address, payload []byte) error
}
