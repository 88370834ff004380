package bridge

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crossvault/message"
	"crossvault/observability"
	"crossvault/vault"
)

// Broadcaster fans outbound envelopes to every registered peer. It implements
// the engine's outbound interface: the fee budget is verified against the full
// fan-out before the engine mutates anything, then split equally across
// destinations at send time.
type Broadcaster struct {
	localChain string
	localVault common.Address
	registry   *vault.Registry
	transport  Transport
	minFee     *big.Int
	metrics    *observability.VaultMetrics
	log        *slog.Logger
}

// NewBroadcaster constructs a broadcaster for the local chain. minFee is the
// per-destination floor; a nil or zero floor accepts any budget.
func NewBroadcaster(localChain string, localVault common.Address, registry *vault.Registry, transport Transport, minFee *big.Int) *Broadcaster {
	if minFee == nil {
		minFee = big.NewInt(0)
	}
	return &Broadcaster{
		localChain: localChain,
		localVault: localVault,
		registry:   registry,
		transport:  transport,
		minFee:     new(big.Int).Set(minFee),
		metrics:    observability.Vault(),
		log:        slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (b *Broadcaster) SetLogger(log *slog.Logger) {
	if log != nil {
		b.log = log
	}
}

// requiredFee sums the per-destination fee across the given peers. Each
// destination costs at least the configured floor; the transport may quote
// higher.
func (b *Broadcaster) requiredFee(peers []vault.Chain) *big.Int {
	total := big.NewInt(0)
	for _, peer := range peers {
		fee := b.minFee
		if b.transport != nil {
			if quoted := b.transport.EstimateFee(peer); quoted != nil && quoted.Cmp(fee) > 0 {
				fee = quoted
			}
		}
		total.Add(total, fee)
	}
	return total
}

// EnsureBudget verifies the budget covers a full fan-out excluding the given
// chain. Called by the engine before any state is written so an underfunded
// action fails whole.
func (b *Broadcaster) EnsureBudget(feeBudget *big.Int, exclude string) error {
	peers := b.registry.Peers(exclude)
	if len(peers) == 0 {
		return nil
	}
	required := b.requiredFee(peers)
	if required.Sign() == 0 {
		return nil
	}
	if feeBudget == nil || feeBudget.Cmp(required) < 0 {
		return vault.ErrInsufficientFeeBudget
	}
	return nil
}

// Broadcast encodes the envelope once and delivers it to every peer. The
// budget is re-checked here so a direct caller cannot bypass the guard.
func (b *Broadcaster) Broadcast(ctx context.Context, env *message.Envelope, feeBudget *big.Int) error {
	if b.transport == nil {
		return ErrNoTransport
	}
	peers := b.registry.Peers(b.localChain)
	if len(peers) == 0 {
		return nil
	}
	if err := b.EnsureBudget(feeBudget, b.localChain); err != nil {
		return err
	}
	payload, err := message.Encode(env)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		if err := b.deliver(ctx, env, peer, payload); err != nil {
			return err
		}
	}
	return nil
}

// Send delivers the envelope to a single named chain.
func (b *Broadcaster) Send(ctx context.Context, env *message.Envelope, destChain string, feeBudget *big.Int) error {
	if b.transport == nil {
		return ErrNoTransport
	}
	dest, ok := b.registry.Get(destChain)
	if !ok {
		return ErrUnknownDestination
	}
	required := b.requiredFee([]vault.Chain{dest})
	if required.Sign() > 0 && (feeBudget == nil || feeBudget.Cmp(required) < 0) {
		return vault.ErrInsufficientFeeBudget
	}
	payload, err := message.Encode(env)
	if err != nil {
		return err
	}
	return b.deliver(ctx, env, dest, payload)
}

func (b *Broadcaster) deliver(ctx context.Context, env *message.Envelope, dest vault.Chain, payload []byte) error {
	delivery := Delivery{
		Origin:      b.localChain,
		OriginVault: b.localVault,
		Dest:        dest,
		Payload:     payload,
	}
	if err := b.transport.Deliver(ctx, delivery); err != nil {
		b.log.Error("envelope delivery failed",
			"kind", env.Kind.String(),
			"destination", dest.Tag,
			"nonce", env.Nonce,
			"error", err,
		)
		return err
	}
	b.metrics.BroadcastsSent.WithLabelValues(env.Kind.String(), dest.Tag).Inc()
	b.log.Debug("envelope delivered",
		"kind", env.Kind.String(),
		"destination", dest.Tag,
		"nonce", env.Nonce,
	)
	return nil
}
