package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics records the message-plane activity of the vault: how many
// envelopes were broadcast, applied, or acknowledged without effect. Duplicate
// and stale counts are expected to be nonzero under an at-least-once transport
// and are tracked separately from hard rejections.
type VaultMetrics struct {
	BroadcastsSent    *prometheus.CounterVec
	MessagesApplied   *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	ResyncsRequested  prometheus.Counter
	InboundPayloadErr prometheus.Counter
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Vault returns the lazily-initialised metrics registry for the vault engine.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			BroadcastsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crossvault",
				Subsystem: "bridge",
				Name:      "broadcasts_total",
				Help:      "Envelopes handed to the transport, segmented by action kind and destination chain.",
			}, []string{"kind", "destination"}),
			MessagesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crossvault",
				Subsystem: "inbound",
				Name:      "applied_total",
				Help:      "Inbound envelopes that mutated local state, segmented by action kind and origin chain.",
			}, []string{"kind", "origin"}),
			MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crossvault",
				Subsystem: "inbound",
				Name:      "dropped_total",
				Help:      "Inbound envelopes acknowledged as no-ops (duplicates, stale increments).",
			}, []string{"reason"}),
			MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crossvault",
				Subsystem: "inbound",
				Name:      "rejected_total",
				Help:      "Inbound envelopes rejected outright, segmented by reason.",
			}, []string{"reason"}),
			ResyncsRequested: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crossvault",
				Subsystem: "bridge",
				Name:      "resyncs_total",
				Help:      "Manual reconcile requests that re-broadcast absolute state.",
			}),
			InboundPayloadErr: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crossvault",
				Subsystem: "gateway",
				Name:      "payload_errors_total",
				Help:      "Inbound payloads that failed to decode before reaching the processor.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.BroadcastsSent,
			vaultRegistry.MessagesApplied,
			vaultRegistry.MessagesDropped,
			vaultRegistry.MessagesRejected,
			vaultRegistry.ResyncsRequested,
			vaultRegistry.InboundPayloadErr,
		)
	})
	return vaultRegistry
}
