package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"crossvault/vault"
)

// inboundRequest is the wire form posted to a peer vault's receive endpoint.
type inboundRequest struct {
	Origin      string `json:"origin"`
	OriginVault string `json:"originVault"`
	Payload     string `json:"payload"`
}

// HTTPTransport delivers envelopes to peer vault gateways over HTTP. Requests
// carry a shared bearer token; the fee quote is a flat per-delivery amount
// covering the relayer's cost on the destination.
type HTTPTransport struct {
	client *http.Client
	token  string
	fee    *big.Int
}

// NewHTTPTransport constructs a transport using the shared token for peer
// authentication and the flat fee as the per-delivery quote.
func NewHTTPTransport(token string, fee *big.Int) *HTTPTransport {
	if fee == nil {
		fee = big.NewInt(0)
	}
	return &HTTPTransport{
		client: &http.Client{Timeout: 10 * time.Second},
		token:  strings.TrimSpace(token),
		fee:    new(big.Int).Set(fee),
	}
}

// SetClient overrides the underlying HTTP client, primarily for tests.
func (t *HTTPTransport) SetClient(client *http.Client) {
	if client != nil {
		t.client = client
	}
}

// Deliver posts the payload to the destination's receive endpoint.
func (t *HTTPTransport) Deliver(ctx context.Context, delivery Delivery) error {
	endpoint := strings.TrimRight(strings.TrimSpace(delivery.Dest.Endpoint), "/")
	if endpoint == "" {
		return fmt.Errorf("bridge: chain %q has no endpoint", delivery.Dest.Tag)
	}
	body, err := json.Marshal(inboundRequest{
		Origin:      delivery.Origin,
		OriginVault: delivery.OriginVault.Hex(),
		Payload:     hexutil.Encode(delivery.Payload),
	})
	if err != nil {
		return fmt.Errorf("bridge: marshal delivery: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/receive", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: deliver to %s: %w", delivery.Dest.Tag, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge: peer %s returned %d: %s", delivery.Dest.Tag, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// EstimateFee quotes the flat per-delivery fee.
func (t *HTTPTransport) EstimateFee(vault.Chain) *big.Int {
	return new(big.Int).Set(t.fee)
}
