package bridge

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"crossvault/message"
	"crossvault/vault"
)

func TestHTTPTransportDeliversEnvelope(t *testing.T) {
	user := common.HexToAddress("0x0000000000000000000000000000000000000005")
	env := &message.Envelope{
		Nonce:       9,
		User:        user,
		Kind:        message.KindDeposit,
		OriginChain: "alpha",
		Amount:      big.NewInt(123),
		Timestamp:   1_700_000_000,
	}
	env.ID = message.DeriveID("alpha", 9, user, message.KindDeposit, env.Amount, env.Timestamp)
	payload, err := message.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got inboundRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/receive" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sekrit" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewHTTPTransport("sekrit", big.NewInt(10))
	delivery := Delivery{
		Origin:      "alpha",
		OriginVault: common.HexToAddress("0x0000000000000000000000000000000000000a01"),
		Dest:        vault.Chain{Tag: "beta", Endpoint: server.URL},
		Payload:     payload,
	}
	if err := transport.Deliver(context.Background(), delivery); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if got.Origin != "alpha" {
		t.Fatalf("origin not forwarded: %+v", got)
	}
	raw, err := hexutil.Decode(got.Payload)
	if err != nil {
		t.Fatalf("decode payload hex: %v", err)
	}
	decoded, err := message.Decode(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if decoded.ID != env.ID || decoded.Amount.Cmp(env.Amount) != 0 {
		t.Fatalf("envelope did not survive the wire: %+v", decoded)
	}
}

func TestHTTPTransportSurfacesPeerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "replay rejected", http.StatusConflict)
	}))
	defer server.Close()

	transport := NewHTTPTransport("", nil)
	err := transport.Deliver(context.Background(), Delivery{
		Origin:  "alpha",
		Dest:    vault.Chain{Tag: "beta", Endpoint: server.URL},
		Payload: []byte{0x01},
	})
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestHTTPTransportRequiresEndpoint(t *testing.T) {
	transport := NewHTTPTransport("", nil)
	err := transport.Deliver(context.Background(), Delivery{
		Origin: "alpha",
		Dest:   vault.Chain{Tag: "beta"},
	})
	if err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
}
