package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"crossvault/message"
	"crossvault/state"
	"crossvault/storage"
	"crossvault/vault"
)

var (
	gwAuthority = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	gwAlpha     = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	gwBeta      = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	gwUser      = common.HexToAddress("0x0000000000000000000000000000000000000011")
)

func newTestServer(t *testing.T) (*httptest.Server, *vault.Engine) {
	t.Helper()
	registry := vault.NewRegistry(gwAuthority)
	for _, entry := range []vault.Chain{
		{Tag: "alpha", Vault: gwAlpha, Asset: "AAA"},
		{Tag: "beta", Vault: gwBeta, Asset: "BBB"},
	} {
		if err := registry.Register(gwAuthority, entry); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	engine := vault.NewEngine("alpha", registry, vault.RiskParameters{}, vault.PoolParameters{})
	engine.SetState(vault.NewStore(state.NewManager(storage.NewMemDB())))
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	server := httptest.NewServer(NewServer(engine, "sekrit", nil).Router())
	t.Cleanup(server.Close)
	return server, engine
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestAuthRequired(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/vault/deposit", "", actionRequest{
		User:   gwUser.Hex(),
		Amount: "100",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/v1/vault/deposit", "wrong", actionRequest{
		User:   gwUser.Hex(),
		Amount: "100",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDepositFlow(t *testing.T) {
	server, engine := newTestServer(t)
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/vault/deposit", "sekrit", actionRequest{
		User:   gwUser.Hex(),
		Amount: "2500",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var receipt receiptResponse
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Receipt == "" || receipt.Status != "accepted" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	pos, err := engine.GetPosition("alpha", gwUser)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos == nil || pos.Collateral.Cmp(big.NewInt(2500)) != 0 {
		t.Fatalf("deposit not recorded: %+v", pos)
	}
}

func TestActionValidation(t *testing.T) {
	server, _ := newTestServer(t)
	cases := []struct {
		name string
		body actionRequest
		want int
	}{
		{"bad address", actionRequest{User: "nope", Amount: "100"}, http.StatusBadRequest},
		{"bad amount", actionRequest{User: gwUser.Hex(), Amount: "12x"}, http.StatusBadRequest},
		{"zero amount", actionRequest{User: gwUser.Hex(), Amount: "0"}, http.StatusBadRequest},
		{"bad budget", actionRequest{User: gwUser.Hex(), Amount: "10", FeeBudget: "-1"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := doJSON(t, http.MethodPost, server.URL+"/v1/vault/deposit", "sekrit", tc.body)
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
	}
}

func TestGuardFailuresMapToConflict(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/vault/withdraw", "sekrit", actionRequest{
		User:   gwUser.Hex(),
		Amount: "100",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for over-withdraw, got %d", resp.StatusCode)
	}
}

func TestReceiveEndpoint(t *testing.T) {
	server, engine := newTestServer(t)
	env := &message.Envelope{
		Nonce:       1,
		User:        gwUser,
		Kind:        message.KindDeposit,
		OriginChain: "beta",
		Amount:      big.NewInt(600),
		Timestamp:   1_700_000_000,
	}
	env.ID = message.DeriveID("beta", 1, gwUser, message.KindDeposit, env.Amount, env.Timestamp)
	payload, err := message.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := receiveRequest{
		Origin:      "beta",
		OriginVault: gwBeta.Hex(),
		Payload:     hexutil.Encode(payload),
	}

	for i := 0; i < 2; i++ {
		resp := doJSON(t, http.MethodPost, server.URL+"/v1/receive", "sekrit", req)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
	pos, err := engine.GetPosition("beta", gwUser)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Collateral.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("inbound deposit must apply exactly once, got %s", pos.Collateral)
	}

	// A payload from an unregistered chain is refused.
	env.OriginChain = "delta"
	env.ID = message.DeriveID("delta", 1, gwUser, message.KindDeposit, env.Amount, env.Timestamp)
	payload, _ = message.Encode(env)
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/receive", "sekrit", receiveRequest{
		Origin:      "delta",
		OriginVault: gwBeta.Hex(),
		Payload:     hexutil.Encode(payload),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown origin, got %d", resp.StatusCode)
	}
}

func TestReceiveRequiresOriginVault(t *testing.T) {
	server, engine := newTestServer(t)
	env := &message.Envelope{
		Nonce:       1,
		User:        gwUser,
		Kind:        message.KindDeposit,
		OriginChain: "beta",
		Amount:      big.NewInt(600),
		Timestamp:   1_700_000_000,
	}
	env.ID = message.DeriveID("beta", 1, gwUser, message.KindDeposit, env.Amount, env.Timestamp)
	payload, err := message.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	hexPayload := hexutil.Encode(payload)

	cases := []struct {
		name  string
		vault string
		want  int
	}{
		{"missing", "", http.StatusBadRequest},
		{"zero address", common.Address{}.Hex(), http.StatusBadRequest},
		{"wrong vault", gwAlpha.Hex(), http.StatusForbidden},
	}
	for _, tc := range cases {
		resp := doJSON(t, http.MethodPost, server.URL+"/v1/receive", "sekrit", receiveRequest{
			Origin:      "beta",
			OriginVault: tc.vault,
			Payload:     hexPayload,
		})
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
	}
	pos, err := engine.GetPosition("beta", gwUser)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos != nil {
		t.Fatalf("rejected deliveries must not touch state, got %+v", pos)
	}
}

func TestPositionAndRiskViews(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/vault/deposit", "sekrit", actionRequest{
		User:   gwUser.Hex(),
		Amount: "1000",
	})
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/positions/%s", server.URL, gwUser.Hex()), "sekrit", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("positions: expected 200, got %d", resp.StatusCode)
	}
	var positions struct {
		TotalCollateral string         `json:"totalCollateral"`
		Chains          []positionView `json:"chains"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&positions); err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	if positions.TotalCollateral != "1000" || len(positions.Chains) != 1 {
		t.Fatalf("unexpected positions view: %+v", positions)
	}

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/risk/%s", server.URL, gwUser.Hex()), "sekrit", nil)
	defer resp.Body.Close()
	var risk map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&risk); err != nil {
		t.Fatalf("decode risk: %v", err)
	}
	if risk["creditLine"] != "700" {
		t.Fatalf("expected credit line 700, got %q", risk["creditLine"])
	}
	if risk["healthFactor"] != "max" {
		t.Fatalf("expected sentinel health factor, got %q", risk["healthFactor"])
	}
}

func TestPoolView(t *testing.T) {
	server, engine := newTestServer(t)
	if err := engine.Supply(context.Background(), gwUser, big.NewInt(5000), big.NewInt(0)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	resp := doJSON(t, http.MethodGet, server.URL+"/v1/pool/alpha", "sekrit", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var pool map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&pool); err != nil {
		t.Fatalf("decode pool: %v", err)
	}
	if pool["supplied"] != "5000" || pool["available"] != "5000" {
		t.Fatalf("unexpected pool view: %+v", pool)
	}
	if pool["supplyRate"] != "0.020000" {
		t.Fatalf("expected base supply rate, got %q", pool["supplyRate"])
	}
}
