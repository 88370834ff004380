package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crossvault/state"
	"crossvault/storage"
	"crossvault/vault"
)

var (
	clusterAuthority = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	clusterVaults    = map[string]common.Address{
		"alpha": common.HexToAddress("0x0000000000000000000000000000000000000a01"),
		"beta":  common.HexToAddress("0x0000000000000000000000000000000000000b01"),
		"gamma": common.HexToAddress("0x0000000000000000000000000000000000000c01"),
	}
	carol  = common.HexToAddress("0x0000000000000000000000000000000000000007")
	budget = big.NewInt(1_000_000)
)

type cluster struct {
	engines   map[string]*vault.Engine
	transport *MemoryTransport
}

// newCluster wires one engine per chain tag to a shared in-memory hub, each
// with its own registry copy and LevelDB-shaped store.
func newCluster(t *testing.T, tags ...string) *cluster {
	t.Helper()
	transport := NewMemoryTransport()
	c := &cluster{engines: make(map[string]*vault.Engine), transport: transport}
	for _, tag := range tags {
		registry := vault.NewRegistry(clusterAuthority)
		for _, entry := range tags {
			err := registry.Register(clusterAuthority, vault.Chain{Tag: entry, Vault: clusterVaults[entry]})
			if err != nil {
				t.Fatalf("register %s on %s: %v", entry, tag, err)
			}
		}
		engine := vault.NewEngine(tag, registry, vault.RiskParameters{}, vault.PoolParameters{})
		engine.SetState(vault.NewStore(state.NewManager(storage.NewMemDB())))
		engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
		engine.SetOutbound(NewBroadcaster(tag, clusterVaults[tag], registry, transport, nil))
		transport.Register(tag, engine)
		c.engines[tag] = engine
	}
	return c
}

func TestDepositPropagatesToAllPeers(t *testing.T) {
	c := newCluster(t, "alpha", "beta", "gamma")
	if err := c.engines["alpha"].Deposit(context.Background(), carol, big.NewInt(750), budget); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	for _, tag := range []string{"alpha", "beta", "gamma"} {
		pos, err := c.engines[tag].GetPosition("alpha", carol)
		if err != nil {
			t.Fatalf("get position on %s: %v", tag, err)
		}
		if pos == nil || pos.Collateral.Cmp(big.NewInt(750)) != 0 {
			t.Fatalf("chain %s does not mirror the deposit: %+v", tag, pos)
		}
	}
}

func TestDuplicateDeliveriesConverge(t *testing.T) {
	c := newCluster(t, "alpha", "beta")
	c.transport.SetQueued(true)
	if err := c.engines["alpha"].Deposit(context.Background(), carol, big.NewInt(300), budget); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	deliveries := c.transport.Drain()
	if len(deliveries) != 1 {
		t.Fatalf("expected one queued delivery, got %d", len(deliveries))
	}
	for i := 0; i < 3; i++ {
		if err := c.transport.Dispatch(deliveries[0]); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	pos, err := c.engines["beta"].GetPosition("alpha", carol)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Collateral.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("duplicates must apply once, got %s", pos.Collateral)
	}
}

func TestReconcileHealsDivergedMirror(t *testing.T) {
	c := newCluster(t, "alpha", "beta")
	alphaEngine := c.engines["alpha"]

	// Deposit lands everywhere, then a withdraw is lost in transit so the
	// mirrors diverge.
	if err := alphaEngine.Deposit(context.Background(), carol, big.NewInt(1000), budget); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	c.transport.SetQueued(true)
	if err := alphaEngine.Withdraw(context.Background(), carol, big.NewInt(400), budget); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	c.transport.Drain()
	c.transport.SetQueued(false)

	pos, _ := c.engines["beta"].GetPosition("alpha", carol)
	if pos.Collateral.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("mirror should still show the stale balance, got %s", pos.Collateral)
	}

	if err := alphaEngine.Reconcile(context.Background(), carol, "beta", budget); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	pos, _ = c.engines["beta"].GetPosition("alpha", carol)
	if pos.Collateral.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("reconcile must heal the mirror, got %s", pos.Collateral)
	}
}

func TestStaleIncrementAfterReconcile(t *testing.T) {
	c := newCluster(t, "alpha", "beta")
	alphaEngine := c.engines["alpha"]

	// Hold a deposit in transit, reconcile past it, then let it arrive late.
	c.transport.SetQueued(true)
	if err := alphaEngine.Deposit(context.Background(), carol, big.NewInt(500), budget); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	late := c.transport.Drain()
	c.transport.SetQueued(false)

	if err := alphaEngine.Reconcile(context.Background(), carol, "", budget); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	pos, _ := c.engines["beta"].GetPosition("alpha", carol)
	if pos.Collateral.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("reconcile must carry the deposit, got %s", pos.Collateral)
	}

	for _, delivery := range late {
		if err := c.transport.Dispatch(delivery); err != nil {
			t.Fatalf("late dispatch: %v", err)
		}
	}
	pos, _ = c.engines["beta"].GetPosition("alpha", carol)
	if pos.Collateral.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("stale increment must not double count, got %s", pos.Collateral)
	}
}

func TestBorrowAgainstRemoteCollateralEndToEnd(t *testing.T) {
	c := newCluster(t, "alpha", "beta")
	if err := c.engines["beta"].Supply(context.Background(), carol, big.NewInt(10_000), budget); err != nil {
		t.Fatalf("supply on beta: %v", err)
	}
	if err := c.engines["alpha"].Deposit(context.Background(), carol, big.NewInt(1000), budget); err != nil {
		t.Fatalf("deposit on alpha: %v", err)
	}
	// Collateral sits on alpha; the loan is drawn on beta within 70%.
	if err := c.engines["beta"].Borrow(context.Background(), carol, big.NewInt(700), budget); err != nil {
		t.Fatalf("borrow on beta: %v", err)
	}
	if err := c.engines["beta"].Borrow(context.Background(), carol, big.NewInt(1), budget); !errors.Is(err, vault.ErrExceedsCreditLine) {
		t.Fatalf("expected ErrExceedsCreditLine, got %v", err)
	}
	// Alpha mirrors the debt, so a withdraw that would strand it is refused.
	if err := c.engines["alpha"].Withdraw(context.Background(), carol, big.NewInt(500), budget); !errors.Is(err, vault.ErrHealthCheckFailed) {
		t.Fatalf("expected ErrHealthCheckFailed on alpha, got %v", err)
	}
}

func TestFeeBudgetCoversEveryDestination(t *testing.T) {
	c := newCluster(t, "alpha", "beta", "gamma")
	c.transport.SetFee(big.NewInt(100))

	// Two destinations at 100 each: 199 is short, nothing may change.
	err := c.engines["alpha"].Deposit(context.Background(), carol, big.NewInt(50), big.NewInt(199))
	if !errors.Is(err, vault.ErrInsufficientFeeBudget) {
		t.Fatalf("expected ErrInsufficientFeeBudget, got %v", err)
	}
	pos, _ := c.engines["alpha"].GetPosition("alpha", carol)
	if pos != nil {
		t.Fatalf("underfunded deposit must not mutate state: %+v", pos)
	}

	if err := c.engines["alpha"].Deposit(context.Background(), carol, big.NewInt(50), big.NewInt(200)); err != nil {
		t.Fatalf("funded deposit: %v", err)
	}
	pos, _ = c.engines["gamma"].GetPosition("alpha", carol)
	if pos == nil || pos.Collateral.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("funded deposit must reach gamma: %+v", pos)
	}
}

func TestBroadcasterRejectsUnknownDestination(t *testing.T) {
	c := newCluster(t, "alpha", "beta")
	err := c.engines["alpha"].Reconcile(context.Background(), carol, "delta", budget)
	if !errors.Is(err, vault.ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestCollateralConservationUnderChurn(t *testing.T) {
	c := newCluster(t, "alpha", "beta", "gamma")
	ctx := context.Background()
	if err := c.engines["alpha"].Deposit(ctx, carol, big.NewInt(1000), budget); err != nil {
		t.Fatalf("deposit alpha: %v", err)
	}
	if err := c.engines["beta"].Deposit(ctx, carol, big.NewInt(500), budget); err != nil {
		t.Fatalf("deposit beta: %v", err)
	}
	if err := c.engines["alpha"].Withdraw(ctx, carol, big.NewInt(250), budget); err != nil {
		t.Fatalf("withdraw alpha: %v", err)
	}
	// Every vault's aggregate view must agree once deliveries settle.
	want := big.NewInt(1250)
	for tag, engine := range c.engines {
		total, err := engine.TotalCollateral(carol)
		if err != nil {
			t.Fatalf("total on %s: %v", tag, err)
		}
		if total.Cmp(want) != 0 {
			t.Fatalf("chain %s sees %s total collateral, want %s", tag, total, want)
		}
	}
}
