package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8551" || cfg.LocalChain != "local" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9000"
DataDir = "/var/lib/crossvault"
LocalChain = "alpha"
Environment = "prod"
Authority = "0x00000000000000000000000000000000000000AA"
SharedSecret = "sekrit"
MinFeeWei = "25000"

[Risk]
CollateralRatioBps = 6000
LiquidationThresholdBps = 7500
LiquidationBonusBps = 400
MaxQuoteAgeSeconds = 90

[Pool]
BaseRateBps = 150
SlopeBps = 900
BorrowMultiplierBps = 11000

[[Chains]]
Tag = "alpha"
Vault = "0x0000000000000000000000000000000000000a01"
Endpoint = "http://alpha:8551"
Asset = "aaa"

[[Chains]]
Tag = "beta"
Vault = "0x0000000000000000000000000000000000000b01"
Endpoint = "http://beta:8551"
Asset = "BBB"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LocalChain != "alpha" || cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	risk := cfg.RiskParameters()
	if risk.CollateralRatioBps != 6000 || risk.LiquidationThresholdBps != 7500 {
		t.Fatalf("unexpected risk params: %+v", risk)
	}
	if risk.MaxQuoteAge != 90*time.Second {
		t.Fatalf("unexpected quote age: %s", risk.MaxQuoteAge)
	}

	pool := cfg.PoolParameters()
	if pool.BaseRateBps != 150 || pool.BorrowMultiplierBps != 11000 {
		t.Fatalf("unexpected pool params: %+v", pool)
	}

	chains, err := cfg.ChainEntries()
	if err != nil {
		t.Fatalf("chain entries: %v", err)
	}
	if len(chains) != 2 || chains[0].Tag != "alpha" || chains[1].Endpoint != "http://beta:8551" {
		t.Fatalf("unexpected chains: %+v", chains)
	}
	if chains[0].Asset != "AAA" {
		t.Fatalf("asset symbols must be upper-cased, got %q", chains[0].Asset)
	}

	fee, err := cfg.MinFee()
	if err != nil {
		t.Fatalf("min fee: %v", err)
	}
	if fee.Cmp(big.NewInt(25_000)) != 0 {
		t.Fatalf("unexpected fee: %s", fee)
	}

	authority, err := cfg.AuthorityAddress()
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	if authority == ([20]byte{}) {
		t.Fatalf("authority not parsed")
	}
}

func TestLoadDefaultsForPartialConfig(t *testing.T) {
	path := writeConfig(t, `LocalChain = "alpha"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8551" || cfg.DataDir != "./crossvault-data" || cfg.Environment != "local" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	risk := cfg.RiskParameters()
	if risk.CollateralRatioBps != 7000 || risk.LiquidationThresholdBps != 8000 {
		t.Fatalf("normalised risk defaults missing: %+v", risk)
	}
}

func TestChainEntriesRejectBadAddress(t *testing.T) {
	path := writeConfig(t, `
[[Chains]]
Tag = "alpha"
Vault = "not-an-address"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.ChainEntries(); err == nil {
		t.Fatalf("expected error for invalid vault address")
	}
}

func TestMinFeeRejectsGarbage(t *testing.T) {
	cfg := &Config{MinFeeWei: "12abc"}
	if _, err := cfg.MinFee(); err == nil {
		t.Fatalf("expected error for malformed fee")
	}
	cfg.MinFeeWei = "-5"
	if _, err := cfg.MinFee(); err == nil {
		t.Fatalf("expected error for negative fee")
	}
}
