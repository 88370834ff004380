package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"crossvault/vault"
)

// ChainConfig describes one participating chain: its tag, the peer vault
// contract trusted on it, the transport endpoint, and the collateral asset
// symbol used for valuation.
type ChainConfig struct {
	Tag      string `toml:"Tag"`
	Vault    string `toml:"Vault"`
	Endpoint string `toml:"Endpoint"`
	Asset    string `toml:"Asset"`
}

// RiskConfig carries the borrowing safety limits in basis points.
type RiskConfig struct {
	CollateralRatioBps      uint64 `toml:"CollateralRatioBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	MaxQuoteAgeSeconds      uint64 `toml:"MaxQuoteAgeSeconds"`
}

// PoolConfig shapes the liquidity pool interest curve.
type PoolConfig struct {
	BaseRateBps         uint64 `toml:"BaseRateBps"`
	SlopeBps            uint64 `toml:"SlopeBps"`
	BorrowMultiplierBps uint64 `toml:"BorrowMultiplierBps"`
}

type Config struct {
	ListenAddress string        `toml:"ListenAddress"`
	DataDir       string        `toml:"DataDir"`
	LocalChain    string        `toml:"LocalChain"`
	Environment   string        `toml:"Environment"`
	Authority     string        `toml:"Authority"`
	SharedSecret  string        `toml:"SharedSecret"`
	MinFeeWei     string        `toml:"MinFeeWei"`
	LogFilePath   string        `toml:"LogFilePath"`
	Pricing       string        `toml:"Pricing"`
	Risk          RiskConfig    `toml:"Risk"`
	Pool          PoolConfig    `toml:"Pool"`
	Chains        []ChainConfig `toml:"Chains"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8551"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./crossvault-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.Chains == nil {
		cfg.Chains = []ChainConfig{}
	}
	if strings.TrimSpace(cfg.Pricing) == "" {
		cfg.Pricing = "none"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8551",
		DataDir:       "./crossvault-data",
		LocalChain:    "local",
		Environment:   "local",
		Pricing:       "none",
		Chains:        []ChainConfig{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

// RiskParameters converts the configured limits into engine parameters.
// Unset values pick up the engine defaults through Normalise.
func (c *Config) RiskParameters() vault.RiskParameters {
	return vault.RiskParameters{
		CollateralRatioBps:      c.Risk.CollateralRatioBps,
		LiquidationThresholdBps: c.Risk.LiquidationThresholdBps,
		LiquidationBonusBps:     c.Risk.LiquidationBonusBps,
		MaxQuoteAge:             time.Duration(c.Risk.MaxQuoteAgeSeconds) * time.Second,
	}.Normalise()
}

// PoolParameters converts the configured curve into engine parameters.
func (c *Config) PoolParameters() vault.PoolParameters {
	return vault.PoolParameters{
		BaseRateBps:         c.Pool.BaseRateBps,
		SlopeBps:            c.Pool.SlopeBps,
		BorrowMultiplierBps: c.Pool.BorrowMultiplierBps,
	}.Normalise()
}

// ChainEntries parses the configured chains into registry entries.
func (c *Config) ChainEntries() ([]vault.Chain, error) {
	entries := make([]vault.Chain, 0, len(c.Chains))
	for _, chain := range c.Chains {
		tag := strings.TrimSpace(chain.Tag)
		if tag == "" {
			return nil, fmt.Errorf("config: chain entry missing Tag")
		}
		addr := strings.TrimSpace(chain.Vault)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("config: chain %s has invalid Vault address %q", tag, chain.Vault)
		}
		entries = append(entries, vault.Chain{
			Tag:      tag,
			Vault:    common.HexToAddress(addr),
			Endpoint: strings.TrimSpace(chain.Endpoint),
			Asset:    strings.ToUpper(strings.TrimSpace(chain.Asset)),
		})
	}
	return entries, nil
}

// AuthorityAddress parses the configured registry authority.
func (c *Config) AuthorityAddress() (common.Address, error) {
	addr := strings.TrimSpace(c.Authority)
	if addr == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("config: invalid Authority address %q", c.Authority)
	}
	return common.HexToAddress(addr), nil
}

// OraclePriced reports whether valuation should go through the price oracle.
// Anything other than "oracle" means flat single-asset pricing.
func (c *Config) OraclePriced() bool {
	return strings.EqualFold(strings.TrimSpace(c.Pricing), "oracle")
}

// MinFee parses the per-destination fee floor in wei. Empty means zero.
func (c *Config) MinFee() (*big.Int, error) {
	raw := strings.TrimSpace(c.MinFeeWei)
	if raw == "" {
		return big.NewInt(0), nil
	}
	fee, ok := new(big.Int).SetString(raw, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid MinFeeWei %q", c.MinFeeWei)
	}
	return fee, nil
}
