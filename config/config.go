package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level runtime configuration for marketd.
type Config struct {
	DataDir         string `toml:"DataDir"`
	ListenAddress   string `toml:"ListenAddress"`
	Environment     string `toml:"Environment"`
	AccrualInterval uint64 `toml:"AccrualIntervalSeconds"`

	Market MarketConfig  `toml:"market"`
	Assets []AssetConfig `toml:"asset"`
	Vault  VaultConfig   `toml:"vault"`
	Router RouterConfig  `toml:"router"`
	Oracle OracleConfig  `toml:"oracle"`
}

// MarketConfig parameterizes the base-asset money market.
type MarketConfig struct {
	ModuleAddress        string   `toml:"ModuleAddress"`
	BaseToken            string   `toml:"BaseToken"`
	BaseDecimals         uint8    `toml:"BaseDecimals"`
	BasePriceFeed        string   `toml:"BasePriceFeed"`
	BorrowMin            *big.Int `toml:"BorrowMin"`
	ReserveFactorBps     uint64   `toml:"ReserveFactorBps"`
	TrackingSupplySpeed  *big.Int `toml:"TrackingSupplySpeed"`
	TrackingBorrowSpeed  *big.Int `toml:"TrackingBorrowSpeed"`
	TrackingMinPrincipal *big.Int `toml:"TrackingMinPrincipal"`

	InterestBaseRate  float64 `toml:"InterestBaseRate"`
	InterestSlopeLow  float64 `toml:"InterestSlopeLow"`
	InterestSlopeHigh float64 `toml:"InterestSlopeHigh"`
	InterestKink      float64 `toml:"InterestKink"`
}

// AssetConfig declares one collateral asset slot.
type AssetConfig struct {
	Asset                        string   `toml:"Asset"`
	PriceFeed                    string   `toml:"PriceFeed"`
	Decimals                     uint8    `toml:"Decimals"`
	BorrowCollateralFactorBps    uint64   `toml:"BorrowCollateralFactorBps"`
	LiquidateCollateralFactorBps uint64   `toml:"LiquidateCollateralFactorBps"`
	LiquidationFactorBps         uint64   `toml:"LiquidationFactorBps"`
	SupplyCap                    *big.Int `toml:"SupplyCap"`
	Vault                        bool     `toml:"Vault"`
}

// VaultConfig parameterizes the NFT share ledger.
type VaultConfig struct {
	ModuleAddress  string   `toml:"ModuleAddress"`
	ShareToken     string   `toml:"ShareToken"`
	MinShares      *big.Int `toml:"MinShares"`
	Token0         string   `toml:"Token0"`
	Token1         string   `toml:"Token1"`
	Pool           string   `toml:"Pool"`
	Token0Feed     string   `toml:"Token0Feed"`
	Token1Feed     string   `toml:"Token1Feed"`
	Token0Decimals uint8    `toml:"Token0Decimals"`
	Token1Decimals uint8    `toml:"Token1Decimals"`
}

// RouterConfig parameterizes the liquidation disposal router.
type RouterConfig struct {
	ModuleAddress       string   `toml:"ModuleAddress"`
	Operators           []string `toml:"Operators"`
	VenueAddress        string   `toml:"VenueAddress"`
	DisposalSlippageBps uint64   `toml:"DisposalSlippageBps"`
	PerpFeed            string   `toml:"PerpFeed"`
	PerpSlippageBps     uint64   `toml:"PerpSlippageBps"`
	ExecutionFee        *big.Int `toml:"ExecutionFee"`
}

// OracleConfig parameterizes the price feed registry.
type OracleConfig struct {
	MaxAgeSeconds uint64 `toml:"MaxAgeSeconds"`
}

// MaxAssets bounds the collateral registry; the membership bitmap must fit.
const MaxAssets = 12

// Load reads the configuration from path, writing a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefaults populates unset fields so downstream handling is safe.
func (c *Config) EnsureDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./marketd-data"
	}
	if c.ListenAddress == "" {
		c.ListenAddress = "0.0.0.0:9090"
	}
	if c.AccrualInterval == 0 {
		c.AccrualInterval = 15
	}
	if c.Market.BorrowMin == nil {
		c.Market.BorrowMin = big.NewInt(0)
	}
	if c.Market.TrackingSupplySpeed == nil {
		c.Market.TrackingSupplySpeed = big.NewInt(0)
	}
	if c.Market.TrackingBorrowSpeed == nil {
		c.Market.TrackingBorrowSpeed = big.NewInt(0)
	}
	if c.Market.TrackingMinPrincipal == nil {
		c.Market.TrackingMinPrincipal = big.NewInt(0)
	}
	if c.Market.InterestKink == 0 {
		c.Market.InterestBaseRate = 0.02
		c.Market.InterestSlopeLow = 0.15
		c.Market.InterestSlopeHigh = 0.6
		c.Market.InterestKink = 0.8
	}
	if c.Vault.MinShares == nil {
		c.Vault.MinShares = big.NewInt(1_000_000)
	}
	if c.Router.ExecutionFee == nil {
		c.Router.ExecutionFee = big.NewInt(0)
	}
	for i := range c.Assets {
		if c.Assets[i].SupplyCap == nil {
			c.Assets[i].SupplyCap = big.NewInt(0)
		}
	}
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Assets) > MaxAssets {
		return fmt.Errorf("config: at most %d collateral assets, got %d", MaxAssets, len(c.Assets))
	}
	for i, asset := range c.Assets {
		if asset.LiquidateCollateralFactorBps <= asset.BorrowCollateralFactorBps {
			return fmt.Errorf("config: asset %d liquidate factor must exceed borrow factor", i)
		}
		if asset.LiquidationFactorBps > 10_000 {
			return fmt.Errorf("config: asset %d liquidation factor above 100%%", i)
		}
	}
	if c.Router.PerpSlippageBps > 10_000 {
		return fmt.Errorf("config: perp slippage above 100%%")
	}
	if c.Router.DisposalSlippageBps > 10_000 {
		return fmt.Errorf("config: disposal slippage above 100%%")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.EnsureDefaults()
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
