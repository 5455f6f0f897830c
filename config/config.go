package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type Config struct {
	DefaultChain string                 `yaml:"default_chain"`
	Chains       map[string]ChainConfig `yaml:"chains"`

	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Parser    ParserConfig    `yaml:"parser"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Triage    TriageConfig    `yaml:"triage"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Internal components
	Logger *zap.Logger `yaml:"-"`
}

type ChainConfig struct {
	ChainID       uint64            `yaml:"chain_id"`
	ForkURL       string            `yaml:"fork_url"`
	Router        string            `yaml:"router"`
	WrappedNative string            `yaml:"wrapped_native"`
	NativeSymbol  string            `yaml:"native_symbol"`
	Tokens        map[string]string `yaml:"tokens"`
}

type SandboxConfig struct {
	Endpoints    []string        `yaml:"endpoints"`
	Account      string          `yaml:"account"`
	FundingEther string          `yaml:"funding_ether"`
	TxGasLimit   uint64          `yaml:"tx_gas_limit"`
	ReceiptPolls int             `yaml:"receipt_polls"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	WaitTimeout       time.Duration `yaml:"wait_timeout"`
}

type ParserConfig struct {
	TraceLookbehind int `yaml:"trace_lookbehind"`
	TraceLookahead  int `yaml:"trace_lookahead"`
	TraceMaxBytes   int `yaml:"trace_max_bytes"`
	FallbackBudget  int `yaml:"fallback_budget"`
}

type OptimizerConfig struct {
	Ladder                 []float64     `yaml:"ladder"`
	MaxTrials              int           `yaml:"max_trials"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	PrecisionEther         string        `yaml:"precision_ether"`
	TrialTimeout           time.Duration `yaml:"trial_timeout"`
	RevertTimeout          time.Duration `yaml:"revert_timeout"`
	RevertGrace            time.Duration `yaml:"revert_grace"`
}

type TriageConfig struct {
	CacheSize int `yaml:"cache_size"`
	Workers   int `yaml:"workers"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.DefaultChain == "" {
		errors = append(errors, "default_chain must be specified")
	} else if _, ok := c.Chains[c.DefaultChain]; !ok {
		errors = append(errors, fmt.Sprintf("default_chain %q has no chain entry", c.DefaultChain))
	}

	for name, chain := range c.Chains {
		if err := chain.Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("chain %s: %v", name, err))
		}
	}

	if err := c.Sandbox.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("sandbox config error: %v", err))
	}
	if err := c.Parser.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("parser config error: %v", err))
	}
	if err := c.Optimizer.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("optimizer config error: %v", err))
	}

	if c.Triage.CacheSize <= 0 {
		errors = append(errors, "triage cache_size must be positive")
	}
	if c.Triage.Workers <= 0 {
		errors = append(errors, "triage workers must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errors = append(errors, "metrics addr must be specified when metrics are enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (c *ChainConfig) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id must be specified")
	}
	if !common.IsHexAddress(c.Router) {
		return fmt.Errorf("router %q is not an address", c.Router)
	}
	if !common.IsHexAddress(c.WrappedNative) {
		return fmt.Errorf("wrapped_native %q is not an address", c.WrappedNative)
	}
	for sym, addr := range c.Tokens {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("token %s address %q is invalid", sym, addr)
		}
	}
	return nil
}

// RouterAddress returns the swap router that SWAP transactions target
func (c *ChainConfig) RouterAddress() common.Address {
	return common.HexToAddress(c.Router)
}

// TokenMap returns the symbols usable in swap paths. The native symbol and
// its wrapped form both resolve to the wrapped native token.
func (c *ChainConfig) TokenMap() map[string]common.Address {
	tokens := make(map[string]common.Address, len(c.Tokens)+2)
	for sym, addr := range c.Tokens {
		tokens[strings.ToUpper(sym)] = common.HexToAddress(addr)
	}
	wrapped := common.HexToAddress(c.WrappedNative)
	if c.NativeSymbol != "" {
		native := strings.ToUpper(c.NativeSymbol)
		tokens[native] = wrapped
		tokens["W"+native] = wrapped
	}
	return tokens
}

func (s *SandboxConfig) Validate() error {
	if len(s.Endpoints) == 0 {
		return fmt.Errorf("at least one sandbox endpoint must be specified")
	}
	if s.Account != "" && !common.IsHexAddress(s.Account) {
		return fmt.Errorf("account %q is not an address", s.Account)
	}
	if _, err := s.FundingWei(); err != nil {
		return err
	}
	if s.TxGasLimit < 21000 {
		return fmt.Errorf("tx gas limit must be at least 21000")
	}
	if s.ReceiptPolls <= 0 {
		return fmt.Errorf("receipt polls must be positive")
	}
	if err := s.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// AccountAddress returns the configured replay account, zero if unset
func (s *SandboxConfig) AccountAddress() common.Address {
	if s.Account == "" {
		return common.Address{}
	}
	return common.HexToAddress(s.Account)
}

// FundingWei returns the balance the replay account is topped up to after a fork
func (s *SandboxConfig) FundingWei() (*big.Int, error) {
	if s.FundingEther == "" {
		return new(big.Int), nil
	}
	d, err := decimal.NewFromString(s.FundingEther)
	if err != nil || d.IsNegative() {
		return nil, fmt.Errorf("funding_ether %q must be a non-negative decimal", s.FundingEther)
	}
	return d.Shift(18).Truncate(0).BigInt(), nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}

	return nil
}

func (p *ParserConfig) Validate() error {
	if p.TraceLookbehind < 0 || p.TraceLookahead < 0 {
		return fmt.Errorf("trace window must not be negative")
	}
	if p.TraceMaxBytes <= 0 {
		return fmt.Errorf("trace max bytes must be positive")
	}
	if p.FallbackBudget <= 0 {
		return fmt.Errorf("fallback budget must be positive")
	}
	return nil
}

func (o *OptimizerConfig) Validate() error {
	if len(o.Ladder) == 0 {
		return fmt.Errorf("ladder must not be empty")
	}
	prev := 0.0
	for _, rung := range o.Ladder {
		if rung < 1 || rung <= prev {
			return fmt.Errorf("ladder must be strictly increasing and start at 1 or above")
		}
		prev = rung
	}
	if o.MaxTrials <= 0 {
		return fmt.Errorf("max trials must be positive")
	}
	if o.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max consecutive failures must be positive")
	}
	if _, err := o.PrecisionWei(); err != nil {
		return err
	}
	if o.TrialTimeout <= 0 || o.RevertTimeout <= 0 || o.RevertGrace <= 0 {
		return fmt.Errorf("trial, revert and grace timeouts must be positive")
	}
	return nil
}

// LadderFactors returns the coarse sweep ladder as exact decimals
func (o *OptimizerConfig) LadderFactors() []decimal.Decimal {
	out := make([]decimal.Decimal, len(o.Ladder))
	for i, rung := range o.Ladder {
		out[i] = decimal.NewFromFloat(rung)
	}
	return out
}

// PrecisionWei returns the refinement stop width in wei
func (o *OptimizerConfig) PrecisionWei() (*big.Int, error) {
	d, err := decimal.NewFromString(o.PrecisionEther)
	if err != nil || !d.IsPositive() {
		return nil, fmt.Errorf("precision_ether %q must be a positive decimal", o.PrecisionEther)
	}
	return d.Shift(18).Truncate(0).BigInt(), nil
}

// LoadConfig reads a YAML config file on top of the defaults, applies
// environment overrides and validates the result
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".fuzztriage.yaml")
	}

	config := DefaultConfig()

	data, err := os.ReadFile(cfgFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfgFile = filepath.Join(home, ".fuzztriage.yaml")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

func DefaultConfig() *Config {
	return &Config{
		Logger:       zap.NewNop(),
		DefaultChain: "eth",
		Chains: map[string]ChainConfig{
			"eth": {
				ChainID:       1,
				ForkURL:       "https://eth.llamarpc.com",
				Router:        "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", // Uniswap V2
				WrappedNative: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
				NativeSymbol:  "ETH",
			},
			"bsc": {
				ChainID:       56,
				ForkURL:       "https://bsc-dataseed.binance.org",
				Router:        "0x10ED43C718714eb63d5aA57B78B54704E256024E", // PancakeSwap V2
				WrappedNative: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
				NativeSymbol:  "BNB",
			},
			"polygon": {
				ChainID:       137,
				ForkURL:       "https://polygon-rpc.com",
				Router:        "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff", // QuickSwap
				WrappedNative: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
				NativeSymbol:  "MATIC",
			},
			"arbitrum": {
				ChainID:       42161,
				ForkURL:       "https://arb1.arbitrum.io/rpc",
				Router:        "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506", // SushiSwap
				WrappedNative: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
				NativeSymbol:  "ETH",
			},
		},
		Sandbox: SandboxConfig{
			Endpoints:    []string{"http://127.0.0.1:8545"},
			FundingEther: "10000",
			TxGasLimit:   10_000_000,
			ReceiptPolls: 20,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 200,
				BurstSize:         50,
				WaitTimeout:       5 * time.Second,
			},
		},
		Parser: ParserConfig{
			TraceLookbehind: 1000,
			TraceLookahead:  1000,
			TraceMaxBytes:   3000,
			FallbackBudget:  5000,
		},
		Optimizer: OptimizerConfig{
			Ladder:                 []float64{1, 2, 5, 10, 25, 50, 100},
			MaxTrials:              64,
			MaxConsecutiveFailures: 3,
			PrecisionEther:         "1",
			TrialTimeout:           30 * time.Second,
			RevertTimeout:          10 * time.Second,
			RevertGrace:            5 * time.Second,
		},
		Triage: TriageConfig{
			CacheSize: 1024,
			Workers:   1,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Addr:      ":9100",
			Namespace: "fuzztriage",
		},
	}
}
