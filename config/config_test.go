package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateConfig())

	precision, err := cfg.Optimizer.PrecisionWei()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", precision.String())

	ladder := cfg.Optimizer.LadderFactors()
	require.Len(t, ladder, 7)
	assert.Equal(t, "25", ladder[4].String())
}

func TestValidateConfigCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultChain = "solana"
	cfg.Sandbox.Endpoints = nil
	cfg.Optimizer.Ladder = []float64{1, 5, 2}
	cfg.Triage.Workers = 0

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_chain")
	assert.Contains(t, err.Error(), "sandbox config error")
	assert.Contains(t, err.Error(), "ladder")
	assert.Contains(t, err.Error(), "workers")
}

func TestChainTokenMap(t *testing.T) {
	chain := DefaultConfig().Chains["bsc"]
	tokens := chain.TokenMap()

	assert.Equal(t, chain.WrappedNative, tokens["WBNB"].Hex())
	assert.Equal(t, tokens["WBNB"], tokens["BNB"])
	assert.Equal(t, "0x10ED43C718714eb63d5aA57B78B54704E256024E", chain.RouterAddress().Hex())
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	yamlDoc := `
default_chain: bsc
sandbox:
  endpoints: ["http://127.0.0.1:8545", "http://127.0.0.1:8546"]
optimizer:
  max_trials: 16
  trial_timeout: 5s
triage:
  workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "bsc", cfg.DefaultChain)
	assert.Len(t, cfg.Sandbox.Endpoints, 2)
	assert.Equal(t, 16, cfg.Optimizer.MaxTrials)
	assert.Equal(t, 5*time.Second, cfg.Optimizer.TrialTimeout)
	assert.Equal(t, 3, cfg.Optimizer.MaxConsecutiveFailures)
	assert.Contains(t, cfg.Chains, "eth")
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "eth", cfg.DefaultChain)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvSandboxEndpoints, "http://a:8545, http://b:8545")
	t.Setenv(EnvWorkers, "4")
	t.Setenv(EnvForkURLPrefix+"ETH", "http://archive:8545")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, []string{"http://a:8545", "http://b:8545"}, cfg.Sandbox.Endpoints)
	assert.Equal(t, 4, cfg.Triage.Workers)
	assert.Equal(t, "http://archive:8545", cfg.Chains["eth"].ForkURL)

	t.Setenv(EnvMaxTrials, "many")
	assert.Error(t, ApplyEnv(cfg))
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Triage.Workers = 3

	require.NoError(t, SaveConfig(cfg, path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Triage.Workers)
}
