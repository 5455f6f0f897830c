package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvDefaultChain     = "TRIAGE_DEFAULT_CHAIN"
	EnvSandboxEndpoints = "TRIAGE_SANDBOX_ENDPOINTS" // comma separated
	EnvAccount          = "TRIAGE_ACCOUNT"
	EnvWorkers          = "TRIAGE_WORKERS"
	EnvMaxTrials        = "TRIAGE_MAX_TRIALS"
	EnvMetricsAddr      = "TRIAGE_METRICS_ADDR"
	EnvForkURLPrefix    = "TRIAGE_FORK_URL_" // + upper-case chain name
)

// LoadEnv loads environment variables from .env files. A missing file is
// not an error.
func LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv overrides config fields from TRIAGE_* variables
func ApplyEnv(c *Config) error {
	c.DefaultChain = GetEnvWithDefault(EnvDefaultChain, c.DefaultChain)
	c.Sandbox.Account = GetEnvWithDefault(EnvAccount, c.Sandbox.Account)
	c.Metrics.Addr = GetEnvWithDefault(EnvMetricsAddr, c.Metrics.Addr)

	if v := os.Getenv(EnvSandboxEndpoints); v != "" {
		var endpoints []string
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				endpoints = append(endpoints, ep)
			}
		}
		c.Sandbox.Endpoints = endpoints
	}

	if err := envInt(EnvWorkers, &c.Triage.Workers); err != nil {
		return err
	}
	if err := envInt(EnvMaxTrials, &c.Optimizer.MaxTrials); err != nil {
		return err
	}

	for name, chain := range c.Chains {
		if url := os.Getenv(EnvForkURLPrefix + strings.ToUpper(name)); url != "" {
			chain.ForkURL = url
			c.Chains[name] = chain
		}
	}

	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}
