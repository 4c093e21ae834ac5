package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainsConfig describes the asset pairs this deployment quotes and the
// per-chain vault endpoints used to settle them. It is loaded once at
// startup and passed to components as an immutable value — never held as
// a package-level mutable.
type ChainsConfig struct {
	AssetPairs []AssetPair          `yaml:"asset_pairs"`
	Chains     map[string]ChainSpec `yaml:"chains"`
}

// AssetPair is one base/quote combination the RFQ board accepts requests for.
type AssetPair struct {
	BaseAsset     string `yaml:"base_asset"`
	QuoteAsset    string `yaml:"quote_asset"`
	BaseChainID   string `yaml:"base_chain_id"`
	QuoteChainID  string `yaml:"quote_chain_id"`
	BaseDecimals  int    `yaml:"base_decimals"`
	QuoteDecimals int    `yaml:"quote_decimals"`
}

// ChainSpec holds the vault endpoint and retry/circuit-breaker tuning for
// one chain_id.
type ChainSpec struct {
	VaultBaseURL    string        `yaml:"vault_base_url"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	BreakerThresh   int           `yaml:"breaker_threshold"`
	IsEVM           bool          `yaml:"is_evm"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadChainsConfig reads a YAML file describing asset pairs and chains,
// substituting ${VAR_NAME} references against the process environment
// before parsing. A reference to an unset variable is left as written.
func LoadChainsConfig(path string) (*ChainsConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chains config %s: %w", path, err)
	}

	substituted := envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})

	var cfg ChainsConfig
	if err := yaml.Unmarshal(substituted, &cfg); err != nil {
		return nil, fmt.Errorf("parse chains config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *ChainsConfig) validate() error {
	if len(c.AssetPairs) == 0 {
		return fmt.Errorf("chains config: at least one asset_pair is required")
	}
	for _, pair := range c.AssetPairs {
		if _, ok := c.Chains[pair.BaseChainID]; !ok {
			return fmt.Errorf("chains config: asset pair %s/%s references unknown base_chain_id %q", pair.BaseAsset, pair.QuoteAsset, pair.BaseChainID)
		}
		if _, ok := c.Chains[pair.QuoteChainID]; !ok {
			return fmt.Errorf("chains config: asset pair %s/%s references unknown quote_chain_id %q", pair.BaseAsset, pair.QuoteAsset, pair.QuoteChainID)
		}
	}
	for id, spec := range c.Chains {
		if spec.VaultBaseURL == "" {
			return fmt.Errorf("chains config: chain %q is missing vault_base_url", id)
		}
	}
	return nil
}

// SupportsPair reports whether the given base/quote asset combination is
// configured for this deployment.
func (c *ChainsConfig) SupportsPair(baseAsset, quoteAsset string) (AssetPair, bool) {
	for _, pair := range c.AssetPairs {
		if pair.BaseAsset == baseAsset && pair.QuoteAsset == quoteAsset {
			return pair, true
		}
	}
	return AssetPair{}, false
}
