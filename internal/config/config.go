// Package config loads and validates the service configuration: the
// chain table, external endpoints, transfer policy, and storage paths.
// Values come from a YAML file with ENV overrides.
package config

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github/tokenvest/go-gateway/internal/gateway"
)

// ChainConfig is one row of the chain table.
type ChainConfig struct {
	Tag                 string   `mapstructure:"tag"`
	DomainID            uint32   `mapstructure:"domain_id"`
	USDCContract        string   `mapstructure:"usdc_contract"`
	LedgerContract      string   `mapstructure:"ledger_contract"`
	RPCURLs             []string `mapstructure:"rpc_urls"`
	DefaultMaxFeeMicros int64    `mapstructure:"default_max_fee_micros"`
}

// AttestationConfig points at the external attestation service.
type AttestationConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SignerConfig points at the custodial signing service.
type SignerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TransferConfig is the orchestrator policy.
type TransferConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	ExecutionMaxAttempts int           `mapstructure:"execution_max_attempts"`
	MintMaxAttempts      int           `mapstructure:"mint_max_attempts"`
	BufferMicros         int64         `mapstructure:"buffer_micros"`
	ToleranceMicros      int64         `mapstructure:"tolerance_micros"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	GatewayWallet string `mapstructure:"gateway_wallet"`
	GatewayMinter string `mapstructure:"gateway_minter"`

	Attestation AttestationConfig `mapstructure:"attestation"`
	Signer      SignerConfig      `mapstructure:"signer"`
	Transfer    TransferConfig    `mapstructure:"transfer"`

	RegistryStorePath string `mapstructure:"registry_store_path"`
	JournalPath       string `mapstructure:"journal_path"`

	Chains []ChainConfig `mapstructure:"chains"`
}

// Load reads the configuration from path (optional) and the GATEWAY_*
// environment, validates it, and returns it.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("attestation.timeout", 30*time.Second)
	v.SetDefault("signer.timeout", 30*time.Second)
	v.SetDefault("transfer.poll_interval", 3*time.Second)
	v.SetDefault("transfer.execution_max_attempts", 60)
	v.SetDefault("transfer.mint_max_attempts", 0)
	v.SetDefault("transfer.buffer_micros", 1_000)
	v.SetDefault("transfer.tolerance_micros", 1)
	v.SetDefault("registry_store_path", "wallets.json")
	v.SetDefault("journal_path", "transfers.jsonl")

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field consistency: unique tags and domain ids,
// parseable contract addresses, sane policy values.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("at least one chain must be configured")
	}

	if !common.IsHexAddress(c.GatewayWallet) {
		return errors.Errorf("gateway_wallet %q is not a valid address", c.GatewayWallet)
	}
	if !common.IsHexAddress(c.GatewayMinter) {
		return errors.Errorf("gateway_minter %q is not a valid address", c.GatewayMinter)
	}

	tags := make(map[string]bool, len(c.Chains))
	domains := make(map[uint32]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.Tag == "" {
			return errors.New("chain tag must not be empty")
		}
		if tags[chain.Tag] {
			return errors.Errorf("duplicate chain tag %s", chain.Tag)
		}
		tags[chain.Tag] = true

		if domains[chain.DomainID] {
			return errors.Errorf("duplicate domain id %d (chain %s)", chain.DomainID, chain.Tag)
		}
		domains[chain.DomainID] = true

		if !common.IsHexAddress(chain.USDCContract) {
			return errors.Errorf("chain %s: usdc_contract %q is not a valid address", chain.Tag, chain.USDCContract)
		}
		if chain.LedgerContract != "" && !common.IsHexAddress(chain.LedgerContract) {
			return errors.Errorf("chain %s: ledger_contract %q is not a valid address", chain.Tag, chain.LedgerContract)
		}
		if len(chain.RPCURLs) == 0 {
			return errors.Errorf("chain %s: at least one RPC URL is required", chain.Tag)
		}
		if chain.DefaultMaxFeeMicros < 0 {
			return errors.Errorf("chain %s: default_max_fee_micros must not be negative", chain.Tag)
		}
	}

	if c.Transfer.PollInterval <= 0 {
		return errors.New("transfer.poll_interval must be positive")
	}
	if c.Transfer.ExecutionMaxAttempts <= 0 {
		return errors.New("transfer.execution_max_attempts must be positive")
	}
	if c.Transfer.BufferMicros < 0 || c.Transfer.ToleranceMicros < 0 {
		return errors.New("transfer buffer and tolerance must not be negative")
	}

	return nil
}

// Descriptors converts the chain table to domain descriptors, preserving
// configuration order.
func (c *Config) Descriptors() []gateway.ChainDescriptor {
	descriptors := make([]gateway.ChainDescriptor, 0, len(c.Chains))
	for _, chain := range c.Chains {
		descriptors = append(descriptors, chain.Descriptor())
	}
	return descriptors
}

// Descriptor returns the descriptor for the tag, or false.
func (c *Config) Descriptor(tag string) (gateway.ChainDescriptor, bool) {
	for _, chain := range c.Chains {
		if chain.Tag == tag {
			return chain.Descriptor(), true
		}
	}
	return gateway.ChainDescriptor{}, false
}

// Descriptor converts one chain row.
func (cc ChainConfig) Descriptor() gateway.ChainDescriptor {
	d := gateway.ChainDescriptor{
		ChainTag:     cc.Tag,
		DomainID:     cc.DomainID,
		USDCContract: common.HexToAddress(cc.USDCContract),
		RPCURLs:      append([]string(nil), cc.RPCURLs...),
	}
	if cc.DefaultMaxFeeMicros > 0 {
		d.DefaultMaxFeeMicros = big.NewInt(cc.DefaultMaxFeeMicros)
	}
	return d
}

// LedgerContracts maps chain tags to configured ledger contracts,
// skipping chains without one.
func (c *Config) LedgerContracts() map[string]common.Address {
	contracts := make(map[string]common.Address)
	for _, chain := range c.Chains {
		if chain.LedgerContract != "" {
			contracts[chain.Tag] = common.HexToAddress(chain.LedgerContract)
		}
	}
	return contracts
}
