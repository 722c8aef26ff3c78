package wyvernmarket

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
)

// ChainID represents a blockchain chain ID
type ChainID int

const (
	ChainIDGoerli ChainID = 5 // Goerli testnet
)

// SupportedChainIDs lists all supported chain IDs
var SupportedChainIDs = []ChainID{ChainIDGoerli}

// ContractAddresses holds contract addresses for each chain
type ContractAddresses struct {
	Exchange      string
	ProxyRegistry string
	WETH          string
}

// DefaultContractAddresses maps chain IDs to their contract addresses
var DefaultContractAddresses = map[ChainID]ContractAddresses{
	ChainIDGoerli: {
		Exchange:      "0x7BF100a9946D4F6726C6cC3FcE78E9fFE469BC53",
		ProxyRegistry: "0x0ae8388935A0e95a1CA040581Afb7Fa9dE818EA2",
		WETH:          "0xB4FBF271143F4FBf7B91A5ded31805e42b2208d6",
	},
}

const (
	DefaultAPIHost        = "http://localhost:3000"
	DefaultReceiptTimeout = 120 * time.Second
	DefaultTokenDecimals  = 18
)

// ProxyLookup selects where a maker's proxy address is read from.
type ProxyLookup string

const (
	ProxyLookupChain ProxyLookup = "chain"
	ProxyLookupAPI   ProxyLookup = "api"
)

// FileConfig is the on-disk TOML form of ClientConfig.
type FileConfig struct {
	Host                  string `toml:"host"`
	WSEndpoint            string `toml:"ws_endpoint"`
	ChainID               int    `toml:"chain_id"`
	RPCURL                string `toml:"rpc_url"`
	Exchange              string `toml:"exchange"`
	ProxyRegistry         string `toml:"proxy_registry"`
	PaymentToken          string `toml:"payment_token"`
	ProxyLookup           string `toml:"proxy_lookup"`
	ReceiptTimeoutSeconds int    `toml:"receipt_timeout_seconds"`
	LogLevel              string `toml:"log_level"`
}

// LoadConfig reads a TOML config file. A leading ~ in path is expanded.
func LoadConfig(path string) (*FileConfig, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path %q: %w", path, err)
	}

	var cfg FileConfig
	if _, err := toml.DecodeFile(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", expanded, err)
	}
	return &cfg, nil
}

// ClientConfig converts the file form, leaving zero values for NewClient to default.
func (f *FileConfig) ClientConfig() ClientConfig {
	return ClientConfig{
		Host:              f.Host,
		WSEndpoint:        f.WSEndpoint,
		ChainID:           ChainID(f.ChainID),
		RPCURL:            f.RPCURL,
		ExchangeAddr:      f.Exchange,
		ProxyRegistryAddr: f.ProxyRegistry,
		PaymentTokenAddr:  f.PaymentToken,
		ProxyLookup:       ProxyLookup(f.ProxyLookup),
		ReceiptTimeout:    time.Duration(f.ReceiptTimeoutSeconds) * time.Second,
	}
}

// withDefaults fills unset fields from DefaultContractAddresses.
func (c ClientConfig) withDefaults() (ClientConfig, error) {
	if c.ChainID == 0 {
		c.ChainID = ChainIDGoerli
	}

	isSupported := false
	for _, supportedID := range SupportedChainIDs {
		if c.ChainID == supportedID {
			isSupported = true
			break
		}
	}
	if !isSupported {
		return c, &InvalidParamError{
			Message: fmt.Sprintf("chain_id must be one of %v", SupportedChainIDs),
		}
	}

	contracts := DefaultContractAddresses[c.ChainID]
	if c.ExchangeAddr == "" {
		c.ExchangeAddr = contracts.Exchange
	}
	if c.ProxyRegistryAddr == "" {
		c.ProxyRegistryAddr = contracts.ProxyRegistry
	}
	if c.PaymentTokenAddr == "" {
		c.PaymentTokenAddr = contracts.WETH
	}
	if c.Host == "" {
		c.Host = DefaultAPIHost
	}
	if c.ReceiptTimeout == 0 {
		c.ReceiptTimeout = DefaultReceiptTimeout
	}
	switch c.ProxyLookup {
	case "":
		c.ProxyLookup = ProxyLookupChain
	case ProxyLookupChain, ProxyLookupAPI:
	default:
		return c, &InvalidParamError{Message: fmt.Sprintf("proxy_lookup must be %q or %q, got %q", ProxyLookupChain, ProxyLookupAPI, c.ProxyLookup)}
	}

	for name, addr := range map[string]string{
		"exchange":       c.ExchangeAddr,
		"proxy_registry": c.ProxyRegistryAddr,
		"payment_token":  c.PaymentTokenAddr,
	} {
		if !isHexAddress(addr) {
			return c, &InvalidParamError{Message: fmt.Sprintf("%s is not a valid address: %q", name, addr)}
		}
	}
	return c, nil
}
