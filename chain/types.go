package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20 ABI JSON for allowance, approve and decimals
const erc20ABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"type": "function"
	}
]`

// ERC721 ABI JSON for isApprovedForAll and setApprovalForAll
const erc721ABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"name": "isApprovedForAll",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "operator", "type": "address"},
			{"name": "approved", "type": "bool"}
		],
		"name": "setApprovalForAll",
		"outputs": [],
		"type": "function"
	}
]`

// ProxyRegistry ABI JSON for proxies and registerProxy
const proxyRegistryABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "", "type": "address"}],
		"name": "proxies",
		"outputs": [{"name": "", "type": "address"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [],
		"name": "registerProxy",
		"outputs": [{"name": "proxy", "type": "address"}],
		"type": "function"
	}
]`

// orderTupleComponents must stay in the canonical 16-field order.
const orderTupleComponents = `[
	{"name": "exchange", "type": "address"},
	{"name": "maker", "type": "address"},
	{"name": "taker", "type": "address"},
	{"name": "saleSide", "type": "uint8"},
	{"name": "saleKind", "type": "uint8"},
	{"name": "target", "type": "address"},
	{"name": "paymentToken", "type": "address"},
	{"name": "callData", "type": "bytes"},
	{"name": "replacementPattern", "type": "bytes"},
	{"name": "staticTarget", "type": "address"},
	{"name": "staticExtra", "type": "bytes"},
	{"name": "basePrice", "type": "uint256"},
	{"name": "endPrice", "type": "uint256"},
	{"name": "listingTime", "type": "uint256"},
	{"name": "expirationTime", "type": "uint256"},
	{"name": "salt", "type": "uint256"}
]`

const sigTupleComponents = `[
	{"name": "r", "type": "bytes32"},
	{"name": "s", "type": "bytes32"},
	{"name": "v", "type": "uint8"}
]`

// Exchange ABI JSON for atomicMatch
var exchangeABIJSON = `[
	{
		"constant": false,
		"inputs": [
			{"name": "buy", "type": "tuple", "components": ` + orderTupleComponents + `},
			{"name": "buySig", "type": "tuple", "components": ` + sigTupleComponents + `},
			{"name": "sell", "type": "tuple", "components": ` + orderTupleComponents + `},
			{"name": "sellSig", "type": "tuple", "components": ` + sigTupleComponents + `}
		],
		"name": "atomicMatch",
		"outputs": [],
		"payable": true,
		"stateMutability": "payable",
		"type": "function"
	}
]`

var (
	erc20ABI         = mustParseABI("ERC20", erc20ABIJSON)
	erc721ABI        = mustParseABI("ERC721", erc721ABIJSON)
	proxyRegistryABI = mustParseABI("ProxyRegistry", proxyRegistryABIJSON)
	exchangeABI      = mustParseABI("Exchange", exchangeABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

// GetERC20ABI returns the parsed ERC20 ABI
func GetERC20ABI() abi.ABI {
	return erc20ABI
}

// GetERC721ABI returns the parsed ERC721 ABI
func GetERC721ABI() abi.ABI {
	return erc721ABI
}

// GetProxyRegistryABI returns the parsed ProxyRegistry ABI
func GetProxyRegistryABI() abi.ABI {
	return proxyRegistryABI
}

// GetExchangeABI returns the parsed Exchange ABI
func GetExchangeABI() abi.ABI {
	return exchangeABI
}
