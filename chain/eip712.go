package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712 Domain constants of the deployed exchange
const (
	EIP712DomainName    = "Wyvern Clone Coding Exchange"
	EIP712DomainVersion = "1"

	// DefaultChainID is Goerli, where the exchange is deployed.
	DefaultChainID = 5
)

const (
	domainTypeString = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"

	// OrderTypeString is the signed order schema. Field names, types and
	// order must match the exchange's verifier exactly.
	OrderTypeString = "Order(address exchange,address maker,address taker,uint8 saleSide,uint8 saleKind," +
		"address target,address paymentToken,bytes calldata_,bytes replacementPattern,address staticTarget," +
		"bytes staticExtra,uint256 basePrice,uint256 endPrice,uint256 listingTime,uint256 expirationTime,uint256 salt)"
)

// Pre-computed type hashes using keccak256
var (
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte(domainTypeString))
	OrderTypeHash        = crypto.Keccak256Hash([]byte(OrderTypeString))
)

var (
	bytes32Type = mustType("bytes32")
	uint256Type = mustType("uint256")
	uint8Type   = mustType("uint8")
	addressType = mustType("address")
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic("failed to build abi type " + name + ": " + err.Error())
	}
	return t
}

// Domain is the EIP712 domain separator data
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain creates a Domain with the exchange's name and version
func NewDomain(chainID int64, verifyingContract common.Address) *Domain {
	return &Domain{
		Name:              EIP712DomainName,
		Version:           EIP712DomainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: verifyingContract,
	}
}

// Hash computes the EIP712 domain separator hash
func (d *Domain) Hash() common.Hash {
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: bytes32Type}, // nameHash
		{Type: bytes32Type}, // versionHash
		{Type: uint256Type}, // chainId
		{Type: addressType}, // verifyingContract
	}

	encoded, err := arguments.Pack(
		EIP712DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		bigOrZero(d.ChainID),
		d.VerifyingContract,
	)
	if err != nil {
		panic("failed to encode domain separator: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// StructHash computes the EIP712 struct hash of the order. Dynamic bytes
// fields are encoded as their keccak256 digest.
func (o *Order) StructHash() common.Hash {
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: addressType}, // exchange
		{Type: addressType}, // maker
		{Type: addressType}, // taker
		{Type: uint8Type},   // saleSide
		{Type: uint8Type},   // saleKind
		{Type: addressType}, // target
		{Type: addressType}, // paymentToken
		{Type: bytes32Type}, // keccak256(calldata_)
		{Type: bytes32Type}, // keccak256(replacementPattern)
		{Type: addressType}, // staticTarget
		{Type: bytes32Type}, // keccak256(staticExtra)
		{Type: uint256Type}, // basePrice
		{Type: uint256Type}, // endPrice
		{Type: uint256Type}, // listingTime
		{Type: uint256Type}, // expirationTime
		{Type: uint256Type}, // salt
	}

	encoded, err := arguments.Pack(
		OrderTypeHash,
		o.Exchange,
		o.Maker,
		o.Taker,
		uint8(o.SaleSide),
		uint8(o.SaleKind),
		o.Target,
		o.PaymentToken,
		crypto.Keccak256Hash(o.CallData),
		crypto.Keccak256Hash(o.ReplacementPattern),
		o.StaticTarget,
		crypto.Keccak256Hash(o.StaticExtra),
		bigOrZero(o.BasePrice),
		bigOrZero(o.EndPrice),
		bigOrZero(o.ListingTime),
		bigOrZero(o.ExpirationTime),
		bigOrZero(o.Salt),
	)
	if err != nil {
		panic("failed to encode order struct: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// OrderSignHash creates the final EIP712 digest to be signed:
// keccak256("\x19\x01" ++ domainSeparator ++ structHash)
func OrderSignHash(domain *Domain, order *Order) common.Hash {
	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, domain.Hash().Bytes()...)
	data = append(data, order.StructHash().Bytes()...)
	return crypto.Keccak256Hash(data)
}

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "exchange", Type: "address"},
		{Name: "maker", Type: "address"},
		{Name: "taker", Type: "address"},
		{Name: "saleSide", Type: "uint8"},
		{Name: "saleKind", Type: "uint8"},
		{Name: "target", Type: "address"},
		{Name: "paymentToken", Type: "address"},
		{Name: "calldata_", Type: "bytes"},
		{Name: "replacementPattern", Type: "bytes"},
		{Name: "staticTarget", Type: "address"},
		{Name: "staticExtra", Type: "bytes"},
		{Name: "basePrice", Type: "uint256"},
		{Name: "endPrice", Type: "uint256"},
		{Name: "listingTime", Type: "uint256"},
		{Name: "expirationTime", Type: "uint256"},
		{Name: "salt", Type: "uint256"},
	},
}

// OrderTypedData returns the order as an eth_signTypedData_v4 payload.
func OrderTypedData(domain *Domain, order *Order) apitypes.TypedData {
	chainID := math.HexOrDecimal256(*bigOrZero(domain.ChainID))
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           &chainID,
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"exchange":           order.Exchange.Hex(),
			"maker":              order.Maker.Hex(),
			"taker":              order.Taker.Hex(),
			"saleSide":           big.NewInt(int64(order.SaleSide)).String(),
			"saleKind":           big.NewInt(int64(order.SaleKind)).String(),
			"target":             order.Target.Hex(),
			"paymentToken":       order.PaymentToken.Hex(),
			"calldata_":          hexutil.Encode(nonNilBytes(order.CallData)),
			"replacementPattern": hexutil.Encode(nonNilBytes(order.ReplacementPattern)),
			"staticTarget":       order.StaticTarget.Hex(),
			"staticExtra":        hexutil.Encode(nonNilBytes(order.StaticExtra)),
			"basePrice":          bigString(order.BasePrice),
			"endPrice":           bigString(order.EndPrice),
			"listingTime":        bigString(order.ListingTime),
			"expirationTime":     bigString(order.ExpirationTime),
			"salt":               bigString(order.Salt),
		},
	}
}
