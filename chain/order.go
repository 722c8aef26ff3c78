package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Order related errors
var (
	ErrMalformedOrder = errors.New("malformed order")
	ErrOrderExpired   = errors.New("order expired")
	ErrInvalidOrder   = errors.New("invalid order")
)

// SaleSide is the direction of the maker's intent.
type SaleSide uint8

const (
	SaleSideBuy  SaleSide = 0
	SaleSideSell SaleSide = 1
)

func (s SaleSide) String() string {
	switch s {
	case SaleSideBuy:
		return "buy"
	case SaleSideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// SaleKind is the pricing mechanism of an order.
type SaleKind uint8

const (
	SaleKindFixedPrice   SaleKind = 0
	SaleKindDutchAuction SaleKind = 1
)

// Order is the canonical exchange order. Field order matches the signing
// schema and the settlement contract's tuple layout.
type Order struct {
	Exchange           common.Address
	Maker              common.Address
	Taker              common.Address
	SaleSide           SaleSide
	SaleKind           SaleKind
	Target             common.Address
	PaymentToken       common.Address
	CallData           []byte
	ReplacementPattern []byte
	StaticTarget       common.Address
	StaticExtra        []byte
	BasePrice          *big.Int
	EndPrice           *big.Int
	ListingTime        *big.Int
	ExpirationTime     *big.Int
	Salt               *big.Int
}

// orderText is the wire form of an Order.
type orderText struct {
	Exchange           string        `json:"exchange"`
	Maker              string        `json:"maker"`
	Taker              string        `json:"taker"`
	SaleSide           uint8         `json:"saleSide"`
	SaleKind           uint8         `json:"saleKind"`
	Target             string        `json:"target"`
	PaymentToken       string        `json:"paymentToken"`
	CallData           hexutil.Bytes `json:"calldata_"`
	ReplacementPattern hexutil.Bytes `json:"replacementPattern"`
	StaticTarget       string        `json:"staticTarget"`
	StaticExtra        hexutil.Bytes `json:"staticExtra"`
	BasePrice          string        `json:"basePrice"`
	EndPrice           string        `json:"endPrice"`
	ListingTime        string        `json:"listingTime"`
	ExpirationTime     string        `json:"expirationTime"`
	Salt               string        `json:"salt"`
}

// ParseOrder parses the backend's JSON order record. Every field is
// required; integers may be decimal strings, 0x hex strings or JSON numbers.
func ParseOrder(raw []byte) (*Order, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOrder, err)
	}

	p := orderParser{fields: fields}
	o := &Order{
		Exchange:           p.address("exchange"),
		Maker:              p.address("maker"),
		Taker:              p.address("taker"),
		SaleSide:           SaleSide(p.uint8("saleSide")),
		SaleKind:           SaleKind(p.uint8("saleKind")),
		Target:             p.address("target"),
		PaymentToken:       p.address("paymentToken"),
		CallData:           p.bytes("calldata_"),
		ReplacementPattern: p.bytes("replacementPattern"),
		StaticTarget:       p.address("staticTarget"),
		StaticExtra:        p.bytes("staticExtra"),
		BasePrice:          p.uint256("basePrice"),
		EndPrice:           p.uint256("endPrice"),
		ListingTime:        p.uint256("listingTime"),
		ExpirationTime:     p.uint256("expirationTime"),
		Salt:               p.uint256("salt"),
	}
	if p.err != nil {
		return nil, p.err
	}
	return o, nil
}

// orderParser keeps the first error so ParseOrder reads as a field list.
type orderParser struct {
	fields map[string]json.RawMessage
	err    error
}

func (p *orderParser) fail(name string, format string, args ...interface{}) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: field %s: %s", ErrMalformedOrder, name, fmt.Sprintf(format, args...))
	}
}

func (p *orderParser) field(name string) (json.RawMessage, bool) {
	if p.err != nil {
		return nil, false
	}
	v, ok := p.fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		p.fail(name, "missing")
		return nil, false
	}
	return v, true
}

func (p *orderParser) str(name string) (string, bool) {
	v, ok := p.field(name)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		p.fail(name, "expected string")
		return "", false
	}
	return s, true
}

func (p *orderParser) address(name string) common.Address {
	s, ok := p.str(name)
	if !ok {
		return common.Address{}
	}
	if !common.IsHexAddress(s) {
		p.fail(name, "invalid address %q", s)
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (p *orderParser) bytes(name string) []byte {
	s, ok := p.str(name)
	if !ok {
		return nil
	}
	if s == "" || s == "0x" {
		return []byte{}
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		p.fail(name, "invalid hex bytes: %v", err)
		return nil
	}
	return b
}

func (p *orderParser) uint256(name string) *big.Int {
	v, ok := p.field(name)
	if !ok {
		return nil
	}

	var text string
	if err := json.Unmarshal(v, &text); err != nil {
		// JSON number
		var num json.Number
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&num); err != nil {
			p.fail(name, "expected integer")
			return nil
		}
		text = num.String()
	}

	n, err := parseUint256(text)
	if err != nil {
		p.fail(name, "%v", err)
		return nil
	}
	return n
}

func (p *orderParser) uint8(name string) uint8 {
	n := p.uint256(name)
	if n == nil {
		return 0
	}
	if !n.IsUint64() || n.Uint64() > 255 {
		p.fail(name, "out of range for uint8")
		return 0
	}
	return uint8(n.Uint64())
}

func parseUint256(text string) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty integer")
	}

	var (
		n  *big.Int
		ok bool
	)
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		n, ok = new(big.Int).SetString(text[2:], 16)
	} else {
		n, ok = new(big.Int).SetString(text, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", text)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative integer %q", text)
	}
	if n.BitLen() > 256 {
		return nil, fmt.Errorf("integer %q exceeds 256 bits", text)
	}
	return n, nil
}

// MarshalJSON writes the order in its wire form with decimal integers.
func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderText{
		Exchange:           o.Exchange.Hex(),
		Maker:              o.Maker.Hex(),
		Taker:              o.Taker.Hex(),
		SaleSide:           uint8(o.SaleSide),
		SaleKind:           uint8(o.SaleKind),
		Target:             o.Target.Hex(),
		PaymentToken:       o.PaymentToken.Hex(),
		CallData:           nonNilBytes(o.CallData),
		ReplacementPattern: nonNilBytes(o.ReplacementPattern),
		StaticTarget:       o.StaticTarget.Hex(),
		StaticExtra:        nonNilBytes(o.StaticExtra),
		BasePrice:          bigString(o.BasePrice),
		EndPrice:           bigString(o.EndPrice),
		ListingTime:        bigString(o.ListingTime),
		ExpirationTime:     bigString(o.ExpirationTime),
		Salt:               bigString(o.Salt),
	})
}

// UnmarshalJSON accepts the same forms as ParseOrder.
func (o *Order) UnmarshalJSON(data []byte) error {
	parsed, err := ParseOrder(data)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

// Validate checks the order can be signed at now.
func (o *Order) Validate(now time.Time) error {
	ints := []struct {
		name string
		v    *big.Int
	}{
		{"basePrice", o.BasePrice},
		{"endPrice", o.EndPrice},
		{"listingTime", o.ListingTime},
		{"expirationTime", o.ExpirationTime},
		{"salt", o.Salt},
	}
	for _, f := range ints {
		if f.v == nil {
			return fmt.Errorf("%w: %s is not set", ErrInvalidOrder, f.name)
		}
		if f.v.Sign() < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidOrder, f.name)
		}
	}
	if o.SaleSide > SaleSideSell {
		return fmt.Errorf("%w: unknown sale side %d", ErrInvalidOrder, o.SaleSide)
	}
	if o.SaleKind > SaleKindDutchAuction {
		return fmt.Errorf("%w: unknown sale kind %d", ErrInvalidOrder, o.SaleKind)
	}
	if o.SaleKind == SaleKindFixedPrice && o.BasePrice.Cmp(o.EndPrice) != 0 {
		return fmt.Errorf("%w: fixed price order has basePrice %s != endPrice %s",
			ErrInvalidOrder, o.BasePrice, o.EndPrice)
	}
	if o.ExpirationTime.Sign() != 0 && o.ExpirationTime.Cmp(big.NewInt(now.Unix())) <= 0 {
		return fmt.Errorf("%w: expirationTime %s is not after %d", ErrOrderExpired, o.ExpirationTime, now.Unix())
	}
	return nil
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.CallData = common.CopyBytes(o.CallData)
	c.ReplacementPattern = common.CopyBytes(o.ReplacementPattern)
	c.StaticExtra = common.CopyBytes(o.StaticExtra)
	c.BasePrice = copyBig(o.BasePrice)
	c.EndPrice = copyBig(o.EndPrice)
	c.ListingTime = copyBig(o.ListingTime)
	c.ExpirationTime = copyBig(o.ExpirationTime)
	c.Salt = copyBig(o.Salt)
	return &c
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func bigString(v *big.Int) string {
	return bigOrZero(v).String()
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
