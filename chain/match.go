package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrOrdersNotMatchable is returned when two orders cannot settle against each other.
var ErrOrdersNotMatchable = errors.New("orders not matchable")

// FeeDenominator gives the 2.5% exchange fee on a direct buy.
const FeeDenominator = 40

// SigTriple is a signature split for the exchange's (bytes32 r, bytes32 s, uint8 v) tuple.
type SigTriple struct {
	R [32]byte
	S [32]byte
	V uint8
}

// SplitSignature splits a 65 byte r||s||v signature.
func SplitSignature(sig []byte) (SigTriple, error) {
	var t SigTriple
	if len(sig) != SignatureLength {
		return t, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSignature, len(sig), SignatureLength)
	}
	copy(t.R[:], sig[:32])
	copy(t.S[:], sig[32:64])
	t.V = sig[64]
	return t, nil
}

// ParseSignature decodes a 0x hex signature and splits it.
func ParseSignature(s string) (SigTriple, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return SigTriple{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return SplitSignature(b)
}

// Bytes re-joins r||s||v.
func (t SigTriple) Bytes() []byte {
	out := make([]byte, 0, SignatureLength)
	out = append(out, t.R[:]...)
	out = append(out, t.S[:]...)
	return append(out, t.V)
}

// Hex returns r, s and v as fixed width 0x strings.
func (t SigTriple) Hex() (r, s, v string) {
	return hexutil.Encode(t.R[:]), hexutil.Encode(t.S[:]), hexutil.Encode([]byte{t.V})
}

// OrderTuple is the positional order tuple taken by atomicMatch.
type OrderTuple struct {
	Exchange           common.Address
	Maker              common.Address
	Taker              common.Address
	SaleSide           uint8
	SaleKind           uint8
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

// Tuple converts the order for ABI packing. Unset fields become zero values.
func (o *Order) Tuple() OrderTuple {
	return OrderTuple{
		Exchange:           o.Exchange,
		Maker:              o.Maker,
		Taker:              o.Taker,
		SaleSide:           uint8(o.SaleSide),
		SaleKind:           uint8(o.SaleKind),
		Target:             o.Target,
		PaymentToken:       o.PaymentToken,
		CallData:           nonNilBytes(o.CallData),
		ReplacementPattern: nonNilBytes(o.ReplacementPattern),
		StaticTarget:       o.StaticTarget,
		StaticExtra:        nonNilBytes(o.StaticExtra),
		BasePrice:          new(big.Int).Set(bigOrZero(o.BasePrice)),
		EndPrice:           new(big.Int).Set(bigOrZero(o.EndPrice)),
		ListingTime:        new(big.Int).Set(bigOrZero(o.ListingTime)),
		ExpirationTime:     new(big.Int).Set(bigOrZero(o.ExpirationTime)),
		Salt:               new(big.Int).Set(bigOrZero(o.Salt)),
	}
}

// Values returns the 16 tuple fields in contract order.
func (t OrderTuple) Values() []interface{} {
	return []interface{}{
		t.Exchange,
		t.Maker,
		t.Taker,
		t.SaleSide,
		t.SaleKind,
		t.Target,
		t.PaymentToken,
		nonNilBytes(t.CallData),
		nonNilBytes(t.ReplacementPattern),
		t.StaticTarget,
		nonNilBytes(t.StaticExtra),
		bigOrZero(t.BasePrice),
		bigOrZero(t.EndPrice),
		bigOrZero(t.ListingTime),
		bigOrZero(t.ExpirationTime),
		bigOrZero(t.Salt),
	}
}

// Fee returns floor(basePrice / 40).
func Fee(basePrice *big.Int) *big.Int {
	return new(big.Int).Quo(bigOrZero(basePrice), big.NewInt(FeeDenominator))
}

// SettlementValue returns basePrice plus its fee.
func SettlementValue(basePrice *big.Int) *big.Int {
	return new(big.Int).Add(bigOrZero(basePrice), Fee(basePrice))
}

// Settlement names which side of atomicMatch each order takes.
type Settlement int

const (
	// SettleDirectBuy: the taker's buy order fills a listed sell order and pays price plus fee.
	SettleDirectBuy Settlement = iota
	// SettleOfferAcceptance: the taker's sell order fills a standing offer, which sits in the buy slot.
	SettleOfferAcceptance
)

func (s Settlement) String() string {
	switch s {
	case SettleDirectBuy:
		return "direct-buy"
	case SettleOfferAcceptance:
		return "offer-acceptance"
	default:
		return fmt.Sprintf("settlement(%d)", int(s))
	}
}

// MatchSide is one order and its signature.
type MatchSide struct {
	Order     *Order
	Signature []byte
}

// MatchParams holds the exact atomicMatch arguments and attached value.
type MatchParams struct {
	Buy     OrderTuple
	BuySig  SigTriple
	Sell    OrderTuple
	SellSig SigTriple
	Value   *big.Int
}

// AssembleMatch places taker and maker in the buy and sell slots per settlement.
func AssembleMatch(settlement Settlement, taker, maker MatchSide) (*MatchParams, error) {
	var buy, sell MatchSide
	switch settlement {
	case SettleDirectBuy:
		buy, sell = taker, maker
	case SettleOfferAcceptance:
		buy, sell = maker, taker
	default:
		return nil, fmt.Errorf("unknown settlement %d", int(settlement))
	}
	if buy.Order == nil || sell.Order == nil {
		return nil, fmt.Errorf("%w: missing order", ErrOrdersNotMatchable)
	}

	if err := checkMatchable(buy.Order, sell.Order); err != nil {
		return nil, err
	}

	buySig, err := SplitSignature(buy.Signature)
	if err != nil {
		return nil, fmt.Errorf("buy signature: %w", err)
	}
	sellSig, err := SplitSignature(sell.Signature)
	if err != nil {
		return nil, fmt.Errorf("sell signature: %w", err)
	}

	value := new(big.Int)
	if settlement == SettleDirectBuy {
		value = SettlementValue(taker.Order.BasePrice)
	}

	return &MatchParams{
		Buy:     buy.Order.Tuple(),
		BuySig:  buySig,
		Sell:    sell.Order.Tuple(),
		SellSig: sellSig,
		Value:   value,
	}, nil
}

func checkMatchable(buy, sell *Order) error {
	switch {
	case buy.SaleSide != SaleSideBuy:
		return fmt.Errorf("%w: buy slot order has side %s", ErrOrdersNotMatchable, buy.SaleSide)
	case sell.SaleSide != SaleSideSell:
		return fmt.Errorf("%w: sell slot order has side %s", ErrOrdersNotMatchable, sell.SaleSide)
	case buy.Exchange != sell.Exchange:
		return fmt.Errorf("%w: exchange %s != %s", ErrOrdersNotMatchable, buy.Exchange.Hex(), sell.Exchange.Hex())
	case buy.Target != sell.Target:
		return fmt.Errorf("%w: target %s != %s", ErrOrdersNotMatchable, buy.Target.Hex(), sell.Target.Hex())
	case buy.PaymentToken != sell.PaymentToken:
		return fmt.Errorf("%w: payment token %s != %s", ErrOrdersNotMatchable, buy.PaymentToken.Hex(), sell.PaymentToken.Hex())
	}
	return nil
}
