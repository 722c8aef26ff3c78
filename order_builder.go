package wyvernmarket

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// OrderGenerator populates orders on the backend
type OrderGenerator interface {
	GenerateOrder(ctx context.Context, session *Session, req GenerateRequest) (*GeneratedOrder, error)
}

// OrderSubmitter verifies signed orders on the backend
type OrderSubmitter interface {
	Submit(ctx context.Context, session *Session, signed *SignedOrder) error
}

// TokenMetadata reads payment token decimals
type TokenMetadata interface {
	TokenDecimals(ctx context.Context, token common.Address) (int, error)
}

// OrderBuilder validates an intent and has the backend populate its order
type OrderBuilder struct {
	generator    OrderGenerator
	tokens       TokenMetadata
	paymentToken common.Address
	now          func() time.Time
}

// NewOrderBuilder creates an OrderBuilder. tokens may be nil, in which case
// prices use DefaultTokenDecimals.
func NewOrderBuilder(generator OrderGenerator, tokens TokenMetadata, paymentToken common.Address) *OrderBuilder {
	return &OrderBuilder{
		generator:    generator,
		tokens:       tokens,
		paymentToken: paymentToken,
		now:          time.Now,
	}
}

// Build validates the intent locally, then requests the order.
// Nothing is sent to a collaborator for an invalid price or expiration.
func (b *OrderBuilder) Build(ctx context.Context, session *Session, intent Intent) (*GeneratedOrder, error) {
	if !session.Connected() {
		return nil, ErrNotConnected
	}
	maker := intent.Maker
	if maker == (common.Address{}) {
		maker = session.Account
	}
	if maker != session.Account {
		return nil, &InvalidParamError{Message: fmt.Sprintf("maker %s is not the session account %s", maker.Hex(), session.Account.Hex())}
	}

	req := GenerateRequest{Kind: intent.Kind}
	switch intent.Kind {
	case IntentSell, IntentOffer:
		orderReq, err := b.makerRequest(ctx, maker, intent)
		if err != nil {
			return nil, err
		}
		req.Order = orderReq
	case IntentBuy, IntentAccept:
		if strings.TrimSpace(intent.CounterOrderID) == "" {
			return nil, &InvalidParamError{Message: fmt.Sprintf("%s requires the id of the order to fill", intent.Kind)}
		}
		req.Counter = &CounterOrderRequest{
			OrderID: intent.CounterOrderID,
			Maker:   maker.Hex(),
		}
	default:
		return nil, &InvalidParamError{Message: fmt.Sprintf("unknown intent %s", intent.Kind)}
	}

	generated, err := b.generator.GenerateOrder(ctx, session, req)
	if err != nil {
		return nil, err
	}
	if generated.Order.Maker != maker {
		return nil, &OpenAPIError{Message: fmt.Sprintf("generated order maker %s does not match %s", generated.Order.Maker.Hex(), maker.Hex())}
	}
	return generated, nil
}

func (b *OrderBuilder) makerRequest(ctx context.Context, maker common.Address, intent Intent) (*OrderRequest, error) {
	if intent.Contract == (common.Address{}) {
		return nil, &InvalidParamError{Message: "contract is required"}
	}
	if err := validateTokenID(intent.TokenID); err != nil {
		return nil, err
	}
	if err := validatePrice(intent.Price); err != nil {
		return nil, err
	}
	if err := ValidateExpiration(intent.ExpirationTime, b.now()); err != nil {
		return nil, err
	}

	decimals := DefaultTokenDecimals
	if b.tokens != nil && b.paymentToken != (common.Address{}) {
		d, err := b.tokens.TokenDecimals(ctx, b.paymentToken)
		if err != nil {
			return nil, err
		}
		decimals = d
	}

	amount, err := PriceToBaseUnits(intent.Price, decimals)
	if err != nil {
		return nil, err
	}

	return &OrderRequest{
		Maker:          maker.Hex(),
		Contract:       intent.Contract.Hex(),
		TokenID:        intent.TokenID,
		Price:          hexutil.EncodeBig(amount),
		ExpirationTime: intent.ExpirationTime,
	}, nil
}

// validatePrice rejects empty, non-numeric and negative prices, and prices
// out of range for every supported decimals value.
func validatePrice(price string) error {
	price = strings.TrimSpace(price)
	if price == "" {
		return &InvalidParamError{Message: "price is required"}
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return &InvalidParamError{Message: fmt.Sprintf("price is not a number: %q", price)}
	}
	if d.IsNegative() {
		return &InvalidParamError{Message: fmt.Sprintf("price must not be negative, got: %s", price)}
	}
	return checkPriceScale(d, price, 0, MaxDecimals)
}

func validateTokenID(tokenID string) error {
	n, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || n.Sign() < 0 {
		return &InvalidParamError{Message: fmt.Sprintf("token id must be a non-negative integer, got: %q", tokenID)}
	}
	return nil
}
