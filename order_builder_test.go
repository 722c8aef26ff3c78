package wyvernmarket

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(gen *fakeGenerator, tokens *fakeTokens) *OrderBuilder {
	b := NewOrderBuilder(gen, tokens, testWETH)
	b.now = func() time.Time { return testNow }
	return b
}

func TestBuildSellRequest(t *testing.T) {
	session := newTestSession(t)
	gen, tokens := &fakeGenerator{}, &fakeTokens{}
	b := newTestBuilder(gen, tokens)

	generated, err := b.Build(context.Background(), session, Intent{
		Kind:           IntentSell,
		Contract:       testAsset,
		TokenID:        "7",
		Price:          "0.5",
		ExpirationTime: testNow.Unix() + 3600,
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", generated.ID)
	assert.Equal(t, session.Account, generated.Order.Maker)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, IntentSell, req.Kind)
	assert.Nil(t, req.Counter)
	require.NotNil(t, req.Order)
	assert.Equal(t, &OrderRequest{
		Maker:          session.Account.Hex(),
		Contract:       testAsset.Hex(),
		TokenID:        "7",
		Price:          "0x6f05b59d3b20000",
		ExpirationTime: testNow.Unix() + 3600,
	}, req.Order)
	assert.Equal(t, 1, tokens.calls)
}

func TestBuildRejectsBeforeAnyCall(t *testing.T) {
	session := newTestSession(t)
	cases := []struct {
		name   string
		intent Intent
	}{
		{"negative price", Intent{Kind: IntentSell, Contract: testAsset, TokenID: "1", Price: "-1"}},
		{"missing price", Intent{Kind: IntentOffer, Contract: testAsset, TokenID: "1"}},
		{"huge exponent", Intent{Kind: IntentSell, Contract: testAsset, TokenID: "1", Price: "1e20000000"}},
		{"tiny exponent", Intent{Kind: IntentOffer, Contract: testAsset, TokenID: "1", Price: "1e-20000000"}},
		{"non-numeric price", Intent{Kind: IntentSell, Contract: testAsset, TokenID: "1", Price: "cheap"}},
		{"past expiration", Intent{Kind: IntentSell, Contract: testAsset, TokenID: "1", Price: "1", ExpirationTime: testNow.Unix() - 1}},
		{"bad token id", Intent{Kind: IntentSell, Contract: testAsset, TokenID: "0x1", Price: "1"}},
		{"missing contract", Intent{Kind: IntentSell, TokenID: "1", Price: "1"}},
		{"buy without order", Intent{Kind: IntentBuy}},
		{"foreign maker", Intent{Kind: IntentSell, Maker: common.HexToAddress("0x5555555555555555555555555555555555555555"), Contract: testAsset, TokenID: "1", Price: "1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen, tokens := &fakeGenerator{}, &fakeTokens{}
			_, err := newTestBuilder(gen, tokens).Build(context.Background(), session, tc.intent)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Zero(t, gen.calls)
			assert.Zero(t, tokens.calls)
		})
	}
}

func TestBuildRequiresSession(t *testing.T) {
	gen := &fakeGenerator{}
	_, err := newTestBuilder(gen, nil).Build(context.Background(), nil, Intent{Kind: IntentSell})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, gen.calls)
}

func TestBuildCounterOrder(t *testing.T) {
	session := newTestSession(t)
	gen, tokens := &fakeGenerator{}, &fakeTokens{}

	generated, err := newTestBuilder(gen, tokens).Build(context.Background(), session, Intent{
		Kind:           IntentBuy,
		CounterOrderID: "listing-9",
	})
	require.NoError(t, err)
	assert.Empty(t, generated.ID)

	require.Len(t, gen.requests, 1)
	assert.Nil(t, gen.requests[0].Order)
	assert.Equal(t, &CounterOrderRequest{OrderID: "listing-9", Maker: session.Account.Hex()}, gen.requests[0].Counter)
	assert.Zero(t, tokens.calls)
}

// otherMakerGenerator returns orders made by someone else.
type otherMakerGenerator struct{}

func (otherMakerGenerator) GenerateOrder(context.Context, *Session, GenerateRequest) (*GeneratedOrder, error) {
	maker := common.HexToAddress("0x6666666666666666666666666666666666666666")
	return &GeneratedOrder{ID: "x", Order: marketOrder(maker, 1, 1000, 1)}, nil
}

func TestBuildRejectsForeignGeneratedMaker(t *testing.T) {
	session := newTestSession(t)
	b := NewOrderBuilder(otherMakerGenerator{}, nil, testWETH)

	_, err := b.Build(context.Background(), session, Intent{Kind: IntentSell, Contract: testAsset, TokenID: "1", Price: "1"})
	assert.ErrorIs(t, err, ErrOpenAPI)
}
