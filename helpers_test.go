package wyvernmarket

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/wisysta/wyvern-market-sdk-go/chain"
)

var (
	testExchange = common.HexToAddress(DefaultContractAddresses[ChainIDGoerli].Exchange)
	testWETH     = common.HexToAddress(DefaultContractAddresses[ChainIDGoerli].WETH)
	testAsset    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testNow      = time.Unix(1700000000, 0)
)

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return NewSession(chain.NewKeySigner(newTestKey(t), chain.DefaultChainID, nil))
}

func marketOrder(maker common.Address, side chain.SaleSide, price int64, salt int64) *chain.Order {
	return &chain.Order{
		Exchange:           testExchange,
		Maker:              maker,
		SaleSide:           side,
		SaleKind:           chain.SaleKindFixedPrice,
		Target:             testAsset,
		CallData:           common.FromHex("0x23b872dd"),
		ReplacementPattern: common.FromHex("0x00000000"),
		StaticExtra:        []byte{},
		BasePrice:          big.NewInt(price),
		EndPrice:           big.NewInt(price),
		ListingTime:        big.NewInt(testNow.Unix() - 60),
		ExpirationTime:     big.NewInt(0),
		Salt:               big.NewInt(salt),
	}
}

type approvalKey struct {
	asset, owner, operator common.Address
}

// fakeChain keeps registry, approval and allowance state in memory.
// Remediations update the state unless noop or failOn says otherwise.
type fakeChain struct {
	mu        sync.Mutex
	proxies   map[common.Address]common.Address
	approvals map[approvalKey]bool
	allowance map[common.Address]*big.Int
	decimals  int
	failOn    string
	noop      bool
	calls     []string
	matches   []*chain.MatchParams
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		proxies:   make(map[common.Address]common.Address),
		approvals: make(map[approvalKey]bool),
		allowance: make(map[common.Address]*big.Int),
		decimals:  18,
	}
}

func (f *fakeChain) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failOn == call {
		return errors.New(call + ": user denied transaction signature")
	}
	return nil
}

func (f *fakeChain) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func receiptFor(call string) *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: crypto.Keccak256Hash([]byte(call))}
}

func (f *fakeChain) ProxyOf(_ context.Context, owner common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proxies[owner], nil
}

func (f *fakeChain) IsApprovedForAll(_ context.Context, asset, owner, operator common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approvals[approvalKey{asset, owner, operator}], nil
}

func (f *fakeChain) Allowance(_ context.Context, _, owner, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.allowance[owner]; ok {
		return a, nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) TokenDecimals(context.Context, common.Address) (int, error) {
	return f.decimals, nil
}

func (f *fakeChain) RegisterProxy(_ context.Context, tx chain.Transactor) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("registerProxy"); err != nil {
		return nil, err
	}
	if !f.noop {
		f.proxies[tx.From()] = common.BytesToAddress(crypto.Keccak256(tx.From().Bytes()))
	}
	return receiptFor("registerProxy"), nil
}

func (f *fakeChain) SetApprovalForAll(_ context.Context, tx chain.Transactor, asset, operator common.Address) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("setApprovalForAll"); err != nil {
		return nil, err
	}
	if !f.noop {
		f.approvals[approvalKey{asset, tx.From(), operator}] = true
	}
	return receiptFor("setApprovalForAll"), nil
}

func (f *fakeChain) ApproveUnlimited(_ context.Context, tx chain.Transactor, _, _ common.Address) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("approve"); err != nil {
		return nil, err
	}
	if !f.noop {
		f.allowance[tx.From()] = chain.MaxUint256
	}
	return receiptFor("approve"), nil
}

func (f *fakeChain) AtomicMatch(_ context.Context, _ chain.Transactor, params *chain.MatchParams) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("atomicMatch"); err != nil {
		return nil, err
	}
	f.matches = append(f.matches, params)
	return receiptFor("atomicMatch"), nil
}

// fakeGenerator plays the order generation backend.
type fakeGenerator struct {
	calls    int
	err      error
	requests []GenerateRequest
}

func (g *fakeGenerator) GenerateOrder(_ context.Context, session *Session, req GenerateRequest) (*GeneratedOrder, error) {
	g.calls++
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}

	side := chain.SaleSideSell
	if req.Kind == IntentOffer || req.Kind == IntentBuy {
		side = chain.SaleSideBuy
	}
	var price int64 = 1000
	if req.Order != nil {
		p, ok := new(big.Int).SetString(req.Order.Price[2:], 16)
		if ok && p.IsInt64() {
			price = p.Int64()
		}
	}

	generated := &GeneratedOrder{Kind: req.Kind, Order: marketOrder(session.Account, side, price, int64(g.calls))}
	if req.Kind.makerSide() {
		generated.ID = "order-1"
	}
	return generated, nil
}

type fakeTokens struct {
	calls int
}

func (f *fakeTokens) TokenDecimals(context.Context, common.Address) (int, error) {
	f.calls++
	return 18, nil
}

// fakeSubmitter plays the verification backend.
type fakeSubmitter struct {
	reject    bool
	submitted []*SignedOrder
}

func (s *fakeSubmitter) Submit(_ context.Context, _ *Session, signed *SignedOrder) error {
	if s.reject {
		return &SubmissionError{OrderID: signed.ID, Reason: "signature mismatch"}
	}
	s.submitted = append(s.submitted, signed)
	return nil
}

// cancellingSigner declines every signature request.
type cancellingSigner struct {
	chain.Signer
}

func (cancellingSigner) SignTypedOrder(context.Context, *chain.Domain, *chain.Order) ([]byte, error) {
	return nil, chain.ErrSigningCancelled
}
