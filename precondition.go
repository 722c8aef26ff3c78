package wyvernmarket

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/wisysta/wyvern-market-sdk-go/chain"
)

// ProxyRegistry resolves an actor's proxy contract
type ProxyRegistry interface {
	ProxyOf(ctx context.Context, owner common.Address) (common.Address, error)
}

// AssetContract reads operator approvals on an NFT contract
type AssetContract interface {
	IsApprovedForAll(ctx context.Context, asset, owner, operator common.Address) (bool, error)
}

// PaymentToken reads ERC20 allowances
type PaymentToken interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Remediator sends the transactions that satisfy a failed precondition.
// Each call returns once the transaction is mined.
type Remediator interface {
	ProxyOf(ctx context.Context, owner common.Address) (common.Address, error)
	RegisterProxy(ctx context.Context, tx chain.Transactor) (*types.Receipt, error)
	SetApprovalForAll(ctx context.Context, tx chain.Transactor, asset, operator common.Address) (*types.Receipt, error)
	ApproveUnlimited(ctx context.Context, tx chain.Transactor, token, spender common.Address) (*types.Receipt, error)
}

// Checker reads proxy, approval and allowance state. It keeps no cache.
type Checker struct {
	registry     ProxyRegistry
	assets       AssetContract
	tokens       PaymentToken
	exchange     common.Address
	paymentToken common.Address
}

// NewChecker creates a Checker. Allowances are read on paymentToken for exchange.
func NewChecker(registry ProxyRegistry, assets AssetContract, tokens PaymentToken, exchange, paymentToken common.Address) *Checker {
	return &Checker{
		registry:     registry,
		assets:       assets,
		tokens:       tokens,
		exchange:     exchange,
		paymentToken: paymentToken,
	}
}

// CheckProxy reports whether actor has registered a proxy
func (c *Checker) CheckProxy(ctx context.Context, actor common.Address) (bool, error) {
	proxy, err := c.registry.ProxyOf(ctx, actor)
	if err != nil {
		return false, fmt.Errorf("check proxy: %w", err)
	}
	return proxy != (common.Address{}), nil
}

// CheckApproval reports whether actor's proxy may transfer actor's tokens on asset
func (c *Checker) CheckApproval(ctx context.Context, actor, asset common.Address) (bool, error) {
	proxy, err := c.registry.ProxyOf(ctx, actor)
	if err != nil {
		return false, fmt.Errorf("check approval: %w", err)
	}
	if proxy == (common.Address{}) {
		return false, nil
	}

	approved, err := c.assets.IsApprovedForAll(ctx, asset, actor, proxy)
	if err != nil {
		return false, fmt.Errorf("check approval: %w", err)
	}
	return approved, nil
}

// CheckAllowance reports whether actor has approved the exchange on the payment token.
// Any non-zero allowance passes regardless of order price.
func (c *Checker) CheckAllowance(ctx context.Context, actor common.Address) (bool, error) {
	allowance, err := c.tokens.Allowance(ctx, c.paymentToken, actor, c.exchange)
	if err != nil {
		return false, fmt.Errorf("check allowance: %w", err)
	}
	return allowance != nil && allowance.Sign() > 0, nil
}

// State reads the required preconditions concurrently. Unrequired ones report true.
func (c *Checker) State(ctx context.Context, actor, asset common.Address, reqs Requirement) (*PreconditionState, error) {
	state := &PreconditionState{HasProxy: true, IsApproved: true, HasAllowance: true}

	g, gctx := errgroup.WithContext(ctx)
	if reqs.Has(RequireProxy) {
		g.Go(func() error {
			ok, err := c.CheckProxy(gctx, actor)
			state.HasProxy = ok
			return err
		})
	}
	if reqs.Has(RequireApproval) {
		g.Go(func() error {
			ok, err := c.CheckApproval(gctx, actor, asset)
			state.IsApproved = ok
			return err
		})
	}
	if reqs.Has(RequireAllowance) {
		g.Go(func() error {
			ok, err := c.CheckAllowance(gctx, actor)
			state.HasAllowance = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

// NextGate returns the first failing precondition in priority order
// allowance, proxy, approval, or StateGenerateOrder when all pass.
func NextGate(state *PreconditionState, reqs Requirement) FlowState {
	switch {
	case reqs.Has(RequireAllowance) && !state.HasAllowance:
		return StateApproveWETH
	case reqs.Has(RequireProxy) && !state.HasProxy:
		return StateProxyRegister
	case reqs.Has(RequireApproval) && !state.IsApproved:
		return StateApproveOperator
	default:
		return StateGenerateOrder
	}
}

// gateError wraps ErrPreconditionFailed with the state that would clear it.
func gateError(gate FlowState) error {
	return fmt.Errorf("%w: %s required", ErrPreconditionFailed, gate)
}
