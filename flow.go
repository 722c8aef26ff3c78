package wyvernmarket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wisysta/wyvern-market-sdk-go/chain"
	logging "github.com/wisysta/wyvern-market-sdk-go/log"
)

var flowLogger = logging.Logger("flow")

// LoginFunc connects an actor. The flow calls it when advanced without a session.
type LoginFunc func(ctx context.Context) error

// FlowDeps are the collaborators a Flow drives
type FlowDeps struct {
	Checker      *Checker
	Remediator   Remediator
	Builder      *OrderBuilder
	Submitter    OrderSubmitter
	Domain       *chain.Domain
	Exchange     common.Address
	PaymentToken common.Address
	Login        LoginFunc
}

// FlowOptions tune a Flow
type FlowOptions struct {
	// Requirements overrides DefaultRequirements for the intent.
	Requirements *Requirement
	// Progress receives state changes. Sends never block.
	Progress chan<- FlowEvent
	// CheckOnly stops at the first failing gate with ErrPreconditionFailed
	// instead of sending the remediation transaction.
	CheckOnly bool
	Now       func() time.Time
}

// FlowEvent reports one state transition
type FlowEvent struct {
	Kind    IntentKind
	From    FlowState
	To      FlowState
	TxHash  string
	OrderID string
	Err     error
}

// Flow drives one intent from PENDING through its precondition gates to a
// submitted or cancelled order. A Flow is not safe for concurrent use.
type Flow struct {
	kind    IntentKind
	asset   common.Address
	tokenID string
	deps    FlowDeps
	reqs    Requirement
	opts    FlowOptions

	state  FlowState
	closed bool
	signed *SignedOrder
}

// NewFlow creates a flow in StatePending for kind on (asset, tokenID)
func NewFlow(kind IntentKind, asset common.Address, tokenID string, deps FlowDeps, opts FlowOptions) *Flow {
	reqs := DefaultRequirements(kind)
	if opts.Requirements != nil {
		reqs = *opts.Requirements
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Flow{
		kind:    kind,
		asset:   asset,
		tokenID: tokenID,
		deps:    deps,
		reqs:    reqs,
		opts:    opts,
		state:   StatePending,
	}
}

// State returns the current state
func (f *Flow) State() FlowState {
	return f.state
}

// Closed reports whether the flow aborted or finished and accepts no more input
func (f *Flow) Closed() bool {
	return f.closed
}

// Signed returns the order submitted by the flow, or nil
func (f *Flow) Signed() *SignedOrder {
	return f.signed
}

// Advance moves the flow toward StateGenerateOrder. Without a connected
// session it triggers login and stays in StatePending with ErrNotConnected.
// Each failing gate is remediated once and all gates are then re-read; any
// remediation failure returns the flow to StatePending and closes it.
func (f *Flow) Advance(ctx context.Context, session *Session) (FlowState, error) {
	if f.closed {
		return f.state, ErrFlowClosed
	}
	switch f.state {
	case StateGenerateOrder:
		return f.state, nil
	case StateSubmitted, StateCancelled:
		return f.state, fmt.Errorf("%w: advance in %s", ErrInvalidState, f.state)
	}

	if !session.Connected() {
		if f.state != StatePending {
			f.transition(FlowEvent{To: StatePending})
		}
		if f.deps.Login != nil {
			if err := f.deps.Login(ctx); err != nil {
				return StatePending, fmt.Errorf("%w: login: %w", ErrNotConnected, err)
			}
		}
		return StatePending, ErrNotConnected
	}

	remediated := make(map[FlowState]bool)
	for {
		state, err := f.deps.Checker.State(ctx, session.Account, f.asset, f.reqs)
		if err != nil {
			f.transition(FlowEvent{To: StatePending, Err: err})
			return StatePending, err
		}

		gate := NextGate(state, f.reqs)
		if gate == StateGenerateOrder {
			f.transition(FlowEvent{To: StateGenerateOrder})
			return StateGenerateOrder, nil
		}
		if remediated[gate] {
			return f.abort(&RemediationError{Step: gate, Err: errors.New("precondition still unmet after remediation")})
		}

		f.transition(FlowEvent{To: gate})
		if f.opts.CheckOnly {
			return gate, gateError(gate)
		}

		receipt, err := f.remediate(ctx, session, gate)
		if err != nil {
			rerr := &RemediationError{Step: gate, Err: err}
			if receipt != nil {
				rerr.TxHash = receipt.TxHash.Hex()
			}
			return f.abort(rerr)
		}
		remediated[gate] = true
		flowLogger.Infow("remediation mined", "kind", f.kind.String(), "step", gate, "tx", receipt.TxHash.Hex())
	}
}

func (f *Flow) remediate(ctx context.Context, session *Session, gate FlowState) (*types.Receipt, error) {
	if f.deps.Remediator == nil {
		return nil, errors.New("no remediator configured")
	}
	tx := session.Transactor
	if tx == nil {
		return nil, errors.New("session cannot send transactions")
	}

	switch gate {
	case StateApproveWETH:
		return f.deps.Remediator.ApproveUnlimited(ctx, tx, f.deps.PaymentToken, f.deps.Exchange)
	case StateProxyRegister:
		return f.deps.Remediator.RegisterProxy(ctx, tx)
	case StateApproveOperator:
		proxy, err := f.deps.Remediator.ProxyOf(ctx, session.Account)
		if err != nil {
			return nil, err
		}
		if proxy == (common.Address{}) {
			return nil, errors.New("no proxy registered")
		}
		return f.deps.Remediator.SetApprovalForAll(ctx, tx, f.asset, proxy)
	default:
		return nil, fmt.Errorf("%s is not a remediation step", gate)
	}
}

// Submit builds, signs and submits the order. It is only valid in
// StateGenerateOrder. Invalid input leaves the state unchanged so the actor
// can correct it; any later failure cancels the flow.
func (f *Flow) Submit(ctx context.Context, session *Session, input OrderInput) (*SignedOrder, error) {
	if f.closed {
		return nil, ErrFlowClosed
	}
	if f.state != StateGenerateOrder {
		return nil, fmt.Errorf("%w: submit in %s", ErrInvalidState, f.state)
	}
	if !session.Connected() {
		return nil, ErrNotConnected
	}

	intent := Intent{
		Kind:           f.kind,
		Maker:          session.Account,
		Contract:       f.asset,
		TokenID:        f.tokenID,
		Price:          input.Price,
		ExpirationTime: input.ExpirationTime,
	}
	if !f.kind.makerSide() {
		if input.CounterOrder == nil {
			return nil, &InvalidParamError{Message: fmt.Sprintf("%s requires the order to fill", f.kind)}
		}
		intent.CounterOrderID = input.CounterOrder.ID
	}

	generated, err := f.deps.Builder.Build(ctx, session, intent)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		return nil, f.cancel(err, "")
	}

	sig, err := chain.SignOrder(ctx, session.Signer, f.deps.Domain, generated.Order, f.opts.Now())
	if err != nil {
		return nil, f.cancel(err, generated.ID)
	}

	signed := &SignedOrder{
		ID:        generated.ID,
		Kind:      f.kind,
		Order:     generated.Order,
		Signature: sig,
	}
	if err := f.deps.Submitter.Submit(ctx, session, signed); err != nil {
		return nil, f.cancel(err, signed.ID)
	}

	f.signed = signed
	f.closed = true
	f.transition(FlowEvent{To: StateSubmitted, OrderID: signed.ID})
	return signed, nil
}

// Cancel ends the flow in StateCancelled
func (f *Flow) Cancel() {
	if f.state.Terminal() {
		return
	}
	f.closed = true
	f.transition(FlowEvent{To: StateCancelled, Err: context.Canceled})
}

func (f *Flow) abort(err error) (FlowState, error) {
	f.closed = true
	f.transition(FlowEvent{To: StatePending, Err: err})
	return StatePending, err
}

func (f *Flow) cancel(err error, orderID string) error {
	f.closed = true
	f.transition(FlowEvent{To: StateCancelled, OrderID: orderID, Err: err})
	return err
}

func (f *Flow) transition(ev FlowEvent) {
	ev.Kind = f.kind
	ev.From = f.state
	f.state = ev.To

	if ev.Err != nil {
		flowLogger.Warnw("flow transition", "kind", f.kind.String(), "from", ev.From, "to", ev.To, "err", ev.Err)
	} else {
		flowLogger.Debugw("flow transition", "kind", f.kind.String(), "from", ev.From, "to", ev.To, "order", ev.OrderID)
	}

	if f.opts.Progress == nil {
		return
	}
	select {
	case f.opts.Progress <- ev:
	default:
	}
}
