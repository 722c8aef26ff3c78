package wyvernmarket

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wisysta/wyvern-market-sdk-go/chain"
)

// IntentKind is what the actor wants to do with a token
type IntentKind int

const (
	IntentSell IntentKind = iota
	IntentOffer
	IntentBuy
	IntentAccept
)

func (k IntentKind) String() string {
	switch k {
	case IntentSell:
		return "sell"
	case IntentOffer:
		return "offer"
	case IntentBuy:
		return "buy"
	case IntentAccept:
		return "accept"
	default:
		return fmt.Sprintf("intent(%d)", int(k))
	}
}

// makerSide reports whether the intent creates a standing maker order
// rather than a taker order against an existing one.
func (k IntentKind) makerSide() bool {
	return k == IntentSell || k == IntentOffer
}

// FlowState is a state of the order flow state machine
type FlowState string

const (
	StatePending         FlowState = "PENDING"
	StateApproveWETH     FlowState = "APPROVE_WETH"
	StateProxyRegister   FlowState = "PROXY_REGISTER"
	StateApproveOperator FlowState = "APPROVE_OPERATOR"
	StateGenerateOrder   FlowState = "GENERATE_ORDER"
	StateSubmitted       FlowState = "SUBMITTED"
	StateCancelled       FlowState = "CANCELLED"
)

// Terminal reports whether no further transition is possible
func (s FlowState) Terminal() bool {
	return s == StateSubmitted || s == StateCancelled
}

// Requirement is a set of preconditions a flow must satisfy
type Requirement uint8

const (
	RequireAllowance Requirement = 1 << iota
	RequireProxy
	RequireApproval

	RequireNone Requirement = 0
)

// Has reports whether r includes all of other
func (r Requirement) Has(other Requirement) bool {
	return r&other == other
}

// DefaultRequirements returns the preconditions each intent needs
func DefaultRequirements(kind IntentKind) Requirement {
	switch kind {
	case IntentSell, IntentAccept:
		return RequireProxy | RequireApproval
	case IntentOffer:
		return RequireAllowance
	default:
		return RequireNone
	}
}

// PreconditionState is derived per flow entry and never cached
type PreconditionState struct {
	HasProxy     bool
	IsApproved   bool
	HasAllowance bool
}

// Session is the connected actor threaded through every operation
type Session struct {
	Account     common.Address
	Signer      chain.Signer
	Transactor  chain.Transactor
	AccessToken string
}

// Connected reports whether the session can sign
func (s *Session) Connected() bool {
	return s != nil && s.Signer != nil
}

// NewSession binds a session to a signer that can also send transactions
func NewSession(signer interface {
	chain.Signer
	chain.Transactor
}) *Session {
	return &Session{
		Account:    signer.Address(),
		Signer:     signer,
		Transactor: signer,
	}
}

// Intent is the actor's request before an order exists
type Intent struct {
	Kind           IntentKind
	Maker          common.Address
	Contract       common.Address
	TokenID        string
	Price          string // display units of the payment token
	ExpirationTime int64  // Unix seconds, 0 never expires
	CounterOrderID string // listing or offer being filled
}

// OrderInput is what the actor enters at GENERATE_ORDER
type OrderInput struct {
	Price          string
	ExpirationTime int64
	CounterOrder   *ListedOrder
}

// OrderRequest is the order generation payload for sell and offer
type OrderRequest struct {
	Maker          string `json:"maker"`
	Contract       string `json:"contract"`
	TokenID        string `json:"tokenId"`
	Price          string `json:"price"`
	ExpirationTime int64  `json:"expirationTime"`
}

// CounterOrderRequest is the order generation payload for buy and accept
type CounterOrderRequest struct {
	OrderID string `json:"orderId"`
	Maker   string `json:"maker"`
}

// GeneratedOrder is an order populated by the backend, not yet signed
type GeneratedOrder struct {
	ID    string
	Kind  IntentKind
	Order *chain.Order
}

// SignedOrder is a generated order with the signature obtained for it
type SignedOrder struct {
	ID        string
	Kind      IntentKind
	Order     *chain.Order
	Signature []byte
}

// ListedOrder is a verified order stored by the backend
type ListedOrder struct {
	ID        string          `json:"id"`
	Maker     string          `json:"maker"`
	Contract  string          `json:"contract"`
	TokenID   string          `json:"tokenId"`
	Price     string          `json:"price"`
	Raw       json.RawMessage `json:"raw"`
	Signature string          `json:"signature"`
	CreatedAt string          `json:"createdAt,omitempty"`
}

// Order parses the listed order record
func (l *ListedOrder) Order() (*chain.Order, error) {
	raw, err := unwrapRaw(l.Raw)
	if err != nil {
		return nil, err
	}
	return chain.ParseOrder(raw)
}

// MatchSide returns the order and its split-ready signature
func (l *ListedOrder) MatchSide() (chain.MatchSide, error) {
	order, err := l.Order()
	if err != nil {
		return chain.MatchSide{}, err
	}
	triple, err := chain.ParseSignature(l.Signature)
	if err != nil {
		return chain.MatchSide{}, fmt.Errorf("order %s: %w", l.ID, err)
	}
	return chain.MatchSide{Order: order, Signature: triple.Bytes()}, nil
}

// MatchResult is a mined atomicMatch
type MatchResult struct {
	Signed  *SignedOrder
	Params  *chain.MatchParams
	Receipt *types.Receipt
}

// Value returns the native value attached to the match
func (m *MatchResult) Value() *big.Int {
	if m.Params == nil || m.Params.Value == nil {
		return new(big.Int)
	}
	return m.Params.Value
}

// unwrapRaw accepts the order record as a JSON object or a JSON string holding one.
func unwrapRaw(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty order record", chain.ErrMalformedOrder)
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrMalformedOrder, err)
	}
	return []byte(s), nil
}
