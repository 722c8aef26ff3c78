package wyvernmarket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wisysta/wyvern-market-sdk-go/chain"
)

// chainAccess is everything the client reads and sends on chain.
// *chain.ContractCaller implements it.
type chainAccess interface {
	ProxyRegistry
	AssetContract
	PaymentToken
	TokenMetadata
	Remediator
	AtomicMatch(ctx context.Context, tx chain.Transactor, params *chain.MatchParams) (*types.Receipt, error)
}

// Client is the main SDK client
type Client struct {
	api          *APIClient
	chain        chainAccess
	ethClient    *ethclient.Client
	checker      *Checker
	builder      *OrderBuilder
	domain       *chain.Domain
	exchange     common.Address
	paymentToken common.Address
	wsEndpoint   string
	login        LoginFunc
	now          func() time.Time
}

// ClientConfig holds configuration for creating a Client
type ClientConfig struct {
	Host              string
	WSEndpoint        string
	ChainID           ChainID
	RPCURL            string
	ExchangeAddr      string
	ProxyRegistryAddr string
	PaymentTokenAddr  string
	ProxyLookup       ProxyLookup
	ReceiptTimeout    time.Duration
}

// NewClient dials the chain RPC and creates a marketplace client
func NewClient(config ClientConfig) (*Client, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	if config.RPCURL == "" {
		return nil, &InvalidParamError{Message: "rpc_url is required"}
	}

	ethClient, err := ethclient.Dial(config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	caller, err := chain.NewContractCaller(
		ethClient,
		common.HexToAddress(config.ExchangeAddr),
		common.HexToAddress(config.ProxyRegistryAddr),
		config.ReceiptTimeout,
	)
	if err != nil {
		ethClient.Close()
		return nil, fmt.Errorf("failed to create contract caller: %w", err)
	}

	c, err := newClient(config, NewAPIClient(config.Host), caller)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	c.ethClient = ethClient
	return c, nil
}

func newClient(config ClientConfig, api *APIClient, access chainAccess) (*Client, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	exchange := common.HexToAddress(config.ExchangeAddr)
	paymentToken := common.HexToAddress(config.PaymentTokenAddr)

	var registry ProxyRegistry = access
	if config.ProxyLookup == ProxyLookupAPI {
		registry = api
	}

	return &Client{
		api:          api,
		chain:        access,
		checker:      NewChecker(registry, access, access, exchange, paymentToken),
		builder:      NewOrderBuilder(api, access, paymentToken),
		domain:       chain.NewDomain(int64(config.ChainID), exchange),
		exchange:     exchange,
		paymentToken: paymentToken,
		wsEndpoint:   config.WSEndpoint,
		now:          time.Now,
	}, nil
}

// Close closes the client and cleans up resources
func (c *Client) Close() {
	if c.ethClient != nil {
		c.ethClient.Close()
	}
}

// API returns the backend client
func (c *Client) API() *APIClient {
	return c.api
}

// Domain returns the EIP712 domain orders are signed under
func (c *Client) Domain() *chain.Domain {
	return c.domain
}

// KeySigner wraps a hex private key in a signer that sends transactions
// through the client's RPC connection
func (c *Client) KeySigner(hexKey string) (*chain.KeySigner, error) {
	var backend bind.ContractTransactor
	if c.ethClient != nil {
		backend = c.ethClient
	}
	return chain.NewKeySignerFromHex(hexKey, c.domain.ChainID.Int64(), backend)
}

// SetLoginHandler sets the function flows call when advanced without a session
func (c *Client) SetLoginHandler(fn LoginFunc) {
	c.login = fn
}

// Login signs the backend's challenge with signer and returns a session
// carrying the access token. A signer that can send transactions is also
// the session's transactor.
func (c *Client) Login(ctx context.Context, signer chain.Signer) (*Session, error) {
	account := signer.Address()

	id, message, err := c.api.AuthChallenge(ctx, account)
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignMessage(ctx, []byte(message))
	if err != nil {
		return nil, fmt.Errorf("sign login message: %w", err)
	}

	token, err := c.api.VerifyAuth(ctx, id, sig)
	if err != nil {
		return nil, err
	}

	session := &Session{Account: account, Signer: signer, AccessToken: token}
	if tx, ok := signer.(chain.Transactor); ok {
		session.Transactor = tx
	}
	return session, nil
}

// Preconditions reads proxy, approval and allowance state for asset
func (c *Client) Preconditions(ctx context.Context, session *Session, asset common.Address) (*PreconditionState, error) {
	if !session.Connected() {
		return nil, ErrNotConnected
	}
	return c.checker.State(ctx, session.Account, asset, RequireAllowance|RequireProxy|RequireApproval)
}

// NewFlow creates a flow for kind on (asset, tokenID) wired to this client
func (c *Client) NewFlow(kind IntentKind, asset common.Address, tokenID string, opts FlowOptions) *Flow {
	if opts.Now == nil {
		opts.Now = c.now
	}
	return NewFlow(kind, asset, tokenID, FlowDeps{
		Checker:      c.checker,
		Remediator:   c.chain,
		Builder:      c.builder,
		Submitter:    c.api,
		Domain:       c.domain,
		Exchange:     c.exchange,
		PaymentToken: c.paymentToken,
		Login:        c.login,
	}, opts)
}

// Sell lists a token at price (display units) until expiration (0 never expires)
func (c *Client) Sell(ctx context.Context, session *Session, asset common.Address, tokenID, price string, expiration int64) (*SignedOrder, error) {
	return c.runMakerFlow(ctx, session, IntentSell, asset, tokenID, OrderInput{Price: price, ExpirationTime: expiration})
}

// Offer bids price (display units of the payment token) on a token
func (c *Client) Offer(ctx context.Context, session *Session, asset common.Address, tokenID, price string, expiration int64) (*SignedOrder, error) {
	return c.runMakerFlow(ctx, session, IntentOffer, asset, tokenID, OrderInput{Price: price, ExpirationTime: expiration})
}

func (c *Client) runMakerFlow(ctx context.Context, session *Session, kind IntentKind, asset common.Address, tokenID string, input OrderInput) (*SignedOrder, error) {
	flow := c.NewFlow(kind, asset, tokenID, FlowOptions{})
	if _, err := flow.Advance(ctx, session); err != nil {
		return nil, err
	}
	return flow.Submit(ctx, session, input)
}

// Buy fills a listed sell order, paying its price plus the exchange fee
func (c *Client) Buy(ctx context.Context, session *Session, listing ListedOrder) (*MatchResult, error) {
	return c.fill(ctx, session, IntentBuy, chain.SettleDirectBuy, listing)
}

// AcceptOffer sells the token to a standing offer
func (c *Client) AcceptOffer(ctx context.Context, session *Session, offer ListedOrder) (*MatchResult, error) {
	return c.fill(ctx, session, IntentAccept, chain.SettleOfferAcceptance, offer)
}

func (c *Client) fill(ctx context.Context, session *Session, kind IntentKind, settlement chain.Settlement, counter ListedOrder) (*MatchResult, error) {
	if !session.Connected() {
		return nil, ErrNotConnected
	}
	if session.Transactor == nil {
		return nil, errors.New("session cannot send transactions")
	}

	maker, err := counter.MatchSide()
	if err != nil {
		return nil, err
	}

	flow := c.NewFlow(kind, maker.Order.Target, counter.TokenID, FlowOptions{})
	if _, err := flow.Advance(ctx, session); err != nil {
		return nil, err
	}
	signed, err := flow.Submit(ctx, session, OrderInput{CounterOrder: &counter})
	if err != nil {
		return nil, err
	}

	params, err := chain.AssembleMatch(settlement,
		chain.MatchSide{Order: signed.Order, Signature: signed.Signature},
		maker)
	if err != nil {
		return nil, err
	}

	receipt, err := c.chain.AtomicMatch(ctx, session.Transactor, params)
	if err != nil {
		return nil, fmt.Errorf("atomicMatch for order %s: %w", counter.ID, err)
	}

	return &MatchResult{Signed: signed, Params: params, Receipt: receipt}, nil
}

// SellOrders lists active sell orders for a token
func (c *Client) SellOrders(ctx context.Context, contract common.Address, tokenID string) ([]ListedOrder, error) {
	return c.api.SellOrders(ctx, contract, tokenID)
}

// Offers lists active offers for a token
func (c *Client) Offers(ctx context.Context, contract common.Address, tokenID string) ([]ListedOrder, error) {
	return c.api.Offers(ctx, contract, tokenID)
}

// Feed creates an order feed authenticated as session
func (c *Client) Feed(session *Session) *OrderFeed {
	cfg := FeedConfig{Endpoint: c.wsEndpoint}
	if session != nil {
		cfg.AccessToken = session.AccessToken
	}
	return NewOrderFeed(cfg)
}
