package wyvernmarket

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisysta/wyvern-market-sdk-go/chain"
)

// fakeMarket is an in-memory marketplace backend.
type fakeMarket struct {
	server *httptest.Server

	mu           sync.Mutex
	rawAsString  bool
	verifyStatus int
	verifyResult bool
	proxy        string
	challenges   map[string]string
	loggedIn     []common.Address
	listings     []ListedOrder
	requests     []*http.Request
	bodies       map[string][]byte
}

func newFakeMarket(t *testing.T) *fakeMarket {
	m := &fakeMarket{
		verifyStatus: http.StatusCreated,
		verifyResult: true,
		challenges:   make(map[string]string),
		bodies:       make(map[string][]byte),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *fakeMarket) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, r)
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		m.bodies[r.URL.Path] = body
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/auth/"):
		id := "challenge-" + strings.TrimPrefix(path, "/auth/")
		m.challenges[id] = "Sign in to the Wyvern market: " + id
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "message": m.challenges[id]})

	case path == "/auth/verify":
		var req struct{ ID, Signature string }
		_ = json.Unmarshal(body, &req)
		addr, ok := recoverLogin(m.challenges[req.ID], req.Signature)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "bad signature"})
			return
		}
		m.loggedIn = append(m.loggedIn, addr)
		writeJSON(w, http.StatusCreated, map[string]string{"accessToken": "token-" + strings.ToLower(addr.Hex())})

	case strings.HasPrefix(path, "/proxy/"):
		writeJSON(w, http.StatusOK, map[string]string{"proxy": m.proxy})

	case path == "/orders/sell" || path == "/orders/offer":
		var req OrderRequest
		_ = json.Unmarshal(body, &req)
		side := chain.SaleSideSell
		if path == "/orders/offer" {
			side = chain.SaleSideBuy
		}
		price, _ := hexutil.DecodeBig(req.Price)
		order := marketOrder(common.HexToAddress(req.Maker), side, 0, 77)
		order.BasePrice, order.EndPrice = price, price
		raw, _ := json.Marshal(order)
		var rawField interface{} = json.RawMessage(raw)
		if m.rawAsString {
			rawField = string(raw)
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": "order-1", "raw": rawField})

	case path == "/orders/buy" || path == "/orders/offer/accept":
		var req CounterOrderRequest
		_ = json.Unmarshal(body, &req)
		counter := m.listing(req.OrderID)
		if counter == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "order not found"})
			return
		}
		listed, _ := counter.Order()
		side := chain.SaleSideBuy
		if listed.SaleSide == chain.SaleSideBuy {
			side = chain.SaleSideSell
		}
		order := marketOrder(common.HexToAddress(req.Maker), side, listed.BasePrice.Int64(), 78)
		writeJSON(w, http.StatusCreated, order)

	case strings.HasSuffix(path, "/verify"):
		if m.verifyStatus >= 300 {
			writeJSON(w, m.verifyStatus, map[string]string{"message": "invalid signature"})
			return
		}
		writeJSON(w, m.verifyStatus, map[string]interface{}{"result": m.verifyResult, "message": "signer mismatch"})

	case strings.HasSuffix(path, "/sell-orders") || strings.HasSuffix(path, "/offers"):
		want := chain.SaleSideSell
		if strings.HasSuffix(path, "/offers") {
			want = chain.SaleSideBuy
		}
		out := []ListedOrder{}
		for _, l := range m.listings {
			if o, err := l.Order(); err == nil && o.SaleSide == want {
				out = append(out, l)
			}
		}
		writeJSON(w, http.StatusOK, out)

	default:
		http.NotFound(w, r)
	}
}

func (m *fakeMarket) listing(id string) *ListedOrder {
	for i := range m.listings {
		if m.listings[i].ID == id {
			return &m.listings[i]
		}
	}
	return nil
}

func (m *fakeMarket) requestTo(path string) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.URL.Path == path {
			return r
		}
	}
	return nil
}

func (m *fakeMarket) body(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[path]
}

func (m *fakeMarket) addListing(l ListedOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings = append(m.listings, l)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func recoverLogin(message, signature string) (common.Address, bool) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 || message == "" {
		return common.Address{}, false
	}
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pub), true
}

// signedListing signs a maker order with key and wraps it as the backend lists it.
func signedListing(t *testing.T, key *ecdsa.PrivateKey, id string, side chain.SaleSide, price int64) ListedOrder {
	t.Helper()
	signer := chain.NewKeySigner(key, chain.DefaultChainID, nil)
	order := marketOrder(signer.Address(), side, price, 5)

	sig, err := signer.SignTypedOrder(context.Background(), chain.NewDomain(chain.DefaultChainID, testExchange), order)
	require.NoError(t, err)
	raw, err := json.Marshal(order)
	require.NoError(t, err)
	quoted, err := json.Marshal(string(raw))
	require.NoError(t, err)

	return ListedOrder{
		ID:        id,
		Maker:     signer.Address().Hex(),
		Contract:  testAsset.Hex(),
		TokenID:   "7",
		Price:     big.NewInt(price).String(),
		Raw:       quoted,
		Signature: hexutil.Encode(sig),
	}
}

func TestGenerateOrderRawForms(t *testing.T) {
	for _, asString := range []bool{false, true} {
		market := newFakeMarket(t)
		market.rawAsString = asString
		api := NewAPIClient(market.server.URL + "/")
		session := newTestSession(t)

		generated, err := api.GenerateOrder(context.Background(), session, GenerateRequest{
			Kind: IntentSell,
			Order: &OrderRequest{
				Maker:    session.Account.Hex(),
				Contract: testAsset.Hex(),
				TokenID:  "7",
				Price:    "0x3e8",
			},
		})
		require.NoError(t, err, "raw as string: %v", asString)
		assert.Equal(t, "order-1", generated.ID)
		assert.Equal(t, IntentSell, generated.Kind)
		assert.Equal(t, session.Account, generated.Order.Maker)
		assert.Equal(t, chain.SaleSideSell, generated.Order.SaleSide)
		assert.Equal(t, int64(1000), generated.Order.BasePrice.Int64())
	}
}

func TestGenerateOrderMissingPayload(t *testing.T) {
	api := NewAPIClient("http://127.0.0.1:1")
	_, err := api.GenerateOrder(context.Background(), nil, GenerateRequest{Kind: IntentBuy})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGenerateOrderBackendError(t *testing.T) {
	market := newFakeMarket(t)
	api := NewAPIClient(market.server.URL)

	_, err := api.GenerateOrder(context.Background(), nil, GenerateRequest{
		Kind:    IntentBuy,
		Counter: &CounterOrderRequest{OrderID: "missing", Maker: testActor.Hex()},
	})
	assert.ErrorIs(t, err, ErrOpenAPI)

	var apiErr *OpenAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRequestHeaders(t *testing.T) {
	market := newFakeMarket(t)
	api := NewAPIClient(market.server.URL)
	session := &Session{AccessToken: "token-1"}

	_, err := api.ProxyOf(context.Background(), testActor)
	require.NoError(t, err)
	_, err = api.GenerateOrder(context.Background(), session, GenerateRequest{
		Kind:  IntentOffer,
		Order: &OrderRequest{Maker: testActor.Hex(), Contract: testAsset.Hex(), TokenID: "1", Price: "0x1"},
	})
	require.NoError(t, err)

	proxyReq := market.requestTo("/proxy/" + testActor.Hex())
	require.NotNil(t, proxyReq)
	assert.Empty(t, proxyReq.Header.Get("Authorization"))

	orderReq := market.requestTo("/orders/offer")
	require.NotNil(t, orderReq)
	assert.Equal(t, "Bearer token-1", orderReq.Header.Get("Authorization"))
	assert.Equal(t, "application/json", orderReq.Header.Get("Content-Type"))
	assert.NotEmpty(t, orderReq.Header.Get("X-Request-Id"))
	assert.NotEqual(t, proxyReq.Header.Get("X-Request-Id"), orderReq.Header.Get("X-Request-Id"))
}

func TestProxyOfFromBackend(t *testing.T) {
	market := newFakeMarket(t)
	api := NewAPIClient(market.server.URL)

	proxy, err := api.ProxyOf(context.Background(), testActor)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, proxy)

	market.proxy = "0x3333333333333333333333333333333333333333"
	proxy, err = api.ProxyOf(context.Background(), testActor)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(market.proxy), proxy)

	market.proxy = "not-an-address"
	_, err = api.ProxyOf(context.Background(), testActor)
	assert.ErrorIs(t, err, ErrOpenAPI)
}

func TestSubmitMakerOrderById(t *testing.T) {
	market := newFakeMarket(t)
	api := NewAPIClient(market.server.URL)

	signed := &SignedOrder{ID: "order-1", Kind: IntentOffer, Order: marketOrder(testActor, chain.SaleSideBuy, 10, 1), Signature: []byte{0xaa, 0xbb}}
	require.NoError(t, api.Submit(context.Background(), nil, signed))

	var body map[string]string
	require.NoError(t, json.Unmarshal(market.body("/orders/offer/verify"), &body))
	assert.Equal(t, map[string]string{"orderId": "order-1", "signature": "0xaabb"}, body)
}

func TestSubmitTakerOrderWhole(t *testing.T) {
	market := newFakeMarket(t)
	api := NewAPIClient(market.server.URL)

	order := marketOrder(testActor, chain.SaleSideBuy, 10, 1)
	signed := &SignedOrder{Kind: IntentAccept, Order: order, Signature: []byte{0x01}}
	require.NoError(t, api.Submit(context.Background(), nil, signed))

	var body struct {
		Order     json.RawMessage `json:"order"`
		Signature string          `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(market.body("/orders/buy/verify"), &body))
	assert.Equal(t, "0x01", body.Signature)

	sent, err := chain.ParseOrder(body.Order)
	require.NoError(t, err)
	assert.Equal(t, order.StructHash(), sent.StructHash())
}

func TestSubmitRejected(t *testing.T) {
	market := newFakeMarket(t)
	api := NewAPIClient(market.server.URL)
	signed := &SignedOrder{ID: "order-1", Kind: IntentSell, Order: marketOrder(testActor, chain.SaleSideSell, 10, 1), Signature: []byte{0x01}}

	market.verifyResult = false
	err := api.Submit(context.Background(), nil, signed)
	assert.ErrorIs(t, err, ErrSubmissionRejected)
	assert.Contains(t, err.Error(), "signer mismatch")

	market.verifyStatus = http.StatusBadRequest
	err = api.Submit(context.Background(), nil, signed)
	assert.ErrorIs(t, err, ErrSubmissionRejected)
	assert.ErrorIs(t, err, ErrOpenAPI)

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "order-1", subErr.OrderID)
}

func TestSubmitMakerOrderWithoutID(t *testing.T) {
	api := NewAPIClient("http://127.0.0.1:1")
	err := api.Submit(context.Background(), nil, &SignedOrder{Kind: IntentSell})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListOrders(t *testing.T) {
	market := newFakeMarket(t)
	market.addListing(signedListing(t, newTestKey(t), "sell-1", chain.SaleSideSell, 1000))
	market.addListing(signedListing(t, newTestKey(t), "offer-1", chain.SaleSideBuy, 900))
	api := NewAPIClient(market.server.URL)

	sells, err := api.SellOrders(context.Background(), testAsset, "7")
	require.NoError(t, err)
	require.Len(t, sells, 1)
	assert.Equal(t, "sell-1", sells[0].ID)

	side, err := sells[0].MatchSide()
	require.NoError(t, err)
	assert.Len(t, side.Signature, chain.SignatureLength)
	assert.Equal(t, common.HexToAddress(sells[0].Maker), side.Order.Maker)

	offers, err := api.Offers(context.Background(), testAsset, "7")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "offer-1", offers[0].ID)
}

func TestAuthChallengeLowercasesAccount(t *testing.T) {
	market := newFakeMarket(t)
	api := NewAPIClient(market.server.URL)
	account := common.HexToAddress("0xABCDEFabcdef0000000000000000000000000001")

	id, message, err := api.AuthChallenge(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "challenge-abcdefabcdef0000000000000000000000000001", id)
	assert.NotEmpty(t, message)
}
