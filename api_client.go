package wyvernmarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/wisysta/wyvern-market-sdk-go/chain"
	logging "github.com/wisysta/wyvern-market-sdk-go/log"
)

var apiLogger = logging.Logger("api")

// APIClient handles HTTP requests to the marketplace backend
type APIClient struct {
	host   string
	client *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(host string) *APIClient {
	return &APIClient{
		host: strings.TrimRight(host, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GenerateRequest carries the order generation payload for one intent.
// Sell and offer use Order; buy and accept use Counter.
type GenerateRequest struct {
	Kind    IntentKind
	Order   *OrderRequest
	Counter *CounterOrderRequest
}

type generatedOrderResponse struct {
	ID  string          `json:"id"`
	Raw json.RawMessage `json:"raw"`
}

type authChallenge struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type authResult struct {
	AccessToken string `json:"accessToken"`
}

type proxyResponse struct {
	Proxy string `json:"proxy"`
}

type verifyResponse struct {
	Result  *bool  `json:"result"`
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// doRequest performs an HTTP request. The session's access token is sent when present.
func (c *APIClient) doRequest(ctx context.Context, session *Session, method, endpoint string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	reqURL := fmt.Sprintf("%s%s", c.host, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if session != nil && session.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	}

	apiLogger.Debugw("request", "method", method, "endpoint", endpoint, "request_id", requestID)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// decodeJSONResponse reads the response body, checks HTTP status, and decodes JSON
func (c *APIClient) decodeJSONResponse(resp *http.Response, result interface{}) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyStr := truncate(string(bodyBytes))
		if bodyStr == "" {
			bodyStr = resp.Status
		}
		return &OpenAPIError{Message: bodyStr, StatusCode: resp.StatusCode}
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, result); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w (body: %s)", err, truncate(string(bodyBytes)))
	}

	return nil
}

func (c *APIClient) getJSON(ctx context.Context, session *Session, endpoint string, result interface{}) error {
	resp, err := c.doRequest(ctx, session, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decodeJSONResponse(resp, result)
}

func (c *APIClient) postJSON(ctx context.Context, session *Session, endpoint string, body, result interface{}) error {
	resp, err := c.doRequest(ctx, session, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decodeJSONResponse(resp, result)
}

// AuthChallenge fetches the login message to sign for account
func (c *APIClient) AuthChallenge(ctx context.Context, account common.Address) (id, message string, err error) {
	endpoint := "/auth/" + strings.TrimPrefix(strings.ToLower(account.Hex()), "0x")

	var challenge authChallenge
	if err := c.getJSON(ctx, nil, endpoint, &challenge); err != nil {
		return "", "", fmt.Errorf("failed to get auth challenge: %w", err)
	}
	if challenge.ID == "" || challenge.Message == "" {
		return "", "", &OpenAPIError{Message: "auth challenge missing id or message"}
	}
	return challenge.ID, challenge.Message, nil
}

// VerifyAuth exchanges a signed challenge for an access token
func (c *APIClient) VerifyAuth(ctx context.Context, id string, signature []byte) (string, error) {
	body := map[string]string{
		"id":        id,
		"signature": hexutil.Encode(signature),
	}

	var result authResult
	if err := c.postJSON(ctx, nil, "/auth/verify", body, &result); err != nil {
		return "", fmt.Errorf("failed to verify auth: %w", err)
	}
	if result.AccessToken == "" {
		return "", &OpenAPIError{Message: "auth verify returned no access token"}
	}
	return result.AccessToken, nil
}

// ProxyOf reads the owner's proxy from the backend's registry mirror
func (c *APIClient) ProxyOf(ctx context.Context, owner common.Address) (common.Address, error) {
	var result proxyResponse
	if err := c.getJSON(ctx, nil, "/proxy/"+owner.Hex(), &result); err != nil {
		return common.Address{}, fmt.Errorf("failed to get proxy address: %w", err)
	}
	if result.Proxy == "" {
		return common.Address{}, nil
	}
	if !isHexAddress(result.Proxy) {
		return common.Address{}, &OpenAPIError{Message: fmt.Sprintf("invalid proxy address %q", result.Proxy)}
	}
	return common.HexToAddress(result.Proxy), nil
}

// GenerateOrder asks the backend to populate an order for the intent
func (c *APIClient) GenerateOrder(ctx context.Context, session *Session, req GenerateRequest) (*GeneratedOrder, error) {
	var (
		endpoint string
		body     interface{}
	)
	switch req.Kind {
	case IntentSell:
		endpoint, body = "/orders/sell", req.Order
	case IntentOffer:
		endpoint, body = "/orders/offer", req.Order
	case IntentBuy:
		endpoint, body = "/orders/buy", req.Counter
	case IntentAccept:
		endpoint, body = "/orders/offer/accept", req.Counter
	default:
		return nil, &InvalidParamError{Message: fmt.Sprintf("unknown intent %s", req.Kind)}
	}
	if (req.Kind.makerSide() && req.Order == nil) || (!req.Kind.makerSide() && req.Counter == nil) {
		return nil, &InvalidParamError{Message: fmt.Sprintf("missing payload for %s order", req.Kind)}
	}

	var raw json.RawMessage
	if err := c.postJSON(ctx, session, endpoint, body, &raw); err != nil {
		return nil, fmt.Errorf("failed to generate %s order: %w", req.Kind, err)
	}

	generated := &GeneratedOrder{Kind: req.Kind}
	orderJSON := []byte(raw)
	if req.Kind.makerSide() {
		var resp generatedOrderResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", chain.ErrMalformedOrder, err)
		}
		if resp.ID == "" {
			return nil, fmt.Errorf("%w: generated %s order has no id", chain.ErrMalformedOrder, req.Kind)
		}
		record, err := unwrapRaw(resp.Raw)
		if err != nil {
			return nil, err
		}
		generated.ID, orderJSON = resp.ID, record
	}

	order, err := chain.ParseOrder(orderJSON)
	if err != nil {
		return nil, fmt.Errorf("generated %s order: %w", req.Kind, err)
	}
	generated.Order = order

	apiLogger.Infow("order generated", "kind", req.Kind.String(), "id", generated.ID, "maker", order.Maker.Hex())
	return generated, nil
}

// Submit sends a freshly signed order for verification. Sell and offer orders are
// referenced by id; buy and accept orders are sent whole.
func (c *APIClient) Submit(ctx context.Context, session *Session, signed *SignedOrder) error {
	signature := hexutil.Encode(signed.Signature)

	var (
		endpoint string
		body     interface{}
	)
	switch signed.Kind {
	case IntentSell, IntentOffer:
		if signed.ID == "" {
			return &InvalidParamError{Message: fmt.Sprintf("%s order has no id", signed.Kind)}
		}
		endpoint = fmt.Sprintf("/orders/%s/verify", signed.Kind)
		body = map[string]string{"orderId": signed.ID, "signature": signature}
	case IntentBuy, IntentAccept:
		endpoint = "/orders/buy/verify"
		body = map[string]interface{}{"order": signed.Order, "signature": signature}
	default:
		return &InvalidParamError{Message: fmt.Sprintf("unknown intent %s", signed.Kind)}
	}

	resp, err := c.doRequest(ctx, session, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SubmissionError{
			OrderID: signed.ID,
			Reason:  truncate(string(bodyBytes)),
			Err:     &OpenAPIError{Message: resp.Status, StatusCode: resp.StatusCode},
		}
	}

	var result verifyResponse
	if len(bytes.TrimSpace(bodyBytes)) > 0 && json.Unmarshal(bodyBytes, &result) == nil {
		if (result.Result != nil && !*result.Result) || (result.Success != nil && !*result.Success) {
			return &SubmissionError{OrderID: signed.ID, Reason: result.Message}
		}
	}

	apiLogger.Infow("order verified", "kind", signed.Kind.String(), "id", signed.ID)
	return nil
}

// SellOrders lists active sell orders for a token, lowest price first
func (c *APIClient) SellOrders(ctx context.Context, contract common.Address, tokenID string) ([]ListedOrder, error) {
	return c.listOrders(ctx, contract, tokenID, "sell-orders")
}

// Offers lists active offers for a token
func (c *APIClient) Offers(ctx context.Context, contract common.Address, tokenID string) ([]ListedOrder, error) {
	return c.listOrders(ctx, contract, tokenID, "offers")
}

func (c *APIClient) listOrders(ctx context.Context, contract common.Address, tokenID, kind string) ([]ListedOrder, error) {
	endpoint := fmt.Sprintf("/nft/%s/%s/%s", contract.Hex(), url.PathEscape(tokenID), kind)

	var orders []ListedOrder
	if err := c.getJSON(ctx, nil, endpoint, &orders); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return orders, nil
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
