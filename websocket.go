package wyvernmarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	logging "github.com/wisysta/wyvern-market-sdk-go/log"
)

var feedLogger = logging.Logger("feed")

const (
	// WebSocket endpoint of a local backend
	DefaultWSEndpoint = "ws://localhost:3000/ws"

	// Heartbeat interval
	HeartbeatInterval = 30 * time.Second

	// Reconnect settings
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10

	defaultEventBuffer = 64
)

// WebSocket action types
const (
	ActionHeartbeat   = "HEARTBEAT"
	ActionSubscribe   = "SUBSCRIBE"
	ActionUnsubscribe = "UNSUBSCRIBE"
)

// WebSocket channel types
const (
	ChannelOrderListed    = "order.listed"
	ChannelOrderCancelled = "order.cancelled"
	ChannelOrderFilled    = "order.filled"
	ChannelOfferCreated   = "offer.created"
)

// TokenChannels are the channels SubscribeToken joins
var TokenChannels = []string{ChannelOrderListed, ChannelOrderCancelled, ChannelOrderFilled, ChannelOfferCreated}

type subscribeMessage struct {
	Action   string `json:"action"`
	Channel  string `json:"channel"`
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
}

type heartbeatMessage struct {
	Action string `json:"action"`
}

// OrderEvent is an order lifecycle change pushed by the backend
type OrderEvent struct {
	Channel   string `json:"channel"`
	Contract  string `json:"contract"`
	TokenID   string `json:"tokenId"`
	OrderID   string `json:"orderId"`
	Maker     string `json:"maker"`
	Price     string `json:"price"`
	TxHash    string `json:"txHash,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// FeedConfig holds configuration for the order feed
type FeedConfig struct {
	Endpoint             string
	AccessToken          string
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	EventBuffer          int
}

// OrderFeed streams order events for subscribed tokens, reconnecting and
// resubscribing when the connection drops.
type OrderFeed struct {
	config        FeedConfig
	conn          *websocket.Conn
	mu            sync.RWMutex
	writeMu       sync.Mutex
	isConnected   bool
	subscriptions map[string]subscribeMessage
	subMu         sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	events        chan OrderEvent
}

// NewOrderFeed creates a new order feed
func NewOrderFeed(config FeedConfig) *OrderFeed {
	if config.Endpoint == "" {
		config.Endpoint = DefaultWSEndpoint
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = HeartbeatInterval
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = DefaultReconnectInterval
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}

	return &OrderFeed{
		config:        config,
		subscriptions: make(map[string]subscribeMessage),
		events:        make(chan OrderEvent, config.EventBuffer),
	}
}

// Events delivers decoded order events. The channel is never closed; stop
// reading when the context given to Connect is done.
func (f *OrderFeed) Events() <-chan OrderEvent {
	return f.events
}

// Connect establishes a WebSocket connection. Reconnects stay bound to ctx.
func (f *OrderFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isConnected {
		return nil
	}

	f.ctx, f.cancel = context.WithCancel(ctx)
	return f.dial()
}

// dial must be called with mu held
func (f *OrderFeed) dial() error {
	header := http.Header{}
	if f.config.AccessToken != "" {
		header.Set("Authorization", "Bearer "+f.config.AccessToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, f.config.Endpoint, header)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	f.conn = conn
	f.isConnected = true

	go f.heartbeat(conn)
	go f.readLoop(conn)

	feedLogger.Infow("feed connected", "endpoint", f.config.Endpoint)
	return nil
}

// Close stops the feed and closes the connection
func (f *OrderFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	f.isConnected = false

	var err error
	if f.conn != nil {
		err = f.conn.Close()
		f.conn = nil
	}
	return err
}

// IsConnected returns the current connection status
func (f *OrderFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.isConnected
}

// Subscribe joins channel for one token
func (f *OrderFeed) Subscribe(channel string, contract common.Address, tokenID string) error {
	msg := subscribeMessage{
		Action:   ActionSubscribe,
		Channel:  channel,
		Contract: contract.Hex(),
		TokenID:  tokenID,
	}

	if err := f.sendMessage(msg); err != nil {
		return err
	}

	// Track subscription for reconnection
	f.subMu.Lock()
	f.subscriptions[subscriptionKey(channel, contract, tokenID)] = msg
	f.subMu.Unlock()

	return nil
}

// Unsubscribe leaves channel for one token
func (f *OrderFeed) Unsubscribe(channel string, contract common.Address, tokenID string) error {
	msg := subscribeMessage{
		Action:   ActionUnsubscribe,
		Channel:  channel,
		Contract: contract.Hex(),
		TokenID:  tokenID,
	}

	if err := f.sendMessage(msg); err != nil {
		return err
	}

	f.subMu.Lock()
	delete(f.subscriptions, subscriptionKey(channel, contract, tokenID))
	f.subMu.Unlock()

	return nil
}

// SubscribeToken joins every order channel for a token
func (f *OrderFeed) SubscribeToken(contract common.Address, tokenID string) error {
	for _, channel := range TokenChannels {
		if err := f.Subscribe(channel, contract, tokenID); err != nil {
			return err
		}
	}
	return nil
}

// Subscriptions returns the keys of current subscriptions
func (f *OrderFeed) Subscriptions() []string {
	f.subMu.RLock()
	defer f.subMu.RUnlock()

	subs := make([]string, 0, len(f.subscriptions))
	for key := range f.subscriptions {
		subs = append(subs, key)
	}
	return subs
}

func subscriptionKey(channel string, contract common.Address, tokenID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, contract.Hex(), tokenID)
}

// sendMessage sends a message over the WebSocket connection
func (f *OrderFeed) sendMessage(msg interface{}) error {
	f.mu.RLock()
	conn := f.conn
	connected := f.isConnected
	f.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("WebSocket not connected")
	}
	return f.write(conn, msg)
}

func (f *OrderFeed) write(conn *websocket.Conn, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (f *OrderFeed) current(conn *websocket.Conn) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.conn == conn
}

// heartbeat runs until the feed closes or conn is replaced
func (f *OrderFeed) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(f.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !f.current(conn) {
				return
			}
			if err := f.write(conn, heartbeatMessage{Action: ActionHeartbeat}); err != nil {
				feedLogger.Warnw("heartbeat failed", "err", err)
			}
		case <-f.ctx.Done():
			// unblocks readLoop
			f.handleDisconnect(conn)
			return
		}
	}
}

// readLoop continuously reads messages from conn
func (f *OrderFeed) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && f.ctx.Err() == nil {
				feedLogger.Warnw("read error", "err", err)
			}
			f.handleDisconnect(conn)
			return
		}

		var ev OrderEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			feedLogger.Debugw("skipping undecodable message", "err", err)
			continue
		}
		if ev.Channel == "" {
			continue
		}

		select {
		case f.events <- ev:
		case <-f.ctx.Done():
			f.handleDisconnect(conn)
			return
		}
	}
}

// handleDisconnect drops conn and starts reconnecting unless the feed was closed
func (f *OrderFeed) handleDisconnect(conn *websocket.Conn) {
	f.mu.Lock()
	if f.conn != conn {
		f.mu.Unlock()
		return
	}
	f.isConnected = false
	f.conn = nil
	conn.Close()
	f.mu.Unlock()

	if f.ctx.Err() != nil {
		return
	}
	go f.attemptReconnect()
}

// attemptReconnect attempts to reconnect to the WebSocket
func (f *OrderFeed) attemptReconnect() {
	for attempt := 1; attempt <= f.config.MaxReconnectAttempts; attempt++ {
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(f.config.ReconnectInterval):
		}

		f.mu.Lock()
		err := f.dial()
		f.mu.Unlock()
		if err != nil {
			feedLogger.Warnw("reconnect failed", "attempt", attempt, "err", err)
			continue
		}

		f.resubscribe()
		return
	}

	feedLogger.Errorw("max reconnect attempts reached", "attempts", f.config.MaxReconnectAttempts)
}

// resubscribe resubscribes to all tracked subscriptions
func (f *OrderFeed) resubscribe() {
	f.subMu.RLock()
	defer f.subMu.RUnlock()

	for key, msg := range f.subscriptions {
		if err := f.sendMessage(msg); err != nil {
			feedLogger.Warnw("resubscribe failed", "subscription", key, "err", err)
		}
	}
}
