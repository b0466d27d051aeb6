package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventHandler handles subscription notifications
type EventHandler func(notification ProgramNotification) error

// WSClient represents a WebSocket client for Solana subscriptions
type WSClient struct {
	url            string
	conn           *websocket.Conn
	logger         *logrus.Logger
	mu             sync.RWMutex
	subscriptions  map[int]*Subscription // keyed by request id
	byServerID     map[int]*Subscription // keyed by server-side subscription id
	nextID         int
	ctx            context.Context
	cancel         context.CancelFunc
	reconnectDelay time.Duration

	messagesReceived int
	messagesSent     int
	reconnectCount   int
	lastActivity     time.Time
}

// Subscription tracks one active account/program subscription
type Subscription struct {
	ID          int
	ServerID    int
	Method      string
	Params      interface{}
	Handler     EventHandler
	Active      bool
	Created     time.Time
	LastMessage time.Time

	// events preserves arrival order; one dispatcher goroutine per
	// subscription. The channel is never closed, the dispatcher exits
	// through done, so a late delivery can never panic the read loop.
	events   chan ProgramNotification
	done     chan struct{}
	stopOnce sync.Once
}

// stop ends the subscription's dispatcher. Safe to call more than once.
func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// WSMessage is the JSON-RPC frame exchanged over the socket
type WSMessage struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *int              `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  json.RawMessage   `json:"params,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *jsonrpc.RPCError `json:"error,omitempty"`
}

type wsOutMessage struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int        `json:"id,omitempty"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
}

// ProgramNotification represents a program or account change notification
type ProgramNotification struct {
	Subscription int `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data     []string `json:"data"`
				Owner    string   `json:"owner"`
				Lamports uint64   `json:"lamports"`
			} `json:"account"`
		} `json:"value"`
	} `json:"result"`
}

// SubscriptionFilter narrows a program subscription server-side
type SubscriptionFilter struct {
	DataSize uint64
	Offset   uint64
	Bytes    string // base58 encoded, used with Offset for memcmp
}

func (f SubscriptionFilter) toParam() map[string]interface{} {
	if f.Bytes != "" {
		return map[string]interface{}{
			"memcmp": map[string]interface{}{
				"offset": f.Offset,
				"bytes":  f.Bytes,
			},
		}
	}
	return map[string]interface{}{"dataSize": f.DataSize}
}

// NewWSClient creates a new WebSocket client
func NewWSClient(url string, logger *logrus.Logger) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &WSClient{
		url:            url,
		logger:         logger,
		subscriptions:  make(map[int]*Subscription),
		byServerID:     make(map[int]*Subscription),
		nextID:         1,
		ctx:            ctx,
		cancel:         cancel,
		reconnectDelay: 5 * time.Second,
		lastActivity:   time.Now(),
	}
}

// Connect establishes the WebSocket connection and starts the read loop
func (ws *WSClient) Connect() error {
	ws.logger.WithField("url", ws.url).Info("🔌 Connecting to Solana WebSocket...")

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.Dial(ws.url, nil)
	if err != nil {
		if resp != nil {
			ws.logger.WithFields(logrus.Fields{
				"status": resp.Status,
				"url":    ws.url,
			}).Error("❌ WebSocket connection failed")
		}
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.lastActivity = time.Now()
	ws.mu.Unlock()

	ws.logger.WithField("url", ws.url).Info("✅ WebSocket connected")

	conn.SetReadLimit(4 * 1024 * 1024)
	conn.SetPongHandler(func(string) error {
		ws.mu.Lock()
		ws.lastActivity = time.Now()
		ws.mu.Unlock()
		return nil
	})

	go ws.handleMessages()
	go ws.pingHandler()

	return nil
}

// Disconnect closes the WebSocket connection and stops all dispatchers
func (ws *WSClient) Disconnect() error {
	ws.cancel()

	ws.mu.Lock()
	defer ws.mu.Unlock()

	for _, sub := range ws.subscriptions {
		sub.stop()
	}

	if ws.conn != nil {
		err := ws.conn.Close()
		ws.conn = nil
		return err
	}

	return nil
}

// SubscribeProgram subscribes to account changes owned by a program,
// optionally narrowed by dataSize/memcmp filters.
func (ws *WSClient) SubscribeProgram(programID string, filters []SubscriptionFilter, commitment string, handler EventHandler) (int, error) {
	opts := map[string]interface{}{
		"encoding":   "base64",
		"commitment": commitment,
	}
	if len(filters) > 0 {
		filterParams := make([]map[string]interface{}, 0, len(filters))
		for _, f := range filters {
			filterParams = append(filterParams, f.toParam())
		}
		opts["filters"] = filterParams
	}

	params := []interface{}{programID, opts}
	return ws.subscribe("programSubscribe", params, handler)
}

// SubscribeAccount subscribes to changes of a single account
func (ws *WSClient) SubscribeAccount(address string, commitment string, handler EventHandler) (int, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": commitment,
		},
	}
	return ws.subscribe("accountSubscribe", params, handler)
}

func (ws *WSClient) subscribe(method string, params interface{}, handler EventHandler) (int, error) {
	ws.mu.Lock()
	id := ws.nextID
	ws.nextID++
	ws.mu.Unlock()

	subscription := &Subscription{
		ID:      id,
		Method:  method,
		Params:  params,
		Handler: handler,
		Created: time.Now(),
		events:  make(chan ProgramNotification, 256),
		done:    make(chan struct{}),
	}

	message := wsOutMessage{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	}

	ws.logger.WithFields(logrus.Fields{
		"method": method,
		"id":     id,
	}).Info("📡 Sending WebSocket subscription request")

	if err := ws.sendMessage(message); err != nil {
		return 0, fmt.Errorf("failed to send subscription: %w", err)
	}

	ws.mu.Lock()
	ws.subscriptions[id] = subscription
	ws.mu.Unlock()

	go ws.dispatchLoop(subscription)

	return id, nil
}

// dispatchLoop delivers notifications to one handler in arrival order
func (ws *WSClient) dispatchLoop(sub *Subscription) {
	for {
		select {
		case <-sub.done:
			return
		case notification := <-sub.events:
			if err := sub.Handler(notification); err != nil {
				ws.logger.WithError(err).WithFields(logrus.Fields{
					"method":          sub.Method,
					"subscription_id": sub.ID,
				}).Error("❌ Notification handler error")
			}
		}
	}
}

// Unsubscribe cancels a subscription by request id
func (ws *WSClient) Unsubscribe(id int) error {
	ws.mu.Lock()
	subscription, exists := ws.subscriptions[id]
	if exists {
		delete(ws.subscriptions, id)
		delete(ws.byServerID, subscription.ServerID)
		subscription.stop()
	}
	ws.mu.Unlock()

	if !exists {
		return fmt.Errorf("subscription %d not found", id)
	}

	unsubMethod := getUnsubscribeMethod(subscription.Method)
	if unsubMethod == "" {
		return fmt.Errorf("unknown unsubscribe method for %s", subscription.Method)
	}

	message := wsOutMessage{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  unsubMethod,
		Params:  []interface{}{subscription.ServerID},
	}

	if err := ws.sendMessage(message); err != nil {
		return fmt.Errorf("failed to send unsubscribe: %w", err)
	}

	ws.logger.WithField("id", id).Info("🗑️ Subscription cancelled")
	return nil
}

// sendMessage sends a message over WebSocket
func (ws *WSClient) sendMessage(message wsOutMessage) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.conn == nil {
		return fmt.Errorf("WebSocket not connected")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	ws.messagesSent++
	ws.lastActivity = time.Now()
	return nil
}

// handleMessages handles incoming WebSocket messages
func (ws *WSClient) handleMessages() {
	defer ws.logger.Info("🛑 WebSocket message handler stopped")

	for {
		select {
		case <-ws.ctx.Done():
			return
		default:
			ws.mu.RLock()
			conn := ws.conn
			ws.mu.RUnlock()

			if conn == nil {
				ws.logger.Warn("⚠️ Connection lost, attempting to reconnect...")
				if err := ws.attemptReconnect(); err != nil {
					ws.logger.WithError(err).Error("❌ Reconnection failed")
					select {
					case <-ws.ctx.Done():
						return
					case <-time.After(ws.reconnectDelay):
					}
				}
				continue
			}

			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-ws.ctx.Done():
					return
				default:
				}
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.WithError(err).Error("❌ WebSocket read error")
				}

				ws.mu.Lock()
				ws.conn = nil
				ws.mu.Unlock()

				continue
			}

			ws.mu.Lock()
			ws.messagesReceived++
			ws.lastActivity = time.Now()
			ws.mu.Unlock()

			var message WSMessage
			if err := json.Unmarshal(data, &message); err != nil {
				ws.logger.WithError(err).Error("❌ Failed to unmarshal WebSocket message")
				continue
			}

			ws.handleMessage(message)
		}
	}
}

// handleMessage processes a single WebSocket message
func (ws *WSClient) handleMessage(message WSMessage) {
	// Subscription confirmations carry the server-side subscription id
	if message.ID != nil && message.Result != nil {
		var serverID int
		if err := json.Unmarshal(message.Result, &serverID); err != nil {
			// Unsubscribe confirmations return a bool; ignore them
			return
		}

		ws.mu.Lock()
		subscription, exists := ws.subscriptions[*message.ID]
		if exists {
			subscription.Active = true
			subscription.ServerID = serverID
			subscription.LastMessage = time.Now()
			ws.byServerID[serverID] = subscription
		}
		ws.mu.Unlock()

		if exists {
			ws.logger.WithFields(logrus.Fields{
				"method":    subscription.Method,
				"id":        *message.ID,
				"server_id": serverID,
			}).Info("✅ WebSocket subscription confirmed")
		}
		return
	}

	if message.Error != nil {
		ws.logger.WithFields(logrus.Fields{
			"code":    message.Error.Code,
			"message": message.Error.Message,
		}).Error("❌ WebSocket error received")
		return
	}

	switch message.Method {
	case "programNotification", "accountNotification":
		ws.handleNotification(message.Params)
	case "":
	default:
		ws.logger.WithField("method", message.Method).Debug("❓ Unknown notification method")
	}
}

// handleNotification routes a notification to its subscription's dispatcher
func (ws *WSClient) handleNotification(params json.RawMessage) {
	var notification ProgramNotification
	if err := json.Unmarshal(params, &notification); err != nil {
		ws.logger.WithError(err).Error("❌ Failed to unmarshal program notification")
		return
	}

	ws.mu.Lock()
	subscription, exists := ws.byServerID[notification.Subscription]
	if exists {
		subscription.LastMessage = time.Now()
	}
	ws.mu.Unlock()

	if !exists {
		ws.logger.WithField("subscription", notification.Subscription).
			Debug("No handler for notification")
		return
	}

	select {
	case subscription.events <- notification:
	case <-subscription.done:
	default:
		ws.logger.WithFields(logrus.Fields{
			"subscription": notification.Subscription,
			"method":       subscription.Method,
		}).Warn("⚠️ Subscription event buffer full, dropping notification")
	}
}

// attemptReconnect reconnects and restores all active subscriptions
func (ws *WSClient) attemptReconnect() error {
	ws.mu.Lock()
	ws.reconnectCount++
	attempt := ws.reconnectCount
	ws.mu.Unlock()

	ws.logger.WithField("attempt", attempt).Info("🔄 Attempting to reconnect WebSocket...")

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(ws.url, nil)
	if err != nil {
		return fmt.Errorf("reconnection failed: %w", err)
	}

	conn.SetReadLimit(4 * 1024 * 1024)

	ws.mu.Lock()
	ws.conn = conn
	ws.lastActivity = time.Now()
	subscriptions := make([]*Subscription, 0, len(ws.subscriptions))
	for _, sub := range ws.subscriptions {
		sub.Active = false
		delete(ws.byServerID, sub.ServerID)
		subscriptions = append(subscriptions, sub)
	}
	ws.mu.Unlock()

	resubscribed := 0
	for _, sub := range subscriptions {
		message := wsOutMessage{
			JSONRPC: "2.0",
			ID:      &sub.ID,
			Method:  sub.Method,
			Params:  sub.Params,
		}
		if err := ws.sendMessage(message); err != nil {
			ws.logger.WithError(err).WithField("method", sub.Method).Error("❌ Failed to resubscribe")
		} else {
			resubscribed++
		}
	}

	ws.logger.WithFields(logrus.Fields{
		"reconnect_count": attempt,
		"resubscribed":    resubscribed,
		"total":           len(subscriptions),
	}).Info("✅ WebSocket reconnected")

	return nil
}

// pingHandler sends periodic ping frames to keep the connection alive
func (ws *WSClient) pingHandler() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ws.ctx.Done():
			return
		case <-ticker.C:
			ws.mu.RLock()
			conn := ws.conn
			lastActivity := ws.lastActivity
			ws.mu.RUnlock()

			if conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.logger.WithError(err).Debug("❌ Failed to send ping")
			}

			if time.Since(lastActivity) > 2*time.Minute {
				ws.logger.WithField("last_activity", lastActivity).
					Warn("⚠️ Connection appears stale - no activity for 2+ minutes")
			}
		}
	}
}

// GetConnectionStats returns current connection statistics
func (ws *WSClient) GetConnectionStats() map[string]interface{} {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	activeSubscriptions := 0
	for _, sub := range ws.subscriptions {
		if sub.Active {
			activeSubscriptions++
		}
	}

	return map[string]interface{}{
		"messages_received":    ws.messagesReceived,
		"messages_sent":        ws.messagesSent,
		"active_subscriptions": activeSubscriptions,
		"total_subscriptions":  len(ws.subscriptions),
		"reconnect_count":      ws.reconnectCount,
		"last_activity":        ws.lastActivity,
		"connection_active":    ws.conn != nil,
	}
}

// getUnsubscribeMethod returns the unsubscribe method name for a subscribe method
func getUnsubscribeMethod(subscribeMethod string) string {
	switch subscribeMethod {
	case "programSubscribe":
		return "programUnsubscribe"
	case "accountSubscribe":
		return "accountUnsubscribe"
	case "logsSubscribe":
		return "logsUnsubscribe"
	case "signatureSubscribe":
		return "signatureUnsubscribe"
	case "slotSubscribe":
		return "slotUnsubscribe"
	default:
		return ""
	}
}
