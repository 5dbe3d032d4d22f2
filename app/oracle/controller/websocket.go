package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/canopy-network/twabx/pkg/ledger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action  string `json:"action"`  // "subscribe" or "unsubscribe"
	Address string `json:"address"` // account address to follow, or "*" for all accounts
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "observation.recorded", "subscribed", "unsubscribed", "error", "info"
	Payload interface{} `json:"payload"` // Event-specific data
}

// clientSubscriptions tracks which account addresses a client follows.
type clientSubscriptions struct {
	mu        sync.RWMutex
	addresses map[string]bool
}

// NewClientSubscriptions creates a new clientSubscriptions tracker.
// Exported for testing.
func NewClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{
		addresses: make(map[string]bool),
	}
}

// Subscribe adds an address to the subscription list.
// Exported for testing.
func (cs *clientSubscriptions) Subscribe(address string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.addresses[address] = true
}

// Unsubscribe removes an address from the subscription list.
// Exported for testing.
func (cs *clientSubscriptions) Unsubscribe(address string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.addresses, address)
}

// IsSubscribed checks if an address is subscribed. Wildcard (*) matches all.
// Exported for testing.
func (cs *clientSubscriptions) IsSubscribed(address string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.addresses["*"] {
		return true
	}
	return cs.addresses[address]
}

// HandleWebSocket upgrades the HTTP connection to WebSocket and streams
// observation events as balance mutations land.
//
// Protocol:
// Client sends: {"action": "subscribe", "address": "0xabc..."}  // one account
// Client sends: {"action": "subscribe", "address": "*"}         // all accounts
// Client sends: {"action": "unsubscribe", "address": "0xabc..."}
//
// Server sends:
// - {"type": "observation.recorded", "payload": {...}}
// - {"type": "subscribed", "payload": {"address": "0xabc..."}}
// - {"type": "unsubscribed", "payload": {"address": "0xabc..."}}
// - {"type": "error", "payload": {"message": "..."}}
//
// IMPORTANT: All goroutines have panic recovery to prevent crashes.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		err := conn.Close()
		if err != nil {
			c.App.Logger.Error("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := NewClientSubscriptions()

	// Channel for outgoing messages
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup

	// Start Redis subscriber with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in Redis subscriber goroutine",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", r.RemoteAddr))
				cancel()
			}
		}()
		c.subscribeToRedis(ctx, send, subs)
	}()

	// Start ping ticker (keep-alive) with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in ping ticker goroutine",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", r.RemoteAddr))
				cancel()
			}
		}()
		c.sendPings(ctx, conn)
	}()

	// Start message writer with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in message writer goroutine",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", r.RemoteAddr))
				cancel()
			}
		}()
		c.writeMessages(conn, send)
	}()

	// Read messages from client (for subscriptions and close detection)
	// This blocks until the connection closes
	c.readClientMessages(ctx, conn, cancel, subs, send)

	// Connection closed - cleanup
	close(send)
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// subscribeToRedis subscribes to the observation channel and forwards matching
// events to the send channel. Filters events server-side based on the client's
// address subscriptions.
//
// Implements automatic reconnection with exponential backoff:
// - If the Redis connection is lost, it retries with increasing delays
// - Clients are notified while Redis is unavailable
// - The subscription is restored when Redis recovers
// - Respects context cancellation for clean shutdown
func (c *Controller) subscribeToRedis(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
		jitterFactor   = 0.1 // 10% jitter
	)

	backoff := initialBackoff
	attemptNum := 0

	for {
		select {
		case <-ctx.Done():
			c.App.Logger.Info("Redis subscription cancelled")
			return
		default:
		}

		attemptNum++

		subscriptionErr := c.attemptRedisSubscription(ctx, send, subs, attemptNum)

		if ctx.Err() != nil {
			c.App.Logger.Info("Redis subscription cancelled")
			return
		}

		if subscriptionErr != nil {
			c.App.Logger.Warn("Redis subscription failed, will retry",
				zap.Error(subscriptionErr),
				zap.Int("attempt", attemptNum),
				zap.Duration("backoff", backoff))
		} else {
			c.App.Logger.Warn("Redis subscription channel closed, will retry",
				zap.Int("attempt", attemptNum),
				zap.Duration("backoff", backoff))
		}

		select {
		case send <- ServerMessage{
			Type: "error",
			Payload: map[string]interface{}{
				"message":     "Redis connection lost, attempting to reconnect...",
				"retryIn":     backoff.Seconds(),
				"attempt":     attemptNum,
				"recoverable": true,
			},
		}:
		case <-ctx.Done():
			return
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c.App.Logger.Info("Redis subscription cancelled during backoff")
			return
		}

		backoff = CalculateNextBackoff(backoff, maxBackoff, backoffFactor, jitterFactor)
	}
}

// attemptRedisSubscription attempts a single Redis subscription and processes
// messages until the subscription fails or the context is cancelled. Returns an
// error if subscription setup fails, or nil if the subscription was established
// but the channel closed.
func (c *Controller) attemptRedisSubscription(
	ctx context.Context,
	send chan<- ServerMessage,
	subs *clientSubscriptions,
	attemptNum int,
) error {
	c.App.Logger.Info("Attempting Redis subscription",
		zap.String("channel", ledger.ObservationChannel),
		zap.Int("attempt", attemptNum))

	pubsub := c.App.RedisClient.Subscribe(ctx, ledger.ObservationChannel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			c.App.Logger.Error("Error closing Redis subscription", zap.Error(err))
		}
	}()

	// Wait for subscription confirmation with a bounded timeout
	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()

	_, err := pubsub.Receive(receiveCtx)
	if err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}

	c.App.Logger.Info("Successfully subscribed to Redis channel",
		zap.String("channel", ledger.ObservationChannel),
		zap.Int("attempt", attemptNum))

	select {
	case send <- ServerMessage{
		Type: "info",
		Payload: map[string]interface{}{
			"message": "Redis connection established",
			"attempt": attemptNum,
		},
	}:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.processRedisMessages(ctx, pubsub, send, subs)
}

// processRedisMessages processes messages from the Redis PubSub channel until
// the channel closes or context is cancelled. Returns nil when channel closes,
// or context error when cancelled.
func (c *Controller) processRedisMessages(
	ctx context.Context,
	pubsub *redis.PubSub,
	send chan<- ServerMessage,
	subs *clientSubscriptions,
) error {
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				// Channel closed - the normal Redis disconnection case
				return nil
			}

			var event ledger.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.App.Logger.Error("Failed to parse observation event",
					zap.Error(err),
					zap.String("channel", msg.Channel))
				continue
			}

			// Server-side filtering: only forward if the client follows this account
			if !subs.IsSubscribed(event.Address) {
				continue
			}

			select {
			case send <- ServerMessage{Type: "observation.recorded", Payload: event}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// CalculateNextBackoff calculates the next backoff duration with exponential growth and jitter.
// Exported for testing.
func CalculateNextBackoff(current, max time.Duration, factor, jitterFactor float64) time.Duration {
	next := time.Duration(float64(current) * factor)

	if next > max {
		next = max
	}

	// Jitter spreads reconnect attempts so clients don't retry in lockstep
	jitter := float64(next) * jitterFactor * (2*rand.Float64() - 1)
	nextWithJitter := time.Duration(float64(next) + jitter)

	if nextWithJitter < current {
		nextWithJitter = current
	}
	if nextWithJitter > max {
		nextWithJitter = max
	}

	return nextWithJitter
}

// sendPings sends periodic WebSocket ping frames to keep the connection alive.
// The client responds with pong frames, which resets the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages writes messages from the send channel to the WebSocket connection.
func (c *Controller) writeMessages(conn *websocket.Conn, send <-chan ServerMessage) {
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			c.App.Logger.Error("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// readClientMessages reads messages from the WebSocket connection.
// Handles subscription/unsubscription requests and detects connection closure.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	err := conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	if err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}

	conn.SetPongHandler(func(string) error {
		err := conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if err != nil {
			c.App.Logger.Error("Failed to reset read deadline", zap.Error(err))
			return err
		}
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg ClientMessage
			err := conn.ReadJSON(&msg)
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.App.Logger.Error("WebSocket read error", zap.Error(err))
				}
				cancel()
				return
			}

			err = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if err != nil {
				c.App.Logger.Error("Failed to reset read deadline", zap.Error(err))
				return
			}

			switch msg.Action {
			case "subscribe":
				if msg.Address == "" {
					send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "address is required"}}
					continue
				}
				subs.Subscribe(msg.Address)
				c.App.Logger.Debug("Client subscribed", zap.String("address", msg.Address))
				send <- ServerMessage{Type: "subscribed", Payload: map[string]string{"address": msg.Address}}

			case "unsubscribe":
				if msg.Address == "" {
					send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "address is required"}}
					continue
				}
				subs.Unsubscribe(msg.Address)
				c.App.Logger.Debug("Client unsubscribed", zap.String("address", msg.Address))
				send <- ServerMessage{Type: "unsubscribed", Payload: map[string]string{"address": msg.Address}}

			default:
				send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}}
			}
		}
	}
}
