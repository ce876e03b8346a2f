package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub maintains active WebSocket connections partitioned by board and fans
// broadcasts out to them. Board membership is fixed for the life of a
// connection.
type Hub struct {
	// Board connections - one board can have many clients
	connections map[string]map[*Client]bool // boardID -> set of clients
	mu          sync.RWMutex

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Message broadcasting
	broadcast chan *BroadcastMessage

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// Metrics
	metrics *HubMetrics
}

// HubMetrics tracks WebSocket metrics
type HubMetrics struct {
	ActiveConnections int64
	MessagesSent      int64
	MessagesFailed    int64
	mu                sync.RWMutex
}

// BroadcastMessage represents a message to be sent to a board's connections,
// or to all connections when Global is set.
type BroadcastMessage struct {
	BoardID   string          `json:"-"` // Target board ID
	Global    bool            `json:"-"` // Deliver to every board
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		connections: make(map[string]map[*Client]bool),
		register:    make(chan *Client, 100),
		unregister:  make(chan *Client, 100),
		broadcast:   make(chan *BroadcastMessage, 1000),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		metrics:     &HubMetrics{},
	}
}

// Run starts the hub's main event loop. Broadcasts are drained in FIFO
// order, which is what preserves causal ordering per board.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("Hub shutting down")
			h.closeAllConnections()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.dispatchBroadcast(message)

		case <-ticker.C:
			h.performHealthCheck()
		}
	}
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.logger.Info("Stopping WebSocket hub")
	h.cancel()
}

// SendToBoard sends a message to every connection on a board.
func (h *Hub) SendToBoard(boardID string, messageType string, data interface{}) error {
	return h.enqueue(&BroadcastMessage{BoardID: boardID, Type: messageType}, data)
}

// SendToAll sends a message to every connection on every board. Used only
// for cross-board settings propagation.
func (h *Hub) SendToAll(messageType string, data interface{}) error {
	return h.enqueue(&BroadcastMessage{Global: true, Type: messageType}, data)
}

// BroadcastToBoard is SendToBoard with the error logged instead of
// returned, for callers that fan out best-effort.
func (h *Hub) BroadcastToBoard(boardID, messageType string, data interface{}) {
	if err := h.SendToBoard(boardID, messageType, data); err != nil {
		h.logger.Error("Board broadcast dropped",
			zap.String("boardID", boardID),
			zap.String("messageType", messageType),
			zap.Error(err),
		)
	}
}

func (h *Hub) enqueue(message *BroadcastMessage, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	message.Data = jsonData
	message.Timestamp = time.Now().Unix()

	select {
	case h.broadcast <- message:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("broadcast channel full, message dropped")
	}
}

// registerClient adds a new client connection
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[client.boardID] == nil {
		h.connections[client.boardID] = make(map[*Client]bool)
	}
	h.connections[client.boardID][client] = true

	h.metrics.mu.Lock()
	h.metrics.ActiveConnections++
	h.metrics.mu.Unlock()

	h.logger.Info("Client registered",
		zap.String("boardID", client.boardID),
		zap.String("connectionID", client.id),
		zap.Int("boardConnections", len(h.connections[client.boardID])),
	)
}

// unregisterClient removes a client connection. Safe to call twice for the
// same client; the second call is a no-op.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.connections[client.boardID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			client.closeSend()

			// Remove board entry if no more connections
			if len(clients) == 0 {
				delete(h.connections, client.boardID)
			}

			h.metrics.mu.Lock()
			h.metrics.ActiveConnections--
			h.metrics.mu.Unlock()

			h.logger.Info("Client unregistered",
				zap.String("boardID", client.boardID),
				zap.String("connectionID", client.id),
				zap.Int("remainingConnections", len(clients)),
			)
		}
	}
}

func (h *Hub) dispatchBroadcast(message *BroadcastMessage) {
	if message.Global {
		h.mu.RLock()
		boardIDs := make([]string, 0, len(h.connections))
		for boardID := range h.connections {
			boardIDs = append(boardIDs, boardID)
		}
		h.mu.RUnlock()

		for _, boardID := range boardIDs {
			scoped := *message
			scoped.BoardID = boardID
			h.broadcastToBoard(&scoped)
		}
		return
	}
	h.broadcastToBoard(message)
}

// broadcastToBoard sends a message to all connections on one board.
func (h *Hub) broadcastToBoard(message *BroadcastMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.connections[message.BoardID]))
	for client := range h.connections[message.BoardID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	// Marshal once for all clients
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message",
			zap.Error(err),
			zap.String("messageType", message.Type),
		)
		return
	}

	successCount := 0
	failCount := 0

	for _, client := range clients {
		select {
		case client.send <- data:
			successCount++
			h.metrics.mu.Lock()
			h.metrics.MessagesSent++
			h.metrics.mu.Unlock()
		default:
			// Client's send channel is full, evict it
			failCount++
			h.metrics.mu.Lock()
			h.metrics.MessagesFailed++
			h.metrics.mu.Unlock()

			h.logger.Warn("Closing slow client",
				zap.String("boardID", client.boardID),
				zap.String("connectionID", client.id),
			)

			go func(c *Client) {
				c.hub.unregister <- c
				if c.conn != nil {
					c.conn.Close()
				}
			}(client)
		}
	}

	h.logger.Debug("Broadcast complete",
		zap.String("boardID", message.BoardID),
		zap.String("messageType", message.Type),
		zap.Int("success", successCount),
		zap.Int("failed", failCount),
	)
}

// performHealthCheck pings all connections to check if they're alive
func (h *Hub) performHealthCheck() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalConnections := 0
	for boardID, clients := range h.connections {
		totalConnections += len(clients)
		for client := range clients {
			select {
			case client.send <- []byte(`{"type":"ping"}`):
				// Ping sent successfully
			default:
				// Connection might be dead
				h.logger.Warn("Failed to ping client",
					zap.String("boardID", boardID),
					zap.String("connectionID", client.id),
				)
			}
		}
	}

	h.logger.Debug("Health check performed",
		zap.Int("totalConnections", totalConnections),
		zap.Int("totalBoards", len(h.connections)),
	)
}

// closeAllConnections closes all active connections during shutdown
func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for boardID, clients := range h.connections {
		for client := range clients {
			client.closeSend()
			if client.conn != nil {
				client.conn.Close()
			}
		}
		delete(h.connections, boardID)
	}

	h.logger.Info("All connections closed")
}

// GetMetrics returns current hub metrics
func (h *Hub) GetMetrics() HubMetrics {
	h.metrics.mu.RLock()
	defer h.metrics.mu.RUnlock()
	return HubMetrics{
		ActiveConnections: h.metrics.ActiveConnections,
		MessagesSent:      h.metrics.MessagesSent,
		MessagesFailed:    h.metrics.MessagesFailed,
	}
}

// GetConnectionCount returns the number of active connections on a board
func (h *Hub) GetConnectionCount(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[boardID])
}
