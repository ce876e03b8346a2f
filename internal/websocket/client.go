package websocket

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size
	sendBufferSize = 256
)

// Client represents a WebSocket client connection. Each client belongs to
// exactly one board, chosen at connect time and never changed.
type Client struct {
	id         string          // Unique connection ID
	boardID    string          // Board chosen at connect time
	hub        *Hub            // Reference to hub
	conn       *websocket.Conn // WebSocket connection
	send       chan []byte     // Buffered channel of outbound messages
	dispatcher *Dispatcher
	logger     *zap.Logger

	// Guards send against writes after the hub has closed it. Query
	// goroutines keep streaming chunks after a disconnect; those sends
	// must become no-ops, not panics.
	sendMu sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client bound to a board.
func NewClient(boardID string, hub *Hub, conn *websocket.Conn, dispatcher *Dispatcher, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:         id,
		boardID:    boardID,
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		dispatcher: dispatcher,
		logger: logger.With(
			zap.String("boardID", boardID),
			zap.String("connectionID", id),
		),
	}
}

// Start registers the client and begins its read and write pumps.
func (c *Client) Start() {
	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}

// Send queues a sender-addressed reply on this connection. Delivery is
// best-effort; a full buffer or an already-closed connection drops the
// message rather than blocking or panicking.
func (c *Client) Send(reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err), zap.String("type", reply.Type))
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("Dropping reply to slow client", zap.String("type", reply.Type))
	}
}

// closeSend marks the client closed and closes its send channel exactly
// once. Only the hub calls this.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump pumps messages from the WebSocket connection to the dispatcher
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.logger.Info("Read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.handleTextMessage(message)
		case websocket.BinaryMessage:
			c.logger.Warn("Binary messages not supported")
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Info("Write pump stopped")
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

			// Add queued messages to the current message batch
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					c.logger.Error("Failed to write batched message", zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// handleTextMessage hands an inbound frame to the dispatcher.
func (c *Client) handleTextMessage(message []byte) {
	message = bytes.TrimSpace(message)
	if len(message) == 0 {
		return
	}
	if string(message) == `{"type":"pong"}` {
		return
	}
	c.dispatcher.Dispatch(c, message)
}

// GetID returns the client's connection ID
func (c *Client) GetID() string {
	return c.id
}

// GetBoardID returns the board this client is joined to
func (c *Client) GetBoardID() string {
	return c.boardID
}
