package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestClient builds a client with a buffered send channel and no
// underlying connection; broadcasts land in the channel for inspection.
func newTestClient(boardID string, hub *Hub) *Client {
	return &Client{
		id:      "test-" + boardID,
		boardID: boardID,
		hub:     hub,
		send:    make(chan []byte, 16),
		logger:  zap.NewNop(),
	}
}

func drain(c *Client) []BroadcastMessage {
	var out []BroadcastMessage
	for {
		select {
		case raw := <-c.send:
			var msg BroadcastMessage
			if err := json.Unmarshal(raw, &msg); err == nil {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func TestBoardIsolation(t *testing.T) {
	hub := NewHub(zap.NewNop())

	c1 := newTestClient("b1", hub)
	c2 := newTestClient("b1", hub)
	c3 := newTestClient("b2", hub)
	hub.registerClient(c1)
	hub.registerClient(c2)
	hub.registerClient(c3)

	msg := &BroadcastMessage{BoardID: "b1", Type: EventNodeCreated, Data: json.RawMessage(`{"id":"n1"}`)}
	hub.broadcastToBoard(msg)

	// Each b1 member observes the event exactly once.
	got1 := drain(c1)
	require.Len(t, got1, 1)
	assert.Equal(t, EventNodeCreated, got1[0].Type)

	got2 := drain(c2)
	require.Len(t, got2, 1)

	// The b2 member observes nothing.
	assert.Empty(t, drain(c3))
}

func TestGlobalBroadcastReachesEveryBoard(t *testing.T) {
	hub := NewHub(zap.NewNop())

	c1 := newTestClient("b1", hub)
	c2 := newTestClient("b2", hub)
	hub.registerClient(c1)
	hub.registerClient(c2)

	hub.dispatchBroadcast(&BroadcastMessage{
		Global: true,
		Type:   EventSettingsUpdated,
		Data:   json.RawMessage(`{"agentName":"Ada"}`),
	})

	require.Len(t, drain(c1), 1)
	require.Len(t, drain(c2), 1)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop())

	c := newTestClient("b1", hub)
	hub.registerClient(c)
	assert.Equal(t, 1, hub.GetConnectionCount("b1"))

	hub.unregisterClient(c)
	assert.Equal(t, 0, hub.GetConnectionCount("b1"))

	// Second leave is a no-op, not a panic or double-close.
	hub.unregisterClient(c)
	assert.Equal(t, 0, hub.GetConnectionCount("b1"))

	// Broadcasting to an empty board is a no-op.
	hub.broadcastToBoard(&BroadcastMessage{BoardID: "b1", Type: EventNodeCreated, Data: json.RawMessage(`{}`)})
}

func TestSendAfterDisconnectIsDropped(t *testing.T) {
	hub := NewHub(zap.NewNop())

	c := newTestClient("b1", hub)
	hub.registerClient(c)
	hub.unregisterClient(c)

	// Query goroutines keep delivering chunks after the client leaves;
	// those sends must be silently dropped.
	assert.NotPanics(t, func() {
		c.Send(Reply{Type: EventQueryChunk, Data: map[string]string{"text": "late chunk"}})
		c.Send(Reply{Type: EventNodeReply, Data: map[string]string{"response": "done"}})
	})

	// Shutdown after an unregister must not double-close either.
	assert.NotPanics(t, func() { hub.closeAllConnections() })
}

func TestMetricsCountDeliveries(t *testing.T) {
	hub := NewHub(zap.NewNop())

	c := newTestClient("b1", hub)
	hub.registerClient(c)

	hub.broadcastToBoard(&BroadcastMessage{BoardID: "b1", Type: EventNodeCreated, Data: json.RawMessage(`{}`)})
	hub.broadcastToBoard(&BroadcastMessage{BoardID: "b1", Type: EventNodeUpdated, Data: json.RawMessage(`{}`)})

	metrics := hub.GetMetrics()
	assert.Equal(t, int64(1), metrics.ActiveConnections)
	assert.Equal(t, int64(2), metrics.MessagesSent)
	assert.Equal(t, int64(0), metrics.MessagesFailed)
}
