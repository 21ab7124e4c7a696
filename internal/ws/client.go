package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256

	// Deadline for coordinator-backed request handling.
	requestTimeout = 15 * time.Second

	defaultQueryLimit = 20
	maxQueryLimit     = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one live subscriber connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	connID string
	logger *zap.Logger
}

// HandleWS upgrades the request and runs the connection's pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		connID: uuid.New().String(),
		logger: h.logger,
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump reads control messages from the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes queued messages to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound envelope. Every request gets a
// reply; malformed input gets a typed error, never a dropped connection.
func (c *Client) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.reply(encodeError("malformed message: expected {\"type\": ...} envelope"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch env.Type {
	case TypePing:
		c.reply(encodePong())

	case TypeSubscribe:
		c.reply(encode(TypeSubscribed, c.hub.coordinator.Status()))

	case TypeGetStatus:
		c.reply(encode(TypeStatusUpdate, c.hub.coordinator.Status()))

	case TypeGetRecentTxns:
		var req struct {
			Limit int `json:"limit"`
		}
		parseData(env.Data, &req)
		events, err := c.hub.coordinator.RecentActivity(ctx, clampLimit(req.Limit))
		if err != nil {
			c.reply(encodeError("querying recent transactions: " + err.Error()))
			return
		}
		c.reply(encode(TypeRecentTxns, events))

	case TypeRequestActivity:
		var req struct {
			Wallet string `json:"wallet"`
			Limit  int    `json:"limit"`
		}
		parseData(env.Data, &req)
		if req.Wallet == "" {
			c.reply(encodeError("request_activity requires a wallet"))
			return
		}
		events, err := c.hub.coordinator.WalletActivity(ctx, req.Wallet, clampLimit(req.Limit))
		if err != nil {
			c.reply(encodeError("querying wallet activity: " + err.Error()))
			return
		}
		c.reply(encode(TypeWalletActivity, map[string]any{
			"wallet": req.Wallet,
			"events": events,
		}))

	case TypeStartMonitoring:
		if err := c.hub.coordinator.StartMonitoring(ctx); err != nil {
			c.reply(encodeError("starting monitoring: " + err.Error()))
			return
		}
		c.reply(encode(TypeMonitoringStarted, c.hub.coordinator.Status()))

	case TypeStopMonitoring:
		if err := c.hub.coordinator.StopMonitoring(ctx); err != nil {
			c.reply(encodeError("stopping monitoring: " + err.Error()))
			return
		}
		c.reply(encode(TypeMonitoringStopped, c.hub.coordinator.Status()))

	default:
		c.reply(unsupportedTypeError(env.Type))
	}
}

// reply enqueues a payload for this connection. The hub lock guards
// against a concurrent unregister closing the channel mid-send.
func (c *Client) reply(payload []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Debug("reply dropped, send buffer full",
			zap.String("connID", c.connID))
	}
}

func parseData(raw json.RawMessage, dst any) {
	if len(raw) == 0 {
		return
	}
	// Bad fields fall back to zero values; required fields are checked by
	// the caller.
	_ = json.Unmarshal(raw, dst)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
