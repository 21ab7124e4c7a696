package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/ledger-monitor/internal/ledger"
)

// Hub fans events out to the live connection set. Producers never learn
// about individual connections; a connection that cannot keep up is pruned
// during broadcast, not surfaced as an error.
type Hub struct {
	coordinator Coordinator
	logger      *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

func NewHub(coordinator Coordinator, logger *zap.Logger) *Hub {
	return &Hub{
		coordinator: coordinator,
		logger:      logger,
		clients:     make(map[*Client]bool),
	}
}

// Register adds a connection to the live set. Idempotent.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.logger.Debug("client registered", zap.String("connID", client.connID))
}

// Unregister removes a connection and closes its send channel. Idempotent.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.logger.Debug("client unregistered", zap.String("connID", client.connID))
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast serializes the event once and attempts delivery to every
// registered connection. Connections whose send buffer is full are treated
// as dead and unregistered; delivery to the rest continues. Returns the
// number of successful deliveries.
func (h *Hub) Broadcast(msgType string, data any) int {
	payload := encode(msgType, data)

	// Sends are attempted under the read lock so no channel can be closed
	// mid-send; the per-client buffer keeps this non-blocking.
	h.mu.RLock()
	delivered := 0
	var dead []*Client
	for client := range h.clients {
		select {
		case client.send <- payload:
			delivered++
		default:
			dead = append(dead, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dead {
		h.logger.Debug("dropping unresponsive client", zap.String("connID", client.connID))
		h.Unregister(client)
	}

	return delivered
}

// BroadcastActivity pushes new activity on a watched wallet.
func (h *Hub) BroadcastActivity(event ledger.ActivityEvent) int {
	return h.Broadcast(TypeWalletActivity, event)
}

// BroadcastSyncCompleted announces a finished backfill job.
func (h *Hub) BroadcastSyncCompleted(succeeded, failed int) int {
	return h.Broadcast(TypeSyncCompleted, map[string]int{
		"succeeded": succeeded,
		"failed":    failed,
	})
}

// Shutdown closes every connection's send channel. Used at process exit;
// stopping the monitor alone leaves connections open.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.logger.Info("hub shut down")
}
