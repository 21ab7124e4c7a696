package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Watch is an open account subscription on one wallet. A tick on
// Notifications means the account changed; the payload carries balance
// state, not the causing transaction, so consumers re-fetch recent
// activity instead of reading the notification body.
type Watch struct {
	wallet string
	subID  int64
	notify chan struct{}
}

func (w *Watch) Wallet() string { return w.wallet }

// Notifications is closed when the subscription ends or the upstream
// connection drops.
func (w *Watch) Notifications() <-chan struct{} { return w.notify }

// Watcher multiplexes account subscriptions over one websocket connection
// to the ledger node. The connection is dialed lazily on first Subscribe
// and redialed after a drop.
type Watcher struct {
	wsURL  string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan subReply
	watches map[int64]*Watch
}

type subReply struct {
	subID int64
	err   error
}

type wsFrame struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription int64 `json:"subscription"`
	} `json:"params"`
}

func NewWatcher(wsURL string, logger *zap.Logger) *Watcher {
	return &Watcher{
		wsURL:   wsURL,
		logger:  logger,
		pending: make(map[int64]chan subReply),
		watches: make(map[int64]*Watch),
	}
}

// Subscribe opens an account subscription for wallet and returns its watch
// handle. Callers own the handle's lifecycle through Unsubscribe.
func (w *Watcher) Subscribe(ctx context.Context, wallet string) (*Watch, error) {
	w.mu.Lock()
	if err := w.ensureConnLocked(ctx); err != nil {
		w.mu.Unlock()
		return nil, err
	}

	w.nextID++
	id := w.nextID
	reply := make(chan subReply, 1)
	w.pending[id] = reply

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params:  []any{wallet, map[string]any{"commitment": "confirmed"}},
	}
	err := w.conn.WriteJSON(req)
	w.mu.Unlock()
	if err != nil {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: subscribe write: %v", ErrUnavailable, err)
	}

	select {
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return nil, ctx.Err()
	case r := <-reply:
		if r.err != nil {
			return nil, r.err
		}
		watch := &Watch{
			wallet: wallet,
			subID:  r.subID,
			notify: make(chan struct{}, 1),
		}
		w.mu.Lock()
		w.watches[r.subID] = watch
		w.mu.Unlock()

		w.logger.Debug("account subscribed",
			zap.String("wallet", wallet),
			zap.Int64("subscription", r.subID),
		)
		return watch, nil
	}
}

// Unsubscribe tears down the watch. The handle's notification channel is
// closed; the upstream unsubscribe is best effort.
func (w *Watcher) Unsubscribe(ctx context.Context, watch *Watch) error {
	w.mu.Lock()
	if _, ok := w.watches[watch.subID]; ok {
		delete(w.watches, watch.subID)
		close(watch.notify)
	}
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return nil
	}

	w.nextID++
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      w.nextID,
		Method:  "accountUnsubscribe",
		Params:  []any{watch.subID},
	}
	err := conn.WriteJSON(req)
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: unsubscribe write: %v", ErrUnavailable, err)
	}
	return nil
}

// Close drops the upstream connection and ends all watches.
func (w *Watcher) Close() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (w *Watcher) ensureConnLocked(ctx context.Context) error {
	if w.conn != nil {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", ErrUnavailable, w.wsURL, err)
	}
	w.conn = conn
	go w.readLoop(conn)

	w.logger.Info("watch connection established", zap.String("url", w.wsURL))
	return nil
}

func (w *Watcher) readLoop(conn *websocket.Conn) {
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			w.logger.Warn("watch connection lost", zap.Error(err))
			w.teardown(conn)
			return
		}

		switch {
		case frame.Method == "accountNotification" && frame.Params != nil:
			w.mu.Lock()
			if watch, ok := w.watches[frame.Params.Subscription]; ok {
				select {
				case watch.notify <- struct{}{}:
				default:
					// A notification is already pending; one tick is enough.
				}
			}
			w.mu.Unlock()

		case frame.ID != 0:
			w.mu.Lock()
			reply, ok := w.pending[frame.ID]
			delete(w.pending, frame.ID)
			w.mu.Unlock()
			if !ok {
				continue
			}
			if frame.Error != nil {
				reply <- subReply{err: fmt.Errorf("rpc error %d: %s", frame.Error.Code, frame.Error.Message)}
				continue
			}
			var subID int64
			if err := json.Unmarshal(frame.Result, &subID); err != nil {
				// Unsubscribe acks carry a bool result; ignore them.
				continue
			}
			reply <- subReply{subID: subID}
		}
	}
}

// teardown ends every watch and fails pending subscribes after the
// connection drops. Subscribers see their notification channels close.
func (w *Watcher) teardown(conn *websocket.Conn) {
	_ = conn.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == conn {
		w.conn = nil
	}
	for id, watch := range w.watches {
		close(watch.notify)
		delete(w.watches, id)
	}
	for id, reply := range w.pending {
		reply <- subReply{err: ErrUnavailable}
		delete(w.pending, id)
	}
}
