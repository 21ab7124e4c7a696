package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/ledger-monitor/internal/ledger"
)

// Envelope is the wire format for every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Inbound message types.
const (
	TypePing            = "ping"
	TypeSubscribe       = "subscribe"
	TypeGetStatus       = "get_status"
	TypeGetRecentTxns   = "get_recent_transactions"
	TypeRequestActivity = "request_activity"
	TypeStartMonitoring = "start_monitoring"
	TypeStopMonitoring  = "stop_monitoring"
)

// Outbound message types.
const (
	TypePong              = "pong"
	TypeSubscribed        = "subscribed"
	TypeStatusUpdate      = "status_update"
	TypeRecentTxns        = "recent_transactions"
	TypeWalletActivity    = "wallet_activity"
	TypeMonitoringStarted = "monitoring_started"
	TypeMonitoringStopped = "monitoring_stopped"
	TypeSyncCompleted     = "sync_completed"
	TypeError             = "error"
)

var supportedTypes = []string{
	TypePing,
	TypeSubscribe,
	TypeGetStatus,
	TypeGetRecentTxns,
	TypeRequestActivity,
	TypeStartMonitoring,
	TypeStopMonitoring,
}

// Status is the snapshot reported to subscribers and the control surface.
type Status struct {
	Monitoring bool   `json:"monitoring"`
	Watched    int    `json:"watched"`
	ActiveJob  string `json:"active_job,omitempty"`
}

// Coordinator is the hub's view of the monitor. Implemented by
// monitor.Monitor; mocked in tests.
type Coordinator interface {
	Status() Status
	RecentActivity(ctx context.Context, limit int) ([]ledger.ActivityEvent, error)
	WalletActivity(ctx context.Context, wallet string, limit int) ([]ledger.ActivityEvent, error)
	StartMonitoring(ctx context.Context) error
	StopMonitoring(ctx context.Context) error
}

func encode(msgType string, data any) []byte {
	env := Envelope{Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			// Data comes from our own structs; a marshal failure is a bug.
			return encodeError(fmt.Sprintf("encoding %s: %v", msgType, err))
		}
		env.Data = raw
	}
	payload, _ := json.Marshal(env)
	return payload
}

func encodeError(message string) []byte {
	payload, _ := json.Marshal(Envelope{Type: TypeError, Message: message})
	return payload
}

func encodePong() []byte {
	return encode(TypePong, map[string]int64{"timestamp": time.Now().UnixMilli()})
}

func unsupportedTypeError(msgType string) []byte {
	return encodeError(fmt.Sprintf("unsupported message type %q; supported types: %s",
		msgType, strings.Join(supportedTypes, ", ")))
}
