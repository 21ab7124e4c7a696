package ledger

import "encoding/json"

// ActivityRef identifies one ledger transaction touching a wallet.
type ActivityRef struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime int64  `json:"blockTime"`
}

// ActivityEvent is a fully resolved transaction involving a watched wallet.
// Immutable once constructed.
type ActivityEvent struct {
	Kind      string          `json:"kind"`
	Wallet    string          `json:"wallet"`
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// HolderInfo describes one holder of the tracked token.
type HolderInfo struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Rank    int    `json:"rank"`
}
