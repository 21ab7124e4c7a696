package ledger

import "errors"

var (
	ErrRateLimited = errors.New("rate limited by RPC node")
	ErrUnavailable = errors.New("RPC node unavailable")
	ErrNotFound    = errors.New("not found on RPC node")
)
