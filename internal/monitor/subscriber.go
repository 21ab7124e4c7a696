package monitor

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/ledger-monitor/internal/ledger"
	"github.com/dgnsrekt/ledger-monitor/internal/watch"
)

// ledgerSubscriber adapts ledger.Watcher to the registry's Subscriber
// interface.
type ledgerSubscriber struct {
	watcher *ledger.Watcher
}

// NewLedgerSubscriber wraps a ledger watcher for use by the watch
// registry.
func NewLedgerSubscriber(watcher *ledger.Watcher) watch.Subscriber {
	return &ledgerSubscriber{watcher: watcher}
}

func (s *ledgerSubscriber) Subscribe(ctx context.Context, wallet string) (watch.Handle, error) {
	return s.watcher.Subscribe(ctx, wallet)
}

func (s *ledgerSubscriber) Unsubscribe(ctx context.Context, handle watch.Handle) error {
	w, ok := handle.(*ledger.Watch)
	if !ok {
		return fmt.Errorf("unexpected handle type %T", handle)
	}
	return s.watcher.Unsubscribe(ctx, w)
}
