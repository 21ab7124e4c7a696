package watch

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handle is an open upstream subscription on one wallet.
type Handle interface {
	Wallet() string
	Notifications() <-chan struct{}
}

// Subscriber opens and closes upstream watches. Satisfied by
// ledger.Watcher.
type Subscriber interface {
	Subscribe(ctx context.Context, wallet string) (Handle, error)
	Unsubscribe(ctx context.Context, handle Handle) error
}

// Status is a point-in-time snapshot of the registry.
type Status struct {
	Active bool `json:"active"`
	Count  int  `json:"count"`
}

// Registry owns the wallet -> subscription mapping. Entries are added only
// by Start and removed only by Stop/StopAll.
type Registry struct {
	subs   Subscriber
	logger *zap.Logger

	mu      sync.Mutex
	watches map[string]Handle
}

func NewRegistry(subs Subscriber, logger *zap.Logger) *Registry {
	return &Registry{
		subs:    subs,
		logger:  logger,
		watches: make(map[string]Handle),
	}
}

// Start opens a watch for wallet. Starting an already-watched wallet is a
// no-op that returns the existing handle; created reports whether a new
// subscription was opened.
func (r *Registry) Start(ctx context.Context, wallet string) (handle Handle, created bool, err error) {
	r.mu.Lock()
	if existing, ok := r.watches[wallet]; ok {
		r.mu.Unlock()
		return existing, false, nil
	}
	r.mu.Unlock()

	// Subscribe outside the lock; the upstream round trip can be slow.
	h, err := r.subs.Subscribe(ctx, wallet)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.watches[wallet]; ok {
		// Lost the race to a concurrent Start; keep the first subscription.
		go func() {
			if err := r.subs.Unsubscribe(context.Background(), h); err != nil {
				r.logger.Warn("failed to drop duplicate watch",
					zap.String("wallet", wallet), zap.Error(err))
			}
		}()
		return existing, false, nil
	}
	r.watches[wallet] = h
	return h, true, nil
}

// Stop closes the watch for wallet if present. An unsubscribe failure is
// logged, not returned; shutdown proceeds regardless.
func (r *Registry) Stop(ctx context.Context, wallet string) {
	r.mu.Lock()
	handle, ok := r.watches[wallet]
	if ok {
		delete(r.watches, wallet)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.subs.Unsubscribe(ctx, handle); err != nil {
		r.logger.Warn("failed to stop watch",
			zap.String("wallet", wallet), zap.Error(err))
	}
}

// StopAll best-effort stops every active watch, logging individual
// failures.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.watches))
	for wallet, handle := range r.watches {
		handles = append(handles, handle)
		delete(r.watches, wallet)
	}
	r.mu.Unlock()

	failed := 0
	for _, handle := range handles {
		if err := r.subs.Unsubscribe(ctx, handle); err != nil {
			failed++
			r.logger.Warn("failed to stop watch",
				zap.String("wallet", handle.Wallet()), zap.Error(err))
		}
	}

	r.logger.Info("all watches stopped",
		zap.Int("stopped", len(handles)-failed),
		zap.Int("failed", failed),
	)
}

// Status reports whether anything is being watched and how much. Pure
// read, no I/O.
func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Active: len(r.watches) > 0,
		Count:  len(r.watches),
	}
}
