package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/ledger-monitor/internal/ledger"
	"github.com/dgnsrekt/ledger-monitor/internal/notify"
	"github.com/dgnsrekt/ledger-monitor/internal/store"
	"github.com/dgnsrekt/ledger-monitor/internal/syncer"
	"github.com/dgnsrekt/ledger-monitor/internal/watch"
	"github.com/dgnsrekt/ledger-monitor/internal/ws"
)

// ErrJobActive is returned when a backfill is requested while another is
// still running.
var ErrJobActive = errors.New("a sync job is already active")

// Config tunes the monitor's sync behavior.
type Config struct {
	// IncrementalLimit is how many recent refs to pull when a watched
	// wallet changes.
	IncrementalLimit int
	// BackfillLimit is how many refs per wallet a backfill job pulls.
	BackfillLimit int
	// TopHolders is how many holders discovery persists.
	TopHolders int
	// DiscoveryEnabled pulls the top-holder list on start.
	DiscoveryEnabled bool
	// StaticWallets are always watched, independent of discovery.
	StaticWallets []string
}

// Monitor ties the watch registry, the sync orchestrator and the broadcast
// hub together: it opens watches over the known wallet set, turns change
// notifications into small incremental syncs, and runs discovery and
// backfill jobs.
type Monitor struct {
	ledger   ledger.Client
	registry *watch.Registry
	store    *store.Store
	orch     *syncer.Orchestrator
	tracker  *syncer.Tracker
	notifier notify.Notifier
	cfg      Config
	logger   *zap.Logger

	// hub is attached after construction; the hub needs the monitor as
	// its coordinator.
	hub *ws.Hub

	mu          sync.Mutex
	monitoring  bool
	starting    bool
	watchCancel context.CancelFunc
	activeJob   *syncer.Job

	wg sync.WaitGroup
}

func New(
	ledgerClient ledger.Client,
	registry *watch.Registry,
	st *store.Store,
	orch *syncer.Orchestrator,
	tracker *syncer.Tracker,
	notifier notify.Notifier,
	cfg Config,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		ledger:   ledgerClient,
		registry: registry,
		store:    st,
		orch:     orch,
		tracker:  tracker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// AttachHub wires the broadcast hub in after both sides exist.
func (m *Monitor) AttachHub(hub *ws.Hub) { m.hub = hub }

// Status implements ws.Coordinator.
func (m *Monitor) Status() ws.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := ws.Status{
		Monitoring: m.monitoring,
		Watched:    m.registry.Status().Count,
	}
	if m.activeJob != nil {
		status.ActiveJob = m.activeJob.ID
	}
	return status
}

// RecentActivity implements ws.Coordinator.
func (m *Monitor) RecentActivity(ctx context.Context, limit int) ([]ledger.ActivityEvent, error) {
	return m.store.QueryActivity(ctx, store.Filter{Limit: limit})
}

// WalletActivity implements ws.Coordinator.
func (m *Monitor) WalletActivity(ctx context.Context, wallet string, limit int) ([]ledger.ActivityEvent, error) {
	return m.store.QueryActivity(ctx, store.Filter{Wallet: wallet, Limit: limit})
}

// StartMonitoring discovers the wallet set if needed and opens a watch per
// wallet. Individual subscription failures are logged and skipped; the
// operation fails only when no wallet set can be established at all.
// Starting while already monitoring, or while another start is in flight,
// is a no-op.
func (m *Monitor) StartMonitoring(ctx context.Context) error {
	m.mu.Lock()
	if m.monitoring || m.starting {
		m.mu.Unlock()
		return nil
	}
	m.starting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	wallets, err := m.walletSet(ctx)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		return fmt.Errorf("no wallets to monitor")
	}

	watchCtx, cancel := context.WithCancel(context.Background())

	started, failed := 0, 0
	for _, wallet := range wallets {
		handle, created, err := m.registry.Start(ctx, wallet)
		if err != nil {
			failed++
			m.logger.Warn("failed to subscribe to wallet",
				zap.String("wallet", wallet), zap.Error(err))
			continue
		}
		started++
		if created {
			m.wg.Add(1)
			go m.watchLoop(watchCtx, handle)
		}
	}

	m.mu.Lock()
	m.monitoring = true
	m.watchCancel = cancel
	m.mu.Unlock()

	m.logger.Info("monitoring started",
		zap.Int("watched", started),
		zap.Int("failed", failed),
	)
	return nil
}

// walletSet loads the known wallet addresses, running discovery when the
// store is empty and folding in the configured static wallets.
func (m *Monitor) walletSet(ctx context.Context) ([]string, error) {
	known, err := m.store.Wallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading wallet set: %w", err)
	}
	if len(known) == 0 && m.cfg.DiscoveryEnabled {
		if _, err := m.Discover(ctx); err != nil {
			return nil, fmt.Errorf("discovering holders: %w", err)
		}
		if known, err = m.store.Wallets(ctx); err != nil {
			return nil, fmt.Errorf("reloading wallet set: %w", err)
		}
	}

	seen := make(map[string]bool, len(known)+len(m.cfg.StaticWallets))
	wallets := make([]string, 0, len(known)+len(m.cfg.StaticWallets))
	for _, w := range known {
		if seen[w.Address] {
			continue
		}
		seen[w.Address] = true
		wallets = append(wallets, w.Address)
	}
	for _, addr := range m.cfg.StaticWallets {
		if seen[addr] {
			continue
		}
		if err := m.store.UpsertWallet(ctx, store.WalletInfo{Address: addr, UpdatedAt: time.Now().Unix()}); err != nil {
			m.logger.Warn("failed to persist static wallet", zap.String("wallet", addr), zap.Error(err))
			continue
		}
		seen[addr] = true
		wallets = append(wallets, addr)
	}
	return wallets, nil
}

// StopMonitoring cancels any active sync job, stops all watches, and
// leaves hub connections open. Stopping while already stopped is a no-op.
func (m *Monitor) StopMonitoring(ctx context.Context) error {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return nil
	}
	m.monitoring = false
	cancel := m.watchCancel
	m.watchCancel = nil
	job := m.activeJob
	m.mu.Unlock()

	if job != nil {
		job.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	m.registry.StopAll(ctx)

	m.logger.Info("monitoring stopped")
	return nil
}

// Shutdown stops monitoring and waits for watch loops to drain.
func (m *Monitor) Shutdown(ctx context.Context) {
	_ = m.StopMonitoring(ctx)
	m.wg.Wait()
}

// watchLoop drains one wallet's change notifications. Each tick triggers a
// small incremental sync; sync failures are logged and the loop keeps
// going.
func (m *Monitor) watchLoop(ctx context.Context, handle watch.Handle) {
	defer m.wg.Done()

	wallet := handle.Wallet()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-handle.Notifications():
			if !ok {
				m.logger.Debug("watch closed upstream", zap.String("wallet", wallet))
				return
			}
			if err := m.incrementalSync(ctx, wallet); err != nil {
				m.logger.Warn("incremental sync failed",
					zap.String("wallet", wallet), zap.Error(err))
			}
		}
	}
}

// incrementalSync pulls the wallet's most recent refs, records the ones
// not seen before, and pushes each new event to subscribers.
func (m *Monitor) incrementalSync(ctx context.Context, wallet string) error {
	refs, err := m.ledger.ListRecentActivity(ctx, wallet, m.cfg.IncrementalLimit)
	if err != nil {
		return fmt.Errorf("listing recent activity: %w", err)
	}

	// Refs arrive newest first; record and broadcast oldest first so
	// subscribers see events in chain order.
	for i := len(refs) - 1; i >= 0; i-- {
		event, recorded, err := m.recordRef(ctx, wallet, refs[i])
		if err != nil {
			m.logger.Warn("failed to record activity",
				zap.String("wallet", wallet),
				zap.String("signature", refs[i].Signature),
				zap.Error(err))
			continue
		}
		if recorded {
			m.hub.BroadcastActivity(*event)
		}
	}
	return nil
}

// recordRef fetches and persists one activity ref. recorded is false when
// the signature was already stored or the transaction is pruned upstream.
func (m *Monitor) recordRef(ctx context.Context, wallet string, ref ledger.ActivityRef) (*ledger.ActivityEvent, bool, error) {
	seen, err := m.store.HasActivity(ctx, ref.Signature)
	if err != nil {
		return nil, false, err
	}
	if seen {
		return nil, false, nil
	}

	event, err := m.ledger.FetchActivityDetail(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	if event == nil {
		return nil, false, nil
	}
	event.Wallet = wallet

	if err := m.store.RecordActivity(ctx, *event); err != nil {
		return nil, false, err
	}
	return event, true, nil
}

// Discover pulls the top-holder list and persists each holder through the
// orchestrator. Returns the aggregate result; individual upsert failures
// do not abort the run.
func (m *Monitor) Discover(ctx context.Context) (syncer.Result, error) {
	holders, err := m.ledger.ListTopHolders(ctx, m.cfg.TopHolders)
	if err != nil {
		return syncer.Result{}, fmt.Errorf("listing top holders: %w", err)
	}

	byAddr := make(map[string]ledger.HolderInfo, len(holders))
	worklist := make([]string, 0, len(holders))
	for _, h := range holders {
		byAddr[h.Address] = h
		worklist = append(worklist, h.Address)
	}

	job := m.orch.NewJob(worklist)
	result := m.orch.Run(ctx, job, func(ctx context.Context, addr string) error {
		h := byAddr[addr]
		return m.store.UpsertWallet(ctx, store.WalletInfo{
			Address:   h.Address,
			Balance:   h.Balance,
			Rank:      h.Rank,
			UpdatedAt: time.Now().Unix(),
		})
	}, nil)

	m.logger.Info("holder discovery finished",
		zap.Int("persisted", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// EnqueueBackfill registers a backfill job over every known wallet and
// starts it on its own goroutine, returning the job ID immediately. Job
// status is queried by ID; completion is broadcast to subscribers and
// pushed to the notifier.
func (m *Monitor) EnqueueBackfill(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.activeJob != nil {
		id := m.activeJob.ID
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	m.mu.Unlock()

	wallets, err := m.store.Wallets(ctx)
	if err != nil {
		return "", fmt.Errorf("loading wallet set: %w", err)
	}
	if len(wallets) == 0 {
		return "", fmt.Errorf("no wallets to sync")
	}

	worklist := make([]string, 0, len(wallets))
	for _, w := range wallets {
		worklist = append(worklist, w.Address)
	}

	// Claim the slot and register the job under one lock; a concurrent
	// enqueue that raced past the early check loses here.
	m.mu.Lock()
	if m.activeJob != nil {
		id := m.activeJob.ID
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	job := m.orch.NewJob(worklist)
	m.activeJob = job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runBackfill(job, len(worklist))

	return job.ID, nil
}

func (m *Monitor) runBackfill(job *syncer.Job, total int) {
	defer m.wg.Done()

	start := time.Now()
	ctx := context.Background()

	result := m.orch.Run(ctx, job, m.backfillWallet, func(current, total int) {
		m.logger.Debug("backfill progress",
			zap.String("job", job.ID),
			zap.Int("current", current),
			zap.Int("total", total),
		)
	})

	m.mu.Lock()
	if m.activeJob == job {
		m.activeJob = nil
	}
	m.mu.Unlock()

	duration := time.Since(start)
	m.hub.BroadcastSyncCompleted(result.Succeeded, result.Failed)

	var notifyErr error
	if result.Succeeded == 0 && result.Failed > 0 {
		notifyErr = m.notifier.SendSyncFailure(ctx, &result, duration, nil)
	} else {
		notifyErr = m.notifier.SendSyncComplete(ctx, &result, duration)
	}
	if notifyErr != nil {
		m.logger.Warn("failed to send sync notification", zap.Error(notifyErr))
	}

	m.logger.Info("backfill finished",
		zap.String("job", job.ID),
		zap.Int("total", total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", duration),
	)
}

// backfillWallet is the per-item worker for backfill jobs.
func (m *Monitor) backfillWallet(ctx context.Context, wallet string) error {
	refs, err := m.ledger.ListRecentActivity(ctx, wallet, m.cfg.BackfillLimit)
	if err != nil {
		return fmt.Errorf("listing activity: %w", err)
	}

	for i := len(refs) - 1; i >= 0; i-- {
		if _, _, err := m.recordRef(ctx, wallet, refs[i]); err != nil {
			return fmt.Errorf("recording %s: %w", refs[i].Signature, err)
		}
	}
	return nil
}

// Backfill runs a single synchronous backfill over the wallet set,
// discovering it first when the store is empty. Unlike EnqueueBackfill the
// caller blocks until the job finishes and owns progress reporting.
func (m *Monitor) Backfill(ctx context.Context, onProgress syncer.ProgressFunc) (syncer.Result, error) {
	wallets, err := m.walletSet(ctx)
	if err != nil {
		return syncer.Result{}, err
	}
	if len(wallets) == 0 {
		return syncer.Result{}, fmt.Errorf("no wallets to sync")
	}

	job := m.orch.NewJob(wallets)
	return m.orch.Run(ctx, job, m.backfillWallet, onProgress), nil
}

// CancelJob cancels a job by ID. Returns false if the ID is unknown.
func (m *Monitor) CancelJob(id string) bool {
	job, ok := m.tracker.Get(id)
	if !ok {
		return false
	}
	job.Cancel()
	return true
}
