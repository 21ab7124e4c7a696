package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/ledger-monitor/internal/ledger"
	"github.com/dgnsrekt/ledger-monitor/internal/notify"
	"github.com/dgnsrekt/ledger-monitor/internal/store"
	"github.com/dgnsrekt/ledger-monitor/internal/syncer"
	"github.com/dgnsrekt/ledger-monitor/internal/watch"
	"github.com/dgnsrekt/ledger-monitor/internal/ws"
)

type fakeLedger struct {
	mu          sync.Mutex
	refs        map[string][]ledger.ActivityRef
	holders     []ledger.HolderInfo
	failWallets map[string]bool
	holderCalls int

	// listGate, when set, blocks ListRecentActivity until it is closed.
	listGate chan struct{}
}

func (f *fakeLedger) ListRecentActivity(ctx context.Context, wallet string, limit int) ([]ledger.ActivityRef, error) {
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWallets[wallet] {
		return nil, ledger.ErrUnavailable
	}
	refs := f.refs[wallet]
	if limit < len(refs) {
		refs = refs[:limit]
	}
	return refs, nil
}

func (f *fakeLedger) FetchActivityDetail(ctx context.Context, ref ledger.ActivityRef) (*ledger.ActivityEvent, error) {
	return &ledger.ActivityEvent{
		Kind:      "transaction",
		Signature: ref.Signature,
		Slot:      ref.Slot,
		Timestamp: ref.BlockTime,
		Payload:   json.RawMessage(`{"ok":true}`),
	}, nil
}

func (f *fakeLedger) ListTopHolders(ctx context.Context, limit int) ([]ledger.HolderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holderCalls++
	return f.holders, nil
}

func (f *fakeLedger) topHolderCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holderCalls
}

type fakeHandle struct {
	wallet string
	notify chan struct{}
}

func (h *fakeHandle) Wallet() string                 { return h.wallet }
func (h *fakeHandle) Notifications() <-chan struct{} { return h.notify }

type fakeSubscriber struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	failSub map[string]bool
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, wallet string) (watch.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSub[wallet] {
		return nil, errors.New("subscribe refused")
	}
	h := &fakeHandle{wallet: wallet, notify: make(chan struct{}, 1)}
	if s.handles == nil {
		s.handles = make(map[string]*fakeHandle)
	}
	s.handles[wallet] = h
	return h, nil
}

func (s *fakeSubscriber) Unsubscribe(ctx context.Context, handle watch.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, handle.Wallet())
	return nil
}

func (s *fakeSubscriber) handle(wallet string) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[wallet]
}

func newTestMonitor(t *testing.T, fl *fakeLedger, subs watch.Subscriber) *Monitor {
	t.Helper()
	logger := zap.NewNop()

	st, err := store.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tracker := syncer.NewTracker()
	orch := syncer.NewOrchestrator(3, time.Millisecond, tracker, logger)
	registry := watch.NewRegistry(subs, logger)
	notifier := notify.New(&notify.Config{Enabled: false}, logger)

	m := New(fl, registry, st, orch, tracker, notifier, Config{
		IncrementalLimit: 5,
		BackfillLimit:    10,
		TopHolders:       10,
		DiscoveryEnabled: true,
	}, logger)
	m.AttachHub(ws.NewHub(m, logger))

	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartMonitoring_DiscoversAndWatches(t *testing.T) {
	fl := &fakeLedger{holders: []ledger.HolderInfo{
		{Address: "holder1", Balance: "500", Rank: 1},
		{Address: "holder2", Balance: "250", Rank: 2},
		{Address: "holder3", Balance: "100", Rank: 3},
	}}
	m := newTestMonitor(t, fl, &fakeSubscriber{})
	ctx := context.Background()

	if err := m.StartMonitoring(ctx); err != nil {
		t.Fatal(err)
	}

	status := m.Status()
	if !status.Monitoring || status.Watched != 3 {
		t.Errorf("unexpected status: %+v", status)
	}

	// Idempotent start.
	if err := m.StartMonitoring(ctx); err != nil {
		t.Fatal(err)
	}
	if status := m.Status(); status.Watched != 3 {
		t.Errorf("second start changed watch count: %+v", status)
	}

	if err := m.StopMonitoring(ctx); err != nil {
		t.Fatal(err)
	}
	status = m.Status()
	if status.Monitoring || status.Watched != 0 {
		t.Errorf("unexpected status after stop: %+v", status)
	}
}

func TestStartMonitoring_PartialSubscribeFailure(t *testing.T) {
	fl := &fakeLedger{holders: []ledger.HolderInfo{
		{Address: "holder1", Rank: 1},
		{Address: "holder2", Rank: 2},
	}}
	subs := &fakeSubscriber{failSub: map[string]bool{"holder2": true}}
	m := newTestMonitor(t, fl, subs)

	if err := m.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("partial failure must not fail the operation: %v", err)
	}
	if status := m.Status(); status.Watched != 1 {
		t.Errorf("expected 1 watch, got %d", status.Watched)
	}
}

func TestNotificationTriggersIncrementalSync(t *testing.T) {
	fl := &fakeLedger{
		holders: []ledger.HolderInfo{{Address: "holder1", Rank: 1}},
		refs: map[string][]ledger.ActivityRef{
			"holder1": {
				{Signature: "sig-new", Slot: 2, BlockTime: 200},
				{Signature: "sig-old", Slot: 1, BlockTime: 100},
			},
		},
	}
	subs := &fakeSubscriber{}
	m := newTestMonitor(t, fl, subs)
	ctx := context.Background()

	if err := m.StartMonitoring(ctx); err != nil {
		t.Fatal(err)
	}

	handle := subs.handle("holder1")
	if handle == nil {
		t.Fatal("expected an open watch for holder1")
	}
	handle.notify <- struct{}{}

	waitFor(t, "activity to be recorded", func() bool {
		seen, err := m.store.HasActivity(ctx, "sig-new")
		return err == nil && seen
	})

	events, err := m.WalletActivity(ctx, "holder1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(events))
	}

	// A second notification must not duplicate records.
	handle.notify <- struct{}{}
	time.Sleep(50 * time.Millisecond)
	events, err = m.WalletActivity(ctx, "holder1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("expected dedup to hold, got %d events", len(events))
	}
}

func TestBackfillJobAccounting(t *testing.T) {
	fl := &fakeLedger{
		refs: map[string][]ledger.ActivityRef{
			"w1": {{Signature: "s1", BlockTime: 1}},
			"w2": {{Signature: "s2", BlockTime: 2}},
		},
		failWallets: map[string]bool{"w3": true},
	}
	m := newTestMonitor(t, fl, &fakeSubscriber{})
	ctx := context.Background()

	for i, addr := range []string{"w1", "w2", "w3"} {
		if err := m.store.UpsertWallet(ctx, store.WalletInfo{Address: addr, Rank: i + 1}); err != nil {
			t.Fatal(err)
		}
	}

	jobID, err := m.EnqueueBackfill(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var snap syncer.Snapshot
	waitFor(t, "job to complete", func() bool {
		job, ok := m.tracker.Get(jobID)
		if !ok {
			return false
		}
		snap = job.Snapshot()
		return snap.State == syncer.StateCompleted
	})

	if snap.Succeeded != 2 || snap.Failed != 1 {
		t.Errorf("expected 2/1, got %d/%d", snap.Succeeded, snap.Failed)
	}
	if len(snap.Errors) != 1 || snap.Errors[0].Item != "w3" {
		t.Errorf("expected one error for w3, got %+v", snap.Errors)
	}

	seen, err := m.store.HasActivity(ctx, "s1")
	if err != nil || !seen {
		t.Errorf("expected s1 recorded, seen=%v err=%v", seen, err)
	}
}

func TestEnqueueBackfill_RejectsConcurrentJobs(t *testing.T) {
	gate := make(chan struct{})
	fl := &fakeLedger{
		refs:     map[string][]ledger.ActivityRef{"w1": {{Signature: "s1", BlockTime: 1}}},
		listGate: gate,
	}
	m := newTestMonitor(t, fl, &fakeSubscriber{})
	ctx := context.Background()

	for i, addr := range []string{"w1", "w2", "w3"} {
		if err := m.store.UpsertWallet(ctx, store.WalletInfo{Address: addr, Rank: i + 1}); err != nil {
			t.Fatal(err)
		}
	}

	const callers = 8
	start := make(chan struct{})
	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.EnqueueBackfill(ctx)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrJobActive):
				rejected.Add(1)
			default:
				t.Errorf("unexpected enqueue error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted.Load() != 1 || rejected.Load() != callers-1 {
		t.Errorf("expected 1 accepted / %d rejected, got %d/%d",
			callers-1, accepted.Load(), rejected.Load())
	}

	close(gate)
	waitFor(t, "job to finish", func() bool { return m.Status().ActiveJob == "" })

	// The slot frees once the job finishes.
	if _, err := m.EnqueueBackfill(ctx); err != nil {
		t.Errorf("expected enqueue to succeed after completion: %v", err)
	}
}

func TestStartMonitoring_ConcurrentStartsDiscoverOnce(t *testing.T) {
	fl := &fakeLedger{holders: []ledger.HolderInfo{
		{Address: "holder1", Rank: 1},
		{Address: "holder2", Rank: 2},
	}}
	m := newTestMonitor(t, fl, &fakeSubscriber{})
	ctx := context.Background()

	const starters = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := m.StartMonitoring(ctx); err != nil {
				t.Errorf("start failed: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	waitFor(t, "monitoring to be active", func() bool { return m.Status().Monitoring })

	if calls := fl.topHolderCalls(); calls != 1 {
		t.Errorf("expected discovery to run once, got %d calls", calls)
	}
	if watched := m.Status().Watched; watched != 2 {
		t.Errorf("expected 2 watches, got %d", watched)
	}
}

func TestEnqueueBackfill_NoWallets(t *testing.T) {
	m := newTestMonitor(t, &fakeLedger{}, &fakeSubscriber{})

	if _, err := m.EnqueueBackfill(context.Background()); err == nil {
		t.Fatal("expected error with no known wallets")
	}
}

func TestDiscover_PersistsHolders(t *testing.T) {
	holders := make([]ledger.HolderInfo, 7)
	for i := range holders {
		holders[i] = ledger.HolderInfo{Address: fmt.Sprintf("holder%d", i), Rank: i + 1}
	}
	fl := &fakeLedger{holders: holders}
	m := newTestMonitor(t, fl, &fakeSubscriber{})
	ctx := context.Background()

	result, err := m.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != 7 || result.Failed != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	wallets, err := m.store.Wallets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(wallets) != 7 {
		t.Errorf("expected 7 persisted wallets, got %d", len(wallets))
	}
}
