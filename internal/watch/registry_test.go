package watch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

type fakeHandle struct {
	wallet string
	notify chan struct{}
}

func (h *fakeHandle) Wallet() string                 { return h.wallet }
func (h *fakeHandle) Notifications() <-chan struct{} { return h.notify }

type fakeSubscriber struct {
	subscribes   int
	unsubscribes int
	failWallets  map[string]bool
	failUnsub    bool
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, wallet string) (Handle, error) {
	s.subscribes++
	if s.failWallets[wallet] {
		return nil, errors.New("subscribe failed")
	}
	return &fakeHandle{wallet: wallet, notify: make(chan struct{}, 1)}, nil
}

func (s *fakeSubscriber) Unsubscribe(ctx context.Context, handle Handle) error {
	s.unsubscribes++
	if s.failUnsub {
		return errors.New("unsubscribe failed")
	}
	return nil
}

func TestRegistry_IdempotentStart(t *testing.T) {
	subs := &fakeSubscriber{}
	reg := NewRegistry(subs, zap.NewNop())
	ctx := context.Background()

	h1, created, err := reg.Start(ctx, "wallet1")
	if err != nil || !created {
		t.Fatalf("first start: created=%v err=%v", created, err)
	}

	h2, created, err := reg.Start(ctx, "wallet1")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if created {
		t.Error("second start should be a no-op")
	}
	if h1 != h2 {
		t.Error("second start should return the existing handle")
	}
	if subs.subscribes != 1 {
		t.Errorf("expected 1 upstream subscribe, got %d", subs.subscribes)
	}
	if st := reg.Status(); st.Count != 1 || !st.Active {
		t.Errorf("unexpected status: %+v", st)
	}

	reg.Stop(ctx, "wallet1")
	if st := reg.Status(); st.Count != 0 || st.Active {
		t.Errorf("unexpected status after stop: %+v", st)
	}
}

func TestRegistry_StopAbsentIsNoop(t *testing.T) {
	subs := &fakeSubscriber{}
	reg := NewRegistry(subs, zap.NewNop())

	reg.Stop(context.Background(), "never-watched")
	if subs.unsubscribes != 0 {
		t.Errorf("expected no unsubscribe calls, got %d", subs.unsubscribes)
	}
}

func TestRegistry_PartialSubscribeFailures(t *testing.T) {
	subs := &fakeSubscriber{failWallets: map[string]bool{"wallet2": true, "wallet7": true}}
	reg := NewRegistry(subs, zap.NewNop())
	ctx := context.Background()

	failures := 0
	for i := 0; i < 10; i++ {
		wallet := fmt.Sprintf("wallet%d", i)
		if _, _, err := reg.Start(ctx, wallet); err != nil {
			failures++
		}
	}

	if failures != 2 {
		t.Errorf("expected 2 failures, got %d", failures)
	}
	if st := reg.Status(); st.Count != 8 {
		t.Errorf("expected 8 active watches, got %d", st.Count)
	}
}

func TestRegistry_StopAllSurvivesUnsubscribeFailures(t *testing.T) {
	subs := &fakeSubscriber{failUnsub: true}
	reg := NewRegistry(subs, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, _, err := reg.Start(ctx, fmt.Sprintf("wallet%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	reg.StopAll(ctx)

	if subs.unsubscribes != 5 {
		t.Errorf("expected 5 unsubscribe attempts, got %d", subs.unsubscribes)
	}
	if st := reg.Status(); st.Count != 0 || st.Active {
		t.Errorf("expected empty registry, got %+v", st)
	}
}
