package store

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/dgnsrekt/ledger-monitor/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWalletUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertWallet(ctx, WalletInfo{Address: "w1", Balance: "100", Rank: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertWallet(ctx, WalletInfo{Address: "w2", Balance: "500", Rank: 1}); err != nil {
		t.Fatal(err)
	}
	// Upsert replaces.
	if err := s.UpsertWallet(ctx, WalletInfo{Address: "w1", Balance: "150", Rank: 2}); err != nil {
		t.Fatal(err)
	}

	wallets, err := s.Wallets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(wallets) != 2 {
		t.Fatalf("expected 2 wallets, got %d", len(wallets))
	}
	for _, w := range wallets {
		if w.Address == "w1" && w.Balance != "150" {
			t.Errorf("expected upserted balance 150, got %s", w.Balance)
		}
	}
}

func TestActivityRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	events := []ledger.ActivityEvent{
		{Kind: "transaction", Wallet: "w1", Signature: "sig-a", Slot: 10, Timestamp: 100, Payload: json.RawMessage(`{"x":1}`)},
		{Kind: "transaction", Wallet: "w1", Signature: "sig-b", Slot: 20, Timestamp: 200, Payload: json.RawMessage(`{"x":2}`)},
		{Kind: "transaction", Wallet: "w2", Signature: "sig-c", Slot: 30, Timestamp: 300, Payload: json.RawMessage(`{"x":3}`)},
	}
	for _, e := range events {
		if err := s.RecordActivity(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	// Per-wallet query, newest first.
	got, err := s.QueryActivity(ctx, Filter{Wallet: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for w1, got %d", len(got))
	}
	if got[0].Signature != "sig-b" || got[1].Signature != "sig-a" {
		t.Errorf("expected newest first, got %s then %s", got[0].Signature, got[1].Signature)
	}

	// Global query with limit.
	got, err = s.QueryActivity(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(got))
	}
	if got[0].Signature != "sig-c" {
		t.Errorf("expected sig-c newest, got %s", got[0].Signature)
	}
	if string(got[0].Payload) != `{"x":3}` {
		t.Errorf("payload did not survive round trip: %s", got[0].Payload)
	}
}

func TestHasActivity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seen, err := s.HasActivity(ctx, "sig-a")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("unexpected seen before record")
	}

	if err := s.RecordActivity(ctx, ledger.ActivityEvent{Wallet: "w1", Signature: "sig-a", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	seen, err = s.HasActivity(ctx, "sig-a")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("expected signature to be seen after record")
	}
}
