package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/dgnsrekt/ledger-monitor/internal/ledger"
)

// Keyspaces:
//
//	wallet/<address>                      -> WalletInfo JSON
//	activity/<address>/<revTime>/<sig>    -> zstd(ActivityEvent JSON)
//	recent/<revTime>/<sig>                -> zstd(ActivityEvent JSON)
//	seen/<sig>                           -> empty
//
// revTime is (MaxInt64 - blockTime) zero-padded so ascending iteration
// yields newest first.

// WalletInfo is a persisted watched wallet.
type WalletInfo struct {
	Address   string `json:"address"`
	Balance   string `json:"balance"`
	Rank      int    `json:"rank"`
	UpdatedAt int64  `json:"updated_at"`
}

// Filter narrows an activity query. Zero-value Wallet means all wallets.
type Filter struct {
	Wallet string
	Limit  int
}

// Store is the pebble-backed persistence layer for wallets and activity.
type Store struct {
	db     *pebble.DB
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *zap.Logger
}

func Open(dir string, logger *zap.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", dir, err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Store{db: db, enc: enc, dec: dec, logger: logger}, nil
}

func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// UpsertWallet writes or replaces the wallet record.
func (s *Store) UpsertWallet(ctx context.Context, info WalletInfo) error {
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding wallet: %w", err)
	}
	if err := s.db.Set(walletKey(info.Address), value, pebble.Sync); err != nil {
		return fmt.Errorf("writing wallet %s: %w", info.Address, err)
	}
	return nil
}

// Wallets returns every persisted wallet.
func (s *Store) Wallets(ctx context.Context) ([]WalletInfo, error) {
	iter, err := s.db.NewIter(prefixBounds("wallet/"))
	if err != nil {
		return nil, fmt.Errorf("iterating wallets: %w", err)
	}
	defer func() { _ = iter.Close() }()

	var wallets []WalletInfo
	for iter.First(); iter.Valid(); iter.Next() {
		var info WalletInfo
		if err := json.Unmarshal(iter.Value(), &info); err != nil {
			s.logger.Warn("skipping undecodable wallet record",
				zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		wallets = append(wallets, info)
	}
	return wallets, iter.Error()
}

// HasActivity reports whether the signature has already been recorded.
func (s *Store) HasActivity(ctx context.Context, signature string) (bool, error) {
	_, closer, err := s.db.Get(seenKey(signature))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking signature %s: %w", signature, err)
	}
	_ = closer.Close()
	return true, nil
}

// RecordActivity persists one activity event under both the per-wallet and
// the global recency index. Recording the same signature twice overwrites
// in place, so replays are harmless.
func (s *Store) RecordActivity(ctx context.Context, event ledger.ActivityEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding activity: %w", err)
	}
	value := s.enc.EncodeAll(raw, nil)

	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()

	if err := batch.Set(activityKey(event.Wallet, event.Timestamp, event.Signature), value, nil); err != nil {
		return err
	}
	if err := batch.Set(recentKey(event.Timestamp, event.Signature), value, nil); err != nil {
		return err
	}
	if err := batch.Set(seenKey(event.Signature), nil, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("recording activity %s: %w", event.Signature, err)
	}
	return nil
}

// QueryActivity returns recorded events newest first.
func (s *Store) QueryActivity(ctx context.Context, filter Filter) ([]ledger.ActivityEvent, error) {
	prefix := "recent/"
	if filter.Wallet != "" {
		prefix = "activity/" + filter.Wallet + "/"
	}

	iter, err := s.db.NewIter(prefixBounds(prefix))
	if err != nil {
		return nil, fmt.Errorf("iterating activity: %w", err)
	}
	defer func() { _ = iter.Close() }()

	var events []ledger.ActivityEvent
	for iter.First(); iter.Valid(); iter.Next() {
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
		raw, err := s.dec.DecodeAll(iter.Value(), nil)
		if err != nil {
			s.logger.Warn("skipping undecodable activity record",
				zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		var event ledger.ActivityEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			s.logger.Warn("skipping unparseable activity record",
				zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, iter.Error()
}

func walletKey(address string) []byte {
	return []byte("wallet/" + address)
}

func activityKey(wallet string, blockTime int64, signature string) []byte {
	return []byte(fmt.Sprintf("activity/%s/%020d/%s", wallet, revTime(blockTime), signature))
}

func recentKey(blockTime int64, signature string) []byte {
	return []byte(fmt.Sprintf("recent/%020d/%s", revTime(blockTime), signature))
}

func seenKey(signature string) []byte {
	return []byte("seen/" + signature)
}

func revTime(blockTime int64) uint64 {
	return uint64(math.MaxInt64 - blockTime)
}

func prefixBounds(prefix string) *pebble.IterOptions {
	upper := []byte(prefix)
	upper = append(upper[:len(upper):len(upper)], 0xff)
	return &pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	}
}
