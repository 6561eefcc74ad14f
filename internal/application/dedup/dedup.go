// Package dedup guarantees at most one entry per (subject, period, bracket,
// cycle) and one submission per close attempt. Claims live in a persistent
// store so a restart inside a cycle cannot trade the same opportunity twice.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// Deduplicator claims signal keys in a DedupStore.
type Deduplicator struct {
	store   ports.DedupStore
	metrics ports.Metrics
}

// New creates a Deduplicator. metrics may be nil.
func New(store ports.DedupStore, metrics ports.Metrics) *Deduplicator {
	return &Deduplicator{store: store, metrics: metrics}
}

// Claim reserves the signal's key. It returns domain.ErrDuplicateSignal when
// the key was already claimed, and the store error otherwise; the caller
// must not trade on any error.
func (d *Deduplicator) Claim(ctx context.Context, sig domain.Signal, at time.Time) error {
	if sig.CycleID == "" {
		return fmt.Errorf("dedup.Claim: %s: empty cycle id", sig.Bracket.Ticker)
	}
	key := sig.DedupKey()
	ok, err := d.store.Claim(ctx, key, at)
	if err != nil {
		return fmt.Errorf("dedup.Claim: %s: %w", key, err)
	}
	if !ok {
		slog.Debug("dedup: duplicate suppressed", "key", key)
		if d.metrics != nil {
			d.metrics.DuplicateSignal()
		}
		return fmt.Errorf("dedup.Claim: %s: %w", key, domain.ErrDuplicateSignal)
	}
	return nil
}
