package dedup_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/wxbot/internal/application/dedup"
	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (m *memStore) Claim(_ context.Context, key string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

type countingMetrics struct {
	mu         sync.Mutex
	duplicates int
}

func (c *countingMetrics) CycleCompleted(time.Duration, int)    {}
func (c *countingMetrics) SignalOutcome(domain.Outcome, string) {}
func (c *countingMetrics) SanityViolation(string)               {}
func (c *countingMetrics) Capital(domain.CapitalState)          {}
func (c *countingMetrics) OrderSubmitted(domain.Action, bool)   {}

func (c *countingMetrics) DuplicateSignal() {
	c.mu.Lock()
	c.duplicates++
	c.mu.Unlock()
}

func signal(cycle string) domain.Signal {
	return domain.Signal{
		Subject: "NYC",
		Period:  domain.PeriodHigh,
		Bracket: domain.Bracket{Ticker: "KXHIGHNY-26JUL10-B88.5"},
		Side:    domain.SideYes,
		Action:  domain.ActionOpen,
		CycleID: cycle,
	}
}

func TestClaim_OncePerCycle(t *testing.T) {
	ctx := context.Background()
	m := &countingMetrics{}
	d := dedup.New(&memStore{keys: map[string]bool{}}, m)

	require.NoError(t, d.Claim(ctx, signal("2026-07-10-AM"), time.Now()))
	err := d.Claim(ctx, signal("2026-07-10-AM"), time.Now())
	assert.True(t, errors.Is(err, domain.ErrDuplicateSignal))
	assert.Equal(t, 1, m.duplicates)

	// new cycle: same bracket may trade again
	require.NoError(t, d.Claim(ctx, signal("2026-07-10-PM"), time.Now()))
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	d := dedup.New(&memStore{keys: map[string]bool{}}, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Claim(ctx, signal("2026-07-10-AM"), time.Now()) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestClaim_StoreErrorFailsClosed(t *testing.T) {
	d := dedup.New(&memStore{keys: map[string]bool{}, err: errors.New("disk full")}, nil)
	err := d.Claim(context.Background(), signal("2026-07-10-AM"), time.Now())
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrDuplicateSignal))
}

func TestClaim_RequiresCycle(t *testing.T) {
	d := dedup.New(&memStore{keys: map[string]bool{}}, nil)
	assert.Error(t, d.Claim(context.Background(), signal(""), time.Now()))
}
