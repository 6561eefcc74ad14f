package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/wxbot/internal/application/engine"
	"github.com/alejandrodnm/wxbot/internal/application/scheduler"
)

type fakeRunner struct {
	mu      sync.Mutex
	ids     []string
	running int
	maxConc int
	delay   time.Duration
	err     error
}

func (r *fakeRunner) RunCycle(_ context.Context, id string) (*engine.CycleResult, error) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.running++
	r.maxConc = max(r.maxConc, r.running)
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &engine.CycleResult{CycleID: id}, nil
}

func TestRunNow_CycleIDFollowsBoundary(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"morning", time.Date(2026, 7, 10, 9, 30, 0, 0, ny), "2026-07-10-AM"},
		{"afternoon", time.Date(2026, 7, 10, 15, 0, 0, 0, ny), "2026-07-10-PM"},
		{"utc clock, local date", time.Date(2026, 7, 11, 2, 0, 0, 0, time.UTC), "2026-07-10-PM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			s, err := scheduler.New(scheduler.Config{
				Specs:        []string{"0 0 9 * * *"},
				Location:     ny,
				BoundaryHour: 12,
				Clock:        func() time.Time { return tt.at },
			}, r)
			require.NoError(t, err)

			res, err := s.RunNow(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.CycleID)
		})
	}
}

func TestRunNow_RecordsLastError(t *testing.T) {
	r := &fakeRunner{err: errors.New("balance endpoint down")}
	s, err := scheduler.New(scheduler.Config{Specs: []string{"0 */15 * * * *"}}, r)
	require.NoError(t, err)

	_, err = s.RunNow(context.Background())
	require.Error(t, err)

	last, runs, lastErr := s.Last()
	assert.Nil(t, last)
	assert.Equal(t, 1, runs)
	assert.ErrorIs(t, lastErr, r.err)
}

func TestNew_RejectsBadSpecs(t *testing.T) {
	_, err := scheduler.New(scheduler.Config{}, &fakeRunner{})
	assert.Error(t, err)

	_, err = scheduler.New(scheduler.Config{Specs: []string{"every quarter hour"}}, &fakeRunner{})
	assert.Error(t, err)
}

func TestStart_NeverOverlapsCycles(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the cron")
	}
	r := &fakeRunner{delay: 1500 * time.Millisecond}
	s, err := scheduler.New(scheduler.Config{Specs: []string{"* * * * * *"}}, r)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3500*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.NotEmpty(t, r.ids)
	assert.Equal(t, 1, r.maxConc)
	assert.Zero(t, r.running)
}
