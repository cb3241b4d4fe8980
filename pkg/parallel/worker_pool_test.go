package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Map(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		inputs  []int
	}{
		{"Default", 0, []int{1, 2, 3, 4, 5}},
		{"Single", 1, []int{3, 1, 2}},
		{"MoreWorkersThanJobs", 16, []int{7}},
		{"Empty", 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool[int, int](tt.workers)
			assert.Positive(t, pool.Workers())

			results := pool.Map(context.Background(), tt.inputs, func(_ context.Context, in int) (int, error) {
				return in * 2, nil
			})
			require.Len(t, results, len(tt.inputs))
			for i, r := range results {
				assert.NoError(t, r.Err)
				assert.Equal(t, tt.inputs[i], r.Input)
				assert.Equal(t, tt.inputs[i]*2, r.Value)
			}
		})
	}
}

func TestPool_MapBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	inputs := make([]int, 20)

	NewPool[int, struct{}](3).Map(context.Background(), inputs, func(context.Context, int) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPool_MapErrors(t *testing.T) {
	boom := errors.New("boom")
	results := NewPool[int, int](2).Map(context.Background(), []int{1, 2, 3}, func(_ context.Context, in int) (int, error) {
		if in == 2 {
			return 0, boom
		}
		return in, nil
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.NoError(t, results[2].Err)
}

func TestPool_MapCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called atomic.Int32
	inputs := []int{1, 2, 3, 4}
	results := NewPool[int, int](2).Map(ctx, inputs, func(context.Context, int) (int, error) {
		called.Add(1)
		return 0, nil
	})

	require.Len(t, results, len(inputs))
	for i, r := range results {
		assert.Equal(t, inputs[i], r.Input)
		if r.done && r.Err == nil {
			continue
		}
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.LessOrEqual(t, called.Load(), int32(len(inputs)))
}

func TestProgressTracker(t *testing.T) {
	var reports atomic.Int32
	pt := NewProgressTracker(3, func(done, total int64) {
		reports.Add(1)
		assert.Equal(t, int64(3), total)
	}, 5*time.Millisecond)
	pt.Start(context.Background())

	pt.Increment()
	pt.Increment()
	assert.Eventually(t, func() bool { return reports.Load() > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), pt.Completed())

	pt.Stop()
	pt.Stop()
}
