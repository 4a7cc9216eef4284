package partition

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webshot/internal/capture"
)

func makeTargets(n int) []capture.Target {
	out := make([]capture.Target, n)
	for i := range out {
		out[i] = capture.Target{Index: i, Raw: fmt.Sprintf("https://t%d.test", i)}
	}
	return out
}

func raws(ts []capture.Target) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Raw
	}
	return out
}

func TestRoundRobin(t *testing.T) {
	t.Parallel()

	slices, err := RoundRobin(makeTargets(5), 2)
	require.NoError(t, err)
	require.Len(t, slices, 2)
	assert.Equal(t, []string{"https://t0.test", "https://t2.test", "https://t4.test"}, raws(slices[0]))
	assert.Equal(t, []string{"https://t1.test", "https://t3.test"}, raws(slices[1]))
}

func TestRoundRobinMoreWorkersThanTargets(t *testing.T) {
	t.Parallel()

	slices, err := RoundRobin(makeTargets(2), 4)
	require.NoError(t, err)
	require.Len(t, slices, 4)
	assert.Len(t, slices[0], 1)
	assert.Len(t, slices[1], 1)
	assert.Empty(t, slices[2])
	assert.Empty(t, slices[3])
}

func TestRoundRobinRejectsZeroWorkers(t *testing.T) {
	t.Parallel()

	_, err := RoundRobin(makeTargets(1), 0)
	require.Error(t, err)
	_, err = Sources(PolicyPull, makeTargets(1), -1)
	require.Error(t, err)
}

func TestPullHandsOutEachTargetOnce(t *testing.T) {
	t.Parallel()

	pull := NewPull(makeTargets(50))
	var (
		mu   sync.Mutex
		seen []int
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				target, ok := pull.Next(context.Background())
				if !ok {
					return
				}
				mu.Lock()
				seen = append(seen, target.Index)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Ints(seen)
	require.Len(t, seen, 50)
	for i, idx := range seen {
		assert.Equal(t, i, idx)
	}
	_, ok := pull.Next(context.Background())
	assert.False(t, ok)
}

func TestPullStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	pull := NewPull(makeTargets(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := pull.Next(ctx)
	assert.False(t, ok)

	first, ok := pull.Next(context.Background())
	require.True(t, ok, "cancellation must not consume targets")
	assert.Equal(t, 0, first.Index)
}

func TestSources(t *testing.T) {
	t.Parallel()

	rr, err := Sources(PolicyRoundRobin, makeTargets(3), 8)
	require.NoError(t, err)
	require.Len(t, rr, 3)
	first, ok := rr[0].Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, first.Target.Index)
	assert.Equal(t, 0, first.Slot)
	second, ok := rr[2].Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, second.Target.Index)
	assert.Equal(t, 2, second.Slot)
	_, ok = rr[0].Next(context.Background())
	assert.False(t, ok)

	pull, err := Sources(PolicyPull, makeTargets(10), 4)
	require.NoError(t, err)
	require.Len(t, pull, 4)
	a, ok := pull[0].Next(context.Background())
	require.True(t, ok)
	b, ok := pull[3].Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, a.Slot)
	assert.Equal(t, 3, b.Slot)
	assert.NotEqual(t, a.Target.Index, b.Target.Index, "slots share one queue")

	none, err := Sources(PolicyPull, nil, 4)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = Sources(Policy("random"), makeTargets(1), 1)
	require.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPull, p)
	p, err = ParsePolicy("round_robin")
	require.NoError(t, err)
	assert.Equal(t, PolicyRoundRobin, p)
	_, err = ParsePolicy("fifo")
	require.Error(t, err)
}
