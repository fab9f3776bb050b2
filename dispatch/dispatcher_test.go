package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDispatcherOrder asserts closures from many goroutines run one at a
// time and in submission order per submitter.
func TestDispatcherOrder(t *testing.T) {
	t.Parallel()

	d := New()
	require.NoError(t, d.Start())
	defer d.Stop()

	const (
		numSubmitters = 4
		numItems      = 100
	)

	var (
		mu      sync.Mutex
		running int
		seen    = make(map[int][]int)
		wg      sync.WaitGroup
	)
	for s := 0; s < numSubmitters; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()

			for i := 0; i < numItems; i++ {
				err := d.Execute(func() {
					mu.Lock()
					running++
					require.Equal(t, 1, running)
					mu.Unlock()

					mu.Lock()
					seen[s] = append(seen[s], i)
					running--
					mu.Unlock()
				})
				require.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	// A synchronous barrier flushes everything queued before it.
	require.NoError(t, d.ExecuteSync(func() {}))

	mu.Lock()
	defer mu.Unlock()
	for s := 0; s < numSubmitters; s++ {
		require.Len(t, seen[s], numItems)
		for i, v := range seen[s] {
			require.Equal(t, i, v)
		}
	}
}

// TestDispatcherPanic asserts a panicking closure does not stop the
// dispatcher.
func TestDispatcherPanic(t *testing.T) {
	t.Parallel()

	d := New()
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.Execute(func() {
		panic("boom")
	}))

	ran := false
	require.NoError(t, d.ExecuteSync(func() {
		ran = true
	}))
	require.True(t, ran)
}

// TestDispatcherStopped asserts work is rejected after shutdown.
func TestDispatcherStopped(t *testing.T) {
	t.Parallel()

	d := New()
	require.NoError(t, d.Start())
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())

	err := d.Execute(func() {})
	require.ErrorIs(t, err, ErrDispatcherShuttingDown)
	require.ErrorIs(t, d.ExecuteSync(func() {}), ErrDispatcherShuttingDown)
}
