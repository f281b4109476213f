package commandqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueReturnsResult(t *testing.T) {
	q := New()
	defer q.Close()

	value, err := q.Enqueue(context.Background(), "conv-1", func(ctx context.Context) (interface{}, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}

func TestSameLaneRunsSequentially(t *testing.T) {
	q := New()
	defer q.Close()

	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), "conv-1", func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			})
			require.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestDifferentLanesRunConcurrently(t *testing.T) {
	q := New()
	defer q.Close()

	release := make(chan struct{})
	started := make(chan string, 2)

	var wg sync.WaitGroup
	for _, lane := range []string{"conv-a", "conv-b"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
				started <- lane
				<-release
				return nil, nil
			})
			require.NoError(t, err)
		}()
	}

	// Both lanes must start without either finishing.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("lanes did not run concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestEnqueuePropagatesError(t *testing.T) {
	q := New()
	defer q.Close()

	_, err := q.Enqueue(context.Background(), "conv-1", func(ctx context.Context) (interface{}, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestQueueSize(t *testing.T) {
	q := New()
	defer q.Close()

	assert.Equal(t, 0, q.QueueSize("missing"))

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Enqueue(context.Background(), "conv-1", func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()

	// Wait for the first turn to start running.
	require.Eventually(t, func() bool {
		stats := q.Stats()
		lane, ok := stats["conv-1"]
		return ok && lane["running"] == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()
}
