package concurrency

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockingQueue_FIFO(t *testing.T) {
	q := NewBlockingQueue[int]()
	for i := range 100 {
		q.Push(i)
	}
	require.Equal(t, 100, q.Size())

	for i := range 100 {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.True(t, q.Empty())
}

func TestBlockingQueue_TryPopEmpty(t *testing.T) {
	q := NewBlockingQueue[string]()

	v, ok := q.TryPop()
	assert.False(t, ok)
	assert.Equal(t, "", v)
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Size())
}

func TestBlockingQueue_NilInterfaceElement(t *testing.T) {
	q := NewBlockingQueue[error]()
	q.Push(nil)

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestBlockingQueue_Emplace(t *testing.T) {
	q := NewBlockingQueue[[]int]()
	q.Emplace(func() []int { return []int{1, 2, 3} })

	v := q.Pop()
	assert.Equal(t, []int{1, 2, 3}, v)
}

func TestBlockingQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewBlockingQueue[int]()
	got := make(chan int, 1)
	go func() { got <- q.Pop() }()

	select {
	case <-got:
		t.Fatal("Pop returned before any element was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(7)
	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestBlockingQueue_PopForTimeout(t *testing.T) {
	q := NewBlockingQueue[int]()
	const d = 60 * time.Millisecond

	start := time.Now()
	_, ok := q.PopFor(d)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, d)
	assert.Less(t, elapsed, d+time.Second)
}

func TestBlockingQueue_PopForArrival(t *testing.T) {
	q := NewBlockingQueue[int]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(42)
	}()

	start := time.Now()
	v, ok := q.PopFor(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBlockingQueue_PopForZeroTimeout(t *testing.T) {
	q := NewBlockingQueue[int]()
	_, ok := q.PopFor(0)
	assert.False(t, ok)

	q.Push(1)
	v, ok := q.PopFor(0)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestBlockingQueue_PopContext(t *testing.T) {
	q := NewBlockingQueue[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := q.PopContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	q.Push(5)
	v, err := q.PopContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestBlockingQueue_Clear(t *testing.T) {
	q := NewBlockingQueue[int]()
	for i := range 10 {
		q.Push(i)
	}
	q.Clear()
	assert.True(t, q.Empty())

	q.Push(11)
	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 11, v)
}

func TestBlockingQueue_MoveFrom(t *testing.T) {
	src := NewBlockingQueue[int]()
	src.Push(1)
	src.Push(2)

	dst := NewBlockingQueueFrom(src)
	assert.True(t, src.Empty())
	assert.Equal(t, 2, dst.Size())
	assert.Equal(t, 1, dst.Pop())
	assert.Equal(t, 2, dst.Pop())

	// the source stays usable
	src.Push(3)
	assert.Equal(t, 3, src.Pop())
}

func TestBlockingQueue_TwoProducers(t *testing.T) {
	q := NewBlockingQueue[int]()
	var wg sync.WaitGroup
	for p := range 2 {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				q.Push(base + i)
			}
		}(p * 50)
	}

	got := make([]int, 0, 100)
	for range 100 {
		got = append(got, q.Pop())
	}
	wg.Wait()

	sort.Ints(got)
	for i, v := range got {
		require.Equal(t, i+1, v)
	}
	assert.True(t, q.Empty())
}

func TestBlockingQueue_ManyProducersPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 2000
	q := NewBlockingQueue[[2]int]()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range perProducer {
				q.Push([2]int{id, i})
			}
		}(p)
	}

	next := make([]int, producers)
	for range producers * perProducer {
		v := q.Pop()
		require.Equal(t, next[v[0]], v[1], "producer %d out of order", v[0])
		next[v[0]]++
	}
	wg.Wait()

	for p := range producers {
		assert.Equal(t, perProducer, next[p])
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestBlockingQueue_ManyConsumers(t *testing.T) {
	const total = 5000
	q := NewBlockingQueue[int]()

	var mu sync.Mutex
	seen := make(map[int]int, total)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.PopFor(100 * time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	for i := range total {
		q.Push(i)
	}
	wg.Wait()

	require.Len(t, seen, total)
	for v, n := range seen {
		require.Equal(t, 1, n, "value %d delivered %d times", v, n)
	}
}
