package pool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p := New(4)

	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		p.Submit(func() { ran.Add(1) })
	}

	p.Stop()
	require.Equal(t, int64(100), ran.Load())
}

func TestStopDrainsQueuedWork(t *testing.T) {
	p := New(1)

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		p.Submit(func() { order = append(order, i) })
	}

	p.Stop()

	// A single worker preserves submission order.
	require.Len(t, order, 10)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestNewClampsSize(t *testing.T) {
	p := New(0)

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	<-done
	p.Stop()
}
