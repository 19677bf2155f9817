package pool

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBorrowReturnRoundTrip(t *testing.T) {
	p := New(WithChunkSize(16))

	c, err := p.Borrow()
	require.NoError(t, err)
	require.Equal(t, StateUsed, c.state.Load())
	require.Equal(t, int32(0), c.RefCount())
	require.Equal(t, 16, c.Cap())

	require.NoError(t, p.Return(c))
	require.Equal(t, StateReturned, c.state.Load())

	stats := p.Stats()
	require.EqualValues(t, 1, stats.TotalAllocated)
	require.EqualValues(t, 1, stats.InPool)
}

func TestBorrowReusesFreeList(t *testing.T) {
	p := New(WithChunkSize(16))

	c1, err := p.Borrow()
	require.NoError(t, err)
	require.NoError(t, p.Return(c1))

	c2, err := p.Borrow()
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.EqualValues(t, 1, p.Stats().TotalAllocated)
}

func TestDoubleReturnIsError(t *testing.T) {
	p := New()
	c, err := p.Borrow()
	require.NoError(t, err)
	require.NoError(t, p.Return(c))
	require.Error(t, p.Return(c))
}

func TestReturnAfterCloseIsIgnored(t *testing.T) {
	p := New()
	c, err := p.Borrow()
	require.NoError(t, err)
	p.Close()
	require.NoError(t, p.Return(c))
	require.Equal(t, StateDisposed, c.state.Load())
}

func TestAllocationCount(t *testing.T) {
	p := New(WithChunkSize(10))
	n := 25
	for i := 0; i < n; i++ {
		c, err := p.Borrow()
		require.NoError(t, err)
		c.Retain()
		_ = c
	}
	stats := p.Stats()
	require.EqualValues(t, n, stats.TotalAllocated)
	require.EqualValues(t, 0, stats.InPool)
}

func TestLeakedChunkIsReclaimedByGC(t *testing.T) {
	p := New()

	func() {
		c, err := p.Borrow()
		require.NoError(t, err)
		c.Retain() // abandoned without Release or Return
		_ = c
	}()

	require.EqualValues(t, 1, p.Stats().TotalAllocated)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if p.Stats().TotalAllocated == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.EqualValues(t, 0, p.Stats().TotalAllocated)
	require.EqualValues(t, 1, p.Stats().Leaked)
}

func TestChunkRetainReleaseReturnsToPool(t *testing.T) {
	p := New()
	c, err := p.Borrow()
	require.NoError(t, err)

	c.Retain()
	c.Retain()
	c.Release()
	require.Equal(t, StateUsed, c.state.Load())
	c.Release()
	require.Equal(t, StateReturned, c.state.Load())
	require.EqualValues(t, 1, p.Stats().InPool)
}
