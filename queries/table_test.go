package queries_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sable-lang/sable/queries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoMemoizes(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	cx := table.Enter(nil)
	defer table.Leave(cx)

	var computed atomic.Int32
	compute := func(cx *queries.Cx[string]) (int, error) {
		computed.Add(1)
		return 42, nil
	}

	for range 3 {
		v, err := table.Do(context.Background(), cx, "answer", compute)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, int32(1), computed.Load())
}

func TestDoMemoizesErrors(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	cx := table.Enter(nil)
	defer table.Leave(cx)

	var computed atomic.Int32
	_, err := table.Do(context.Background(), cx, "k", func(cx *queries.Cx[string]) (int, error) {
		computed.Add(1)
		return 0, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = table.Do(context.Background(), cx, "k", func(cx *queries.Cx[string]) (int, error) {
		computed.Add(1)
		return 0, nil
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, int32(1), computed.Load())
}

func TestSelfCycleFailsImmediately(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	cx := table.Enter(nil)
	defer table.Leave(cx)

	_, err := table.Do(context.Background(), cx, "a", func(cx *queries.Cx[string]) (int, error) {
		_, err := table.Do(context.Background(), cx, "b", func(cx *queries.Cx[string]) (int, error) {
			return table.Do(context.Background(), cx, "a", func(cx *queries.Cx[string]) (int, error) {
				t.Fatal("cyclic query must not recompute")
				return 0, nil
			})
		})
		return 0, err
	})
	require.Error(t, err)
	assert.True(t, queries.IsCycle(err))

	var cycle *queries.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "a"}, cycle.Path)
}

// Two workers compute mutually dependent queries. Once both block on each
// other every worker is blocked, so the deadlock handler must break the
// cycle and both calls must return.
func TestTwoWorkerDeadlockResolves(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var started sync.WaitGroup
	started.Add(2)

	run := func(own, other string) error {
		cx := table.Enter(nil)
		defer table.Leave(cx)
		_, err := table.Do(ctx, cx, own, func(cx *queries.Cx[string]) (int, error) {
			started.Done()
			started.Wait()
			return table.Do(ctx, cx, other, func(cx *queries.Cx[string]) (int, error) {
				return 0, nil
			})
		})
		return err
	}

	errs := make(chan error, 2)
	go func() { errs <- run("a", "b") }()
	go func() { errs <- run("b", "a") }()

	err1 := <-errs
	err2 := <-errs

	// the resolved side of the cycle fails with a cycle error; the other
	// side observes it through the entry it was waiting on
	require.True(t, err1 != nil || err2 != nil)
	for _, err := range []error{err1, err2} {
		if err != nil {
			assert.True(t, queries.IsCycle(err), "unexpected error: %v", err)
		}
	}
}

func TestCancelledComputationIsNotCached(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	cx := table.Enter(nil)
	defer table.Leave(cx)

	ctx, cancel := context.WithCancel(context.Background())
	var computed atomic.Int32
	_, err := table.Do(ctx, cx, "k", func(cx *queries.Cx[string]) (int, error) {
		computed.Add(1)
		cancel()
		return 7, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	v, err := table.Do(context.Background(), cx, "k", func(cx *queries.Cx[string]) (int, error) {
		computed.Add(1)
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(2), computed.Load())
}

func TestWaiterUnblocksOnCancellation(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	release := make(chan struct{})
	owned := make(chan struct{})

	go func() {
		cx := table.Enter(nil)
		defer table.Leave(cx)
		_, _ = table.Do(context.Background(), cx, "slow", func(cx *queries.Cx[string]) (int, error) {
			close(owned)
			<-release
			return 1, nil
		})
	}()
	<-owned

	cx := table.Enter(nil)
	defer table.Leave(cx)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := table.Do(ctx, cx, "slow", func(cx *queries.Cx[string]) (int, error) {
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	close(release)
}

// A waiter with a live context must not inherit the owner's cancellation:
// when the owner abandons its computation the waiter re-attempts it.
func TestOwnerCancellationDoesNotFailWaiters(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	release := make(chan struct{})
	owned := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	ownerErr := make(chan error, 1)
	go func() {
		cx := table.Enter(nil)
		defer table.Leave(cx)
		_, err := table.Do(ctx, cx, "k", func(cx *queries.Cx[string]) (int, error) {
			close(owned)
			<-release
			cancel()
			return 7, nil
		})
		ownerErr <- err
	}()
	<-owned

	cx := table.Enter(nil)
	defer table.Leave(cx)
	var recomputed atomic.Int32
	waiterDone := make(chan struct{})
	var v int
	var err error
	go func() {
		defer close(waiterDone)
		v, err = table.Do(context.Background(), cx, "k", func(cx *queries.Cx[string]) (int, error) {
			recomputed.Add(1)
			return 42, nil
		})
	}()

	// give the waiter time to block on the pending entry
	time.Sleep(10 * time.Millisecond)
	close(release)

	require.ErrorIs(t, <-ownerErr, context.Canceled)
	<-waiterDone
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(1), recomputed.Load())
}

func TestRunAllPropagatesTaskErrors(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	var ran atomic.Int32

	err := table.RunAll(context.Background(), 2, nil,
		func(ctx context.Context, cx *queries.Cx[string]) error {
			ran.Add(1)
			_, err := table.Do(ctx, cx, "ok", func(cx *queries.Cx[string]) (int, error) {
				return 1, nil
			})
			return err
		},
		func(ctx context.Context, cx *queries.Cx[string]) error {
			ran.Add(1)
			return assert.AnError
		},
	)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, int32(2), ran.Load())
}

func TestStackIsPerWorker(t *testing.T) {
	table := queries.NewTable[string, int](nil)
	cx := table.Enter(nil)
	defer table.Leave(cx)

	assert.Empty(t, cx.Stack())
	_, err := table.Do(context.Background(), cx, "outer", func(cx *queries.Cx[string]) (int, error) {
		assert.Equal(t, []string{"outer"}, cx.Stack())
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, cx.Stack())
}
