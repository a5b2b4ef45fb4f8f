// Package queries is the memoized concurrent query substrate underneath
// canonicalization and normalization. Results are pure functions of their
// key, which is what makes concurrent memoization sound: a race that
// computes the same entry twice is wasted work, never a correctness bug.
//
// Workers register with the table; when every registered worker is blocked
// waiting on pending entries the runtime would hang, so the last worker to
// block designates itself the deadlock reporter, captures its execution
// context, and hands the wait-for graph to the deadlock handler on a
// dedicated auxiliary goroutine.
package queries

import (
	"context"
	"slices"
	"sync"

	"github.com/sable-lang/sable/internal/log"
)

var logger = log.DefaultLogger.With("section", "queries")

// Cx is the execution context a worker carries through recursive query
// calls: the ambient session handle and the stack of queries currently being
// computed on this worker. It replaces the original design's thread-local
// pointer with an explicit handle.
type Cx[K comparable] struct {
	// Session is the session-global state (interner, universes) that must be
	// visible to every query this context issues, including from the
	// deadlock handler's auxiliary goroutine.
	Session any

	stack []K
}

// Stack returns the queries currently being computed on this worker,
// outermost first.
func (cx *Cx[K]) Stack() []K {
	return slices.Clone(cx.stack)
}

// WaitGraph is a snapshot of who waits on whom, taken when a deadlock is
// about to happen. WaitsFor maps a pending key to the key its owning worker
// is blocked on; keys absent from WaitsFor have a running owner.
type WaitGraph[K comparable] struct {
	Pending  []K
	WaitsFor map[K]K
}

// DeadlockHandler inspects the wait-for graph and must complete enough
// pending entries (via resolve) that every blocked worker terminates.
// It runs on an auxiliary goroutine that has re-entered the reporter's
// execution context, so it may itself issue queries.
type DeadlockHandler[K comparable] func(cx *Cx[K], g WaitGraph[K], resolve func(k K, err error) bool)

type entry[K comparable, V any] struct {
	key       K
	owner     *Cx[K]
	done      chan struct{}
	completed bool
	// abandoned means the owner was cancelled mid-compute and the entry was
	// dropped; waiters re-attempt instead of inheriting the owner's error
	abandoned bool
	val       V
	err       error
}

// Table memoizes query results. Entries are insert-once: a completed entry
// is never mutated again.
type Table[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]*entry[K, V]
	workers    int
	blocked    int
	waits      map[*Cx[K]]K
	onDeadlock DeadlockHandler[K]
}

func NewTable[K comparable, V any](onDeadlock DeadlockHandler[K]) *Table[K, V] {
	t := &Table[K, V]{
		entries: make(map[K]*entry[K, V]),
		waits:   make(map[*Cx[K]]K),
	}
	if onDeadlock == nil {
		onDeadlock = ResolveCycles[K]
	}
	t.onDeadlock = onDeadlock
	return t
}

// Enter registers the calling goroutine as a worker and returns its fresh
// execution context. Every worker must Leave when it is done, or deadlock
// detection miscounts.
func (t *Table[K, V]) Enter(session any) *Cx[K] {
	t.mu.Lock()
	t.workers++
	t.mu.Unlock()
	return &Cx[K]{Session: session}
}

func (t *Table[K, V]) Leave(cx *Cx[K]) {
	t.mu.Lock()
	t.workers--
	delete(t.waits, cx)
	t.mu.Unlock()
}

// Do returns the memoized result for k, computing it at most once across all
// workers. A key already on this worker's own stack is a self-cycle and
// fails immediately without touching the deadlock machinery. Cancelled
// computations never insert cache entries, and the owner's cancellation is
// never a waiter's result: waiters with live contexts re-attempt the
// computation themselves.
func (t *Table[K, V]) Do(ctx context.Context, cx *Cx[K], k K, compute func(*Cx[K]) (V, error)) (V, error) {
	var zero V
	if slices.Contains(cx.stack, k) {
		return zero, newCycleError(append(cx.Stack(), k))
	}
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		t.mu.Lock()
		if e, ok := t.entries[k]; ok {
			if e.completed {
				t.mu.Unlock()
				return e.val, e.err
			}
			v, err, retry := t.waitFor(ctx, cx, e)
			if retry {
				continue
			}
			return v, err
		}
		e := &entry[K, V]{key: k, owner: cx, done: make(chan struct{})}
		t.entries[k] = e
		t.mu.Unlock()

		cx.stack = append(cx.stack, k)
		v, err := compute(cx)
		cx.stack = cx.stack[:len(cx.stack)-1]

		t.mu.Lock()
		if e.completed {
			// the deadlock handler got there first; the computed value is
			// discarded in favour of the entry every waiter already saw
			t.mu.Unlock()
			return e.val, e.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			delete(t.entries, k)
			e.abandoned = true
			close(e.done)
			t.mu.Unlock()
			return zero, ctxErr
		}
		e.val, e.err = v, err
		e.completed = true
		close(e.done)
		t.mu.Unlock()
		return v, err
	}
}

// waitFor blocks the worker on a pending entry. Called with t.mu held;
// releases it before blocking. retry reports that the owner abandoned the
// entry, in which case the caller must re-attempt the query.
func (t *Table[K, V]) waitFor(ctx context.Context, cx *Cx[K], e *entry[K, V]) (v V, err error, retry bool) {
	t.waits[cx] = e.key
	t.blocked++
	if t.blocked == t.workers {
		// every worker is blocked: this one becomes the deadlock reporter
		g := t.waitGraphLocked()
		handler := t.onDeadlock
		reporter := &Cx[K]{Session: cx.Session, stack: cx.Stack()}
		logger.Debug("queries: all workers blocked, spawning deadlock handler",
			"workers", t.workers, "pending", len(g.Pending))
		go handler(reporter, g, t.resolve)
	}
	t.mu.Unlock()

	select {
	case <-e.done:
		t.mu.Lock()
		t.blocked--
		delete(t.waits, cx)
		t.mu.Unlock()
		if e.abandoned {
			return v, nil, true
		}
		return e.val, e.err, false
	case <-ctx.Done():
		t.mu.Lock()
		t.blocked--
		delete(t.waits, cx)
		t.mu.Unlock()
		return v, ctx.Err(), false
	}
}

func (t *Table[K, V]) waitGraphLocked() WaitGraph[K] {
	g := WaitGraph[K]{WaitsFor: make(map[K]K)}
	for k, e := range t.entries {
		if e.completed {
			continue
		}
		g.Pending = append(g.Pending, k)
		if awaited, ok := t.waits[e.owner]; ok {
			g.WaitsFor[k] = awaited
		}
	}
	return g
}

// resolve completes a pending entry with err, waking its waiters. Returns
// false if the entry is absent or already completed.
func (t *Table[K, V]) resolve(k K, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[k]
	if !ok || e.completed {
		return false
	}
	e.err = err
	e.completed = true
	close(e.done)
	return true
}
