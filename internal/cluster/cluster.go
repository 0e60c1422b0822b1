// Package cluster implements the concurrency substrate spec.md §7
// describes: a group of threads (OS threads by default, or cooperative
// tasks under a user scheduler, see scheduler.go) that share a trap
// domain. The first thread to trap interrupts every sibling; wasi-threads
// spawn/join and TID allocation live here too since both are cluster-wide
// concerns rather than per-instance ones.
package cluster

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// minTID/maxTID bound the wasi-threads TID space: per the proposal, TID 0
// is reserved (it means "no thread" in a few host-call return
// conventions) and TIDs are kept below 2^30 so a TID always fits
// comfortably in an i32 alongside a few tag bits a future extension might
// want.
const (
	minTID = 1
	maxTID = 1 << 30
)

// ErrTIDSpaceExhausted is returned by AllocateTID when every TID in
// [minTID, maxTID) is in use.
var ErrTIDSpaceExhausted = errors.New("cluster: thread id space exhausted")

// Cluster coordinates every ExecContext instantiated against the same
// set of module instances: interrupt delivery (first trap wins),
// wasi-threads TID allocation, and bounding how many OS threads may run
// concurrently.
type Cluster struct {
	// ID correlates every log line a cluster's threads emit, across
	// however many OS threads or cooperative tasks end up running them.
	ID uuid.UUID

	mu       sync.Mutex
	nextTID  uint32
	freedTID map[uint32]struct{}

	interrupted atomic.Bool
	firstTrap   error

	sem *semaphore.Weighted
	eg  *errgroup.Group
	ctx context.Context
}

// New creates a Cluster allowing up to maxConcurrentThreads goroutines to
// run at once (wasi-threads' thread_spawn blocks past this limit rather
// than failing, mirroring an OS thread pool under memory pressure).
func New(maxConcurrentThreads int) *Cluster {
	eg, ctx := errgroup.WithContext(context.Background())
	return &Cluster{
		ID:       uuid.New(),
		nextTID:  minTID,
		freedTID: make(map[uint32]struct{}),
		sem:      semaphore.NewWeighted(int64(maxConcurrentThreads)),
		eg:       eg,
		ctx:      ctx,
	}
}

// AllocateTID reserves and returns the next available wasi-threads TID.
func (c *Cluster) AllocateTID() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tid := range c.freedTID {
		delete(c.freedTID, tid)
		return tid, nil
	}
	if c.nextTID >= maxTID {
		return 0, ErrTIDSpaceExhausted
	}
	tid := c.nextTID
	c.nextTID++
	return tid, nil
}

// ReleaseTID returns tid to the free pool once its thread has exited and
// been joined.
func (c *Cluster) ReleaseTID(tid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freedTID[tid] = struct{}{}
}

// Interrupted reports whether any thread in the cluster has trapped.
// The interpreter's dispatch loop polls this between instructions
// (spec.md §7's "interrupt flag polled between instructions").
func (c *Cluster) Interrupted() bool { return c.interrupted.Load() }

// ReportTrap records err as the cluster's trap if none has been recorded
// yet (first trap wins) and raises the interrupt flag for every other
// thread. Safe to call from multiple goroutines concurrently.
func (c *Cluster) ReportTrap(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstTrap == nil {
		c.firstTrap = err
	}
	c.interrupted.Store(true)
}

// FirstTrap returns the first trap reported to the cluster, or nil.
func (c *Cluster) FirstTrap() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstTrap
}

// threadIDKey is the context key Spawn stashes each thread's correlation
// UUID under; ThreadID retrieves it.
type threadIDKey struct{}

// ThreadID returns the correlation UUID Spawn assigned to the goroutine
// running ctx, or the zero UUID if ctx didn't come from Spawn.
func ThreadID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(threadIDKey{}).(uuid.UUID)
	return id
}

// Spawn runs fn on a new goroutine, gated by the cluster's concurrency
// semaphore so an unbounded wasi-threads thread_spawn loop cannot fork
// bomb the host process. fn's error (if any) is reported as a trap and
// also surfaces from Wait. Each spawned goroutine gets its own correlation
// UUID (retrievable via ThreadID) so log lines from concurrently running
// threads can be told apart.
func (c *Cluster) Spawn(fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		return err
	}
	threadCtx := context.WithValue(c.ctx, threadIDKey{}, uuid.New())
	c.eg.Go(func() error {
		defer c.sem.Release(1)
		err := fn(threadCtx)
		if err != nil {
			c.ReportTrap(err)
		}
		return err
	})
	return nil
}

// Wait blocks until every goroutine spawned via Spawn has returned,
// yielding the first error any of them reported.
func (c *Cluster) Wait() error {
	return c.eg.Wait()
}
