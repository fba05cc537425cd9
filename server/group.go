package server

import (
	"context"
	"net/http"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Group is a fixed budget of worker slots that one or more servers draw
// from. A Server is given two groups: its acceptor group runs the accept
// loop and its worker group bounds request processing, one slot per request
// being served. Two servers may share (or swap) the same pair of groups so
// that they split a single budget instead of doubling it.
//
// Each connection is served by a single goroutine, so requests on one
// connection are handled one at a time and in order. Connections idle
// between requests, and accept loops blocked on the network poller, hold no
// slot.
type Group struct {
	name  string
	size  int64
	slots *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	loops  sync.WaitGroup
}

// NewGroup returns a Group with the given number of slots. A size of zero
// or less defaults to twice GOMAXPROCS.
func NewGroup(name string, size int) *Group {
	if size <= 0 {
		size = 2 * runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		name:   name,
		size:   int64(size),
		slots:  semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns the name the group was created with.
func (g *Group) Name() string {
	return g.name
}

// Size returns the number of slots in the group.
func (g *Group) Size() int {
	return int(g.size)
}

// Go runs f in a goroutine tracked by the group. Shutdown waits for it.
func (g *Group) Go(f func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGroupClosed
	}
	g.loops.Add(1)
	go func() {
		defer g.loops.Done()
		f()
	}()
	return nil
}

// Handler bounds h by the group: every request holds one slot while it is
// being served and waits for a free slot before it starts. A request that
// cannot get a slot, because the client went away or the group was shut
// down, aborts its connection without a response.
func (g *Group) Handler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, err := g.acquire(r.Context())
		if err != nil {
			LogWithFields(r).Debugf("no %s slot for request: %s", g.name, err)
			panic(http.ErrAbortHandler)
		}
		defer release()
		h.ServeHTTP(w, r)
	})
}

// acquire blocks until a slot is free, ctx is done or the group is shut down.
// The returned func gives the slot back and is safe to call more than once.
func (g *Group) acquire(ctx context.Context) (func(), error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, ErrGroupClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.ctx, cancel)
	defer stop()

	if err := g.slots.Acquire(ctx, 1); err != nil {
		if g.ctx.Err() != nil {
			return nil, ErrGroupClosed
		}
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.slots.Release(1) })
	}, nil
}

// Shutdown stops the group from handing out new slots or running new loops,
// then waits until every running loop has returned and every slot has been
// released, or until ctx is done. It is safe to call more than once.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// every slot back in the pool means no request is being served
	if err := g.slots.Acquire(ctx, g.size); err != nil {
		return err
	}
	g.slots.Release(g.size)
	return nil
}
