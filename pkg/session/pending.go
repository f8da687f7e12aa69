package session

import (
    "context"
    "sync"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/protocol"
)

// Result carries one resolved response. The field matching the Shape the
// request was submitted with is set; the other is nil.
type Result struct {
    Blocks [][]byte
    Vector []float32
}

// Pending is the single-assignment result slot for one in-flight
// request. The first resolution wins; later attempts are no-ops. The
// cell enforces this itself, callers never have to coordinate.
type Pending struct {
    id    uint64
    shape protocol.Shape

    once sync.Once
    done chan struct{}
    res  Result
    err  error
}

// ID returns the correlation id the request was framed with.
func (p *Pending) ID() uint64 { return p.id }

// Shape returns the response layout declared at submit time.
func (p *Pending) Shape() protocol.Shape { return p.shape }

func (p *Pending) succeed(r Result) {
    p.once.Do(func() {
        p.res = r
        close(p.done)
    })
}

func (p *Pending) fail(err error) {
    p.once.Do(func() {
        p.err = err
        close(p.done)
    })
}

// Wait blocks until the request resolves or ctx expires. A request
// abandoned on ctx expiry keeps its table entry; the entry is dropped
// lazily when a late frame arrives for it, or by the next broadcast.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
    select {
    case <-ctx.Done():
        return Result{}, ctx.Err()
    case <-p.done:
        return p.res, p.err
    }
}

// Done exposes the resolution signal for select-based callers.
func (p *Pending) Done() <-chan struct{} { return p.done }

// table correlates in-flight ids with their result slots and owns id
// allocation for one session. Ids start at zero and are never reused
// within the session.
type table struct {
    mu      sync.Mutex
    nextID  uint64
    waiting map[uint64]*Pending
}

func newTable() *table { return &table{waiting: make(map[uint64]*Pending)} }

// add allocates the next id and registers a waiter under one lock, so the
// entry is visible to the receive path and to drain before the frame ever
// reaches the wire.
func (t *table) add(shape protocol.Shape) *Pending {
    t.mu.Lock()
    defer t.mu.Unlock()
    p := &Pending{id: t.nextID, shape: shape, done: make(chan struct{})}
    t.nextID++
    t.waiting[p.id] = p
    return p
}

// take removes and returns the waiter for id, or nil when the id is
// unknown (late duplicate, or already swept by a broadcast).
func (t *table) take(id uint64) *Pending {
    t.mu.Lock()
    defer t.mu.Unlock()
    p := t.waiting[id]
    if p != nil {
        delete(t.waiting, id)
    }
    return p
}

// drain atomically empties the table and returns what it held. Requests
// registered after drain returns are untouched.
func (t *table) drain() []*Pending {
    t.mu.Lock()
    defer t.mu.Unlock()
    out := make([]*Pending, 0, len(t.waiting))
    for _, p := range t.waiting {
        out = append(out, p)
    }
    t.waiting = make(map[uint64]*Pending)
    return out
}

func (t *table) size() int {
    t.mu.Lock()
    defer t.mu.Unlock()
    return len(t.waiting)
}
