// Package session implements the request/response correlation core. One
// Session owns one stage connection: it frames outgoing requests with a
// monotonic id, remembers the response shape per in-flight id, and
// demultiplexes out-of-order responses back to the right waiter. Text
// frames from the stage broadcast a ProtocolError to every waiter.
package session

import (
    "context"
    "fmt"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/protocol"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/transport"
)

// DefaultConnectTimeout bounds Dial when neither the context nor the
// options carry a deadline.
const DefaultConnectTimeout = 10 * time.Second

// Options tune a Session.
type Options struct {
    // Name labels the session in logs, e.g. "align" or "embed".
    Name string
    // ConnectTimeout bounds Dial when the caller's context has no earlier
    // deadline. Zero means DefaultConnectTimeout.
    ConnectTimeout time.Duration
    // Logger defaults to the global zap logger.
    Logger *zap.Logger
}

// Session is created open by Dial and closes at most once, on Close or
// when the connection drops. A closed session stays closed; callers
// reconnect by dialing a new one.
type Session struct {
    conn transport.Conn
    log  *zap.Logger
    tbl  *table

    closeOnce sync.Once
    closed    chan struct{}
}

// Dial connects to a stage and starts the receive loop. On any failure
// the caller gets an error and no session; a Session is never observed
// half-connected.
func Dial(ctx context.Context, d transport.Dialer, address string, opts Options) (*Session, error) {
    log := opts.Logger
    if log == nil {
        log = zap.L()
    }
    if opts.Name != "" {
        log = log.With(zap.String("stage", opts.Name))
    }
    if _, ok := ctx.Deadline(); !ok {
        timeout := opts.ConnectTimeout
        if timeout == 0 {
            timeout = DefaultConnectTimeout
        }
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, timeout)
        defer cancel()
    }
    conn, err := d.Dial(ctx, address)
    if err != nil {
        return nil, fmt.Errorf("connect %s via %s: %w", address, d.Kind(), err)
    }
    s := &Session{
        conn:   conn,
        log:    log,
        tbl:    newTable(),
        closed: make(chan struct{}),
    }
    go s.receiveLoop()
    log.Info("stage connection established",
        zap.String("addr", address), zap.Stringer("transport", d.Kind()))
    return s, nil
}

// Open reports whether the session still accepts submissions.
func (s *Session) Open() bool {
    select {
    case <-s.closed:
        return false
    default:
        return true
    }
}

// InFlight returns the number of requests currently awaiting a response.
func (s *Session) InFlight() int { return s.tbl.size() }

// Submit allocates an id, registers a waiter, and writes the framed
// request. It never blocks on the response: the returned Pending resolves
// when the matching frame arrives or the session fails. shape declares
// how that frame will be decoded.
//
// A failed write resolves the returned Pending immediately with the write
// error; like every other per-request failure it surfaces through Wait.
// Only ErrSessionNotOpen is reported synchronously, before any id is
// allocated.
func (s *Session) Submit(payload []byte, shape protocol.Shape) (*Pending, error) {
    if !s.Open() {
        return nil, ErrSessionNotOpen
    }
    p := s.tbl.add(shape)
    frame := protocol.EncodeRequest(p.ID(), payload)
    if err := s.conn.Send(transport.Message{Kind: transport.Binary, Data: frame}); err != nil {
        s.tbl.take(p.ID())
        p.fail(fmt.Errorf("send request %d: %w", p.ID(), err))
        s.log.Error("request send failed", zap.Uint64("id", p.ID()), zap.Error(err))
        return p, nil
    }
    s.log.Debug("request sent",
        zap.Uint64("id", p.ID()), zap.Stringer("shape", shape), zap.Int("bytes", len(payload)))
    return p, nil
}

// Close is idempotent. It closes the connection and resolves every
// remaining waiter with ErrSessionClosed so nothing hangs past the
// session's lifetime.
func (s *Session) Close() error {
    var err error
    s.closeOnce.Do(func() {
        close(s.closed)
        err = s.conn.Close()
        for _, p := range s.tbl.drain() {
            p.fail(ErrSessionClosed)
        }
        s.log.Info("session closed")
    })
    return err
}

// receiveLoop is the single reader of the connection and the single
// writer into the table from the receive side. It exits when the
// connection errors out or is closed.
func (s *Session) receiveLoop() {
    for {
        m, err := s.conn.Receive()
        if err != nil {
            s.teardown(err)
            return
        }
        switch m.Kind {
        case transport.Text:
            s.broadcast(&ProtocolError{Message: string(m.Data)})
        case transport.Binary:
            s.dispatch(m.Data)
        }
    }
}

// broadcast fails every currently pending request with the stage-level
// error. The drain is atomic: requests submitted afterwards are untouched
// and will be answered (or poisoned) on their own.
func (s *Session) broadcast(perr *ProtocolError) {
    dropped := s.tbl.drain()
    for _, p := range dropped {
        p.fail(perr)
    }
    s.log.Warn("stage reported an error, failing all pending requests",
        zap.String("message", perr.Message), zap.Int("pending", len(dropped)))
}

// dispatch decodes one binary frame per the shape remembered for its id
// and resolves the waiter. Frames with no readable id or no waiter are
// logged and dropped; there is nothing safe to resolve for them.
func (s *Session) dispatch(frame []byte) {
    id, ok := protocol.PeekID(frame)
    if !ok {
        s.log.Warn("response frame too short to carry an id", zap.Int("bytes", len(frame)))
        return
    }
    p := s.tbl.take(id)
    if p == nil {
        // Late duplicate, or a request already failed by a broadcast or
        // abandoned on timeout.
        s.log.Debug("dropping response with no waiter", zap.Uint64("id", id))
        return
    }

    switch p.Shape() {
    case protocol.ShapeVector:
        _, vec, err := protocol.DecodeVector(frame)
        if err != nil {
            s.resolveDecodeFailure(p, err)
            return
        }
        p.succeed(Result{Vector: vec})
        s.log.Debug("vector response resolved",
            zap.Uint64("id", id), zap.Int("elements", len(vec)))
    default:
        _, blocks, err := protocol.DecodeBlocks(frame)
        if err == nil && p.Shape() == protocol.ShapeSingleBlock && len(blocks) != 1 {
            err = &protocol.MalformedFrameError{
                Reason: fmt.Sprintf("expected exactly one block, got %d", len(blocks)),
            }
        }
        if err != nil {
            s.resolveDecodeFailure(p, err)
            return
        }
        p.succeed(Result{Blocks: blocks})
        s.log.Debug("block response resolved",
            zap.Uint64("id", id), zap.Int("blocks", len(blocks)))
    }
}

// resolveDecodeFailure fails exactly the waiter whose frame was bad. The
// id was readable, so the error stays scoped to that one request instead
// of escaping into the loop.
func (s *Session) resolveDecodeFailure(p *Pending, err error) {
    p.fail(err)
    s.log.Warn("response frame rejected",
        zap.Uint64("id", p.ID()), zap.Stringer("shape", p.Shape()), zap.Error(err))
}

// teardown handles connection loss. If Close already ran this is a no-op;
// otherwise remaining waiters resolve with the connection error.
func (s *Session) teardown(cause error) {
    s.closeOnce.Do(func() {
        close(s.closed)
        _ = s.conn.Close()
        dropped := s.tbl.drain()
        for _, p := range dropped {
            p.fail(fmt.Errorf("connection lost: %w", cause))
        }
        if len(dropped) > 0 {
            s.log.Warn("connection lost with requests in flight",
                zap.Int("pending", len(dropped)), zap.Error(cause))
        } else {
            s.log.Info("connection closed", zap.Error(cause))
        }
    })
}
