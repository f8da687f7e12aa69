// Package mem is an in-process transport over net.Pipe. It exists for
// tests and for running the stage simulator inside the client process.
package mem

import (
    "bufio"
    "context"
    "encoding/binary"
    "errors"
    "io"
    "net"
    "sync"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/transport"
)

// Network is a registry of named in-process listeners. Dial and Listen on
// the same Network reach each other; independent Networks are isolated.
type Network struct {
    mu        sync.Mutex
    listeners map[string]*listener
}

func NewNetwork() *Network { return &Network{listeners: make(map[string]*listener)} }

func (n *Network) Kind() transport.Kind { return transport.KindMem }

func (n *Network) Listen(ctx context.Context, name string) (transport.Listener, error) {
    n.mu.Lock()
    defer n.mu.Unlock()
    if _, ok := n.listeners[name]; ok {
        return nil, errors.New("mem: listener already exists")
    }
    l := &listener{name: name, newCh: make(chan *conn, 8), closeCh: make(chan struct{})}
    n.listeners[name] = l
    go func() {
        <-ctx.Done()
        _ = l.Close()
        n.mu.Lock()
        delete(n.listeners, name)
        n.mu.Unlock()
    }()
    return l, nil
}

func (n *Network) Dial(ctx context.Context, name string) (transport.Conn, error) {
    n.mu.Lock()
    l := n.listeners[name]
    n.mu.Unlock()
    if l == nil {
        return nil, errors.New("mem: no such listener")
    }
    c1, c2 := net.Pipe()
    srv := newConn(c1)
    cli := newConn(c2)
    select {
    case l.newCh <- srv:
    default:
        _ = srv.Close()
        _ = cli.Close()
        return nil, errors.New("mem: listener backlog full")
    }
    return cli, nil
}

type listener struct {
    name    string
    newCh   chan *conn
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("mem: listener closed")
    case c := <-l.newCh:
        return c, nil
    }
}

func (l *listener) Close() error {
    l.once.Do(func() { close(l.closeCh) })
    return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// conn frames messages as kind(1) || len(4, big-endian) || payload.
type conn struct {
    mu sync.Mutex // serializes writers
    c  net.Conn
    br *bufio.Reader
    bw *bufio.Writer
}

func newConn(c net.Conn) *conn {
    return &conn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
}

func (c *conn) Send(m transport.Message) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    var hdr [5]byte
    hdr[0] = byte(m.Kind)
    binary.BigEndian.PutUint32(hdr[1:], uint32(len(m.Data)))
    if _, err := c.bw.Write(hdr[:]); err != nil { return err }
    if _, err := c.bw.Write(m.Data); err != nil { return err }
    return c.bw.Flush()
}

func (c *conn) Receive() (transport.Message, error) {
    var hdr [5]byte
    if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
        return transport.Message{}, err
    }
    kind := transport.MessageKind(hdr[0])
    if kind != transport.Binary && kind != transport.Text {
        return transport.Message{}, errors.New("mem: unknown message kind")
    }
    n := int(binary.BigEndian.Uint32(hdr[1:]))
    if n > (1 << 24) {
        return transport.Message{}, errors.New("mem: frame too large")
    }
    buf := make([]byte, n)
    if _, err := io.ReadFull(c.br, buf); err != nil {
        return transport.Message{}, err
    }
    return transport.Message{Kind: kind, Data: buf}, nil
}

func (c *conn) Close() error { return c.c.Close() }
