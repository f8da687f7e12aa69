// Package ws carries stage traffic over WebSocket, the link the
// production stages speak. Binary frames map to transport.Binary and
// text frames to transport.Text; control frames stay inside gorilla.
package ws

import (
    "context"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/gorilla/websocket"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/transport"
)

// DefaultMaxMessageBytes mirrors the 1 MiB limit the stages enforce.
const DefaultMaxMessageBytes = 1 << 20

// Dialer opens WebSocket connections to stage endpoints.
type Dialer struct {
    // HandshakeTimeout bounds the upgrade in addition to the dial context.
    HandshakeTimeout time.Duration
    // MaxMessageBytes caps inbound frames; zero means DefaultMaxMessageBytes.
    MaxMessageBytes int64
}

func (d *Dialer) Kind() transport.Kind { return transport.KindWS }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
    wd := websocket.Dialer{
        Proxy:            http.ProxyFromEnvironment,
        HandshakeTimeout: d.HandshakeTimeout,
    }
    c, resp, err := wd.DialContext(ctx, address, nil)
    if err != nil {
        return nil, err
    }
    if resp != nil && resp.Body != nil {
        _ = resp.Body.Close()
    }
    limit := d.MaxMessageBytes
    if limit == 0 {
        limit = DefaultMaxMessageBytes
    }
    c.SetReadLimit(limit)
    return &conn{c: c}, nil
}

type conn struct {
    mu sync.Mutex // gorilla allows at most one concurrent writer
    c  *websocket.Conn
}

func (c *conn) Send(m transport.Message) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    mt := websocket.BinaryMessage
    if m.Kind == transport.Text {
        mt = websocket.TextMessage
    }
    return c.c.WriteMessage(mt, m.Data)
}

func (c *conn) Receive() (transport.Message, error) {
    for {
        mt, data, err := c.c.ReadMessage()
        if err != nil {
            return transport.Message{}, err
        }
        switch mt {
        case websocket.BinaryMessage:
            return transport.Message{Kind: transport.Binary, Data: data}, nil
        case websocket.TextMessage:
            return transport.Message{Kind: transport.Text, Data: data}, nil
        }
    }
}

func (c *conn) Close() error {
    c.mu.Lock()
    _ = c.c.WriteControl(websocket.CloseMessage,
        websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
        time.Now().Add(time.Second))
    c.mu.Unlock()
    return c.c.Close()
}

// Listen serves WebSocket upgrades at path on addr and yields inbound
// Conns. Used by the stage simulator; the client library only dials.
func Listen(addr, path string, maxMessageBytes int64) (transport.Listener, error) {
    nl, err := net.Listen("tcp", addr)
    if err != nil {
        return nil, err
    }
    if maxMessageBytes == 0 {
        maxMessageBytes = DefaultMaxMessageBytes
    }
    l := &listener{
        nl:      nl,
        newCh:   make(chan *conn, 8),
        closeCh: make(chan struct{}),
    }
    up := websocket.Upgrader{
        CheckOrigin: func(*http.Request) bool { return true },
    }
    mux := http.NewServeMux()
    mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
        wc, err := up.Upgrade(w, r, nil)
        if err != nil {
            return
        }
        wc.SetReadLimit(maxMessageBytes)
        select {
        case l.newCh <- &conn{c: wc}:
        case <-l.closeCh:
            _ = wc.Close()
        }
    })
    l.srv = &http.Server{Handler: mux}
    go func() { _ = l.srv.Serve(nl) }()
    return l, nil
}

type listener struct {
    nl      net.Listener
    srv     *http.Server
    newCh   chan *conn
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.nl.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, net.ErrClosed
    case c := <-l.newCh:
        return c, nil
    }
}

func (l *listener) Close() error {
    l.once.Do(func() { close(l.closeCh) })
    return l.srv.Close()
}
