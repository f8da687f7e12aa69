// Package quic carries stage traffic over a single QUIC bidirectional
// stream with kind(1) || len(4, big-endian) framing, for deployments
// where the stages sit behind a QUIC gateway instead of WebSocket.
package quic

import (
    "bufio"
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/tls"
    "crypto/x509"
    "encoding/binary"
    "errors"
    "io"
    "math/big"
    "net"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/transport"
)

const alpn = "facews"

// Dialer opens QUIC connections to stage endpoints.
type Dialer struct {
    // TLS overrides the client TLS config. When nil, verification is
    // skipped; stage identity is not part of this protocol.
    TLS *tls.Config
}

func (d *Dialer) Kind() transport.Kind { return transport.KindQUIC }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
    tlsConf := d.TLS
    if tlsConf == nil {
        tlsConf = &tls.Config{
            InsecureSkipVerify: true,
            NextProtos:         []string{alpn},
            MinVersion:         tls.VersionTLS13,
        }
    }
    qc, err := quicgo.DialAddr(ctx, address, tlsConf, &quicgo.Config{})
    if err != nil {
        return nil, err
    }
    st, err := qc.OpenStreamSync(ctx)
    if err != nil {
        _ = qc.CloseWithError(0, "stream open failed")
        return nil, err
    }
    return newConn(qc, st), nil
}

// Listen accepts QUIC connections with an ephemeral self-signed
// certificate. Used by the stage simulator.
func Listen(ctx context.Context, address string) (transport.Listener, error) {
    cert, err := selfSignedCert()
    if err != nil {
        return nil, err
    }
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{alpn},
        MinVersion:   tls.VersionTLS13,
    }
    ql, err := quicgo.ListenAddr(address, tlsConf, &quicgo.Config{})
    if err != nil {
        return nil, err
    }
    l := &listener{ql: ql, newCh: make(chan *conn, 8), closeCh: make(chan struct{})}
    go l.acceptLoop(ctx)
    return l, nil
}

type listener struct {
    ql      *quicgo.Listener
    newCh   chan *conn
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        qc, err := l.ql.Accept(ctx)
        if err != nil {
            return
        }
        go func() {
            // The dialer opens the stream; Accept it with a bound so a
            // silent peer cannot pin the loop.
            sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
            defer cancel()
            st, err := qc.AcceptStream(sctx)
            if err != nil {
                _ = qc.CloseWithError(0, "no stream")
                return
            }
            select {
            case l.newCh <- newConn(qc, st):
            case <-l.closeCh:
                _ = qc.CloseWithError(0, "listener closed")
            }
        }()
    }
}

func (l *listener) Addr() net.Addr { return l.ql.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("quic: listener closed")
    case c := <-l.newCh:
        return c, nil
    }
}

func (l *listener) Close() error {
    l.once.Do(func() { close(l.closeCh) })
    return l.ql.Close()
}

type conn struct {
    mu sync.Mutex
    qc quicgo.Connection
    st quicgo.Stream
    br *bufio.Reader
    bw *bufio.Writer
}

func newConn(qc quicgo.Connection, st quicgo.Stream) *conn {
    return &conn{qc: qc, st: st, br: bufio.NewReader(st), bw: bufio.NewWriter(st)}
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
        return transport.Message{}, errors.New("quic: unknown message kind")
    }
    n := int(binary.BigEndian.Uint32(hdr[1:]))
    if n > (1 << 24) {
        return transport.Message{}, errors.New("quic: frame too large")
    }
    buf := make([]byte, n)
    if _, err := io.ReadFull(c.br, buf); err != nil {
        return transport.Message{}, err
    }
    return transport.Message{Kind: kind, Data: buf}, nil
}

func (c *conn) Close() error {
    _ = c.st.Close()
    return c.qc.CloseWithError(0, "")
}

// selfSignedCert generates a short-lived self-signed TLS certificate for
// local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := rsa.GenerateKey(rand.Reader, 2048)
    if err != nil {
        return tls.Certificate{}, err
    }
    tmpl := x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        NotBefore:             time.Now().Add(-time.Minute),
        NotAfter:              time.Now().Add(24 * time.Hour),
        KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil {
        return tls.Certificate{}, err
    }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
