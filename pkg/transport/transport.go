// Package transport defines the message-oriented connection contract the
// protocol session runs over, and the kinds of links that implement it.
// A Conn must preserve message boundaries and deliver frames reliably and
// in order; everything above it is transport-agnostic.
package transport

import (
    "context"
    "net"
)

// Kind identifies the link type used to reach a stage.
type Kind int

const (
    KindUnknown Kind = iota
    KindWS
    KindQUIC
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindWS:
        return "ws"
    case KindQUIC:
        return "quic"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// MessageKind distinguishes the two frame classes a stage emits: binary
// result frames and out-of-band text error frames.
type MessageKind int

const (
    Binary MessageKind = iota
    Text
)

func (m MessageKind) String() string {
    if m == Text {
        return "text"
    }
    return "binary"
}

// Message is one complete frame, self-delimited by the transport.
type Message struct {
    Kind MessageKind
    Data []byte
}

// Conn is a bidirectional message link to one stage. Send is safe for
// concurrent callers; Receive is expected to have a single caller and
// blocks until the next frame or a terminal error. After Close, both
// return errors.
type Conn interface {
    Send(m Message) error
    Receive() (Message, error)
    Close() error
}

// Dialer opens Conns of one Kind.
type Dialer interface {
    Kind() Kind
    // Dial connects to a stage address. The context bounds the whole
    // connect/handshake; on ctx expiry the dial fails, never a half-open Conn.
    Dial(ctx context.Context, address string) (Conn, error)
}

// Listener accepts inbound Conns. Only stage-side code (the simulator,
// tests) listens; the client library always dials.
type Listener interface {
    // Accept blocks until an inbound Conn is available or ctx is done.
    Accept(ctx context.Context) (Conn, error)
    Addr() net.Addr
    Close() error
}
