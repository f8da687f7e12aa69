// Package stagesim implements the stage side of the wire protocol with
// deterministic stand-in results. It replaces the real detection and
// recognition services in tests and local development: alignment answers
// with derived face blocks, embedding with a pseudo vector derived from
// the payload, and either can be configured to answer with a text error
// frame the way a faulting stage does.
package stagesim

import (
    "context"
    "encoding/binary"
    "fmt"

    "github.com/zeebo/blake3"
    "go.uber.org/zap"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/protocol"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/transport"
)

// Mode selects which stage the simulator impersonates.
type Mode int

const (
    ModeAlign Mode = iota
    ModeEmbed
)

func (m Mode) String() string {
    if m == ModeEmbed {
        return "embed"
    }
    return "align"
}

// Stage serves stage responses on any transport.Listener.
type Stage struct {
    mode  Mode
    faces int
    dim   int
    log   *zap.Logger

    // FailMessage, when non-empty, makes every request answer with a
    // text error frame instead of a result.
    FailMessage string
}

// NewAlign builds an alignment simulator answering faces blocks per
// request. Each block is the request payload tagged with its index, so
// callers can verify what came back.
func NewAlign(faces int, log *zap.Logger) *Stage {
    if log == nil {
        log = zap.L()
    }
    if faces < 0 {
        faces = 0
    }
    return &Stage{mode: ModeAlign, faces: faces, log: log.With(zap.String("sim", "align"))}
}

// NewEmbed builds a recognition simulator answering dim-element vectors.
func NewEmbed(dim int, log *zap.Logger) *Stage {
    if log == nil {
        log = zap.L()
    }
    if dim <= 0 {
        dim = 128
    }
    return &Stage{mode: ModeEmbed, dim: dim, log: log.With(zap.String("sim", "embed"))}
}

// Serve accepts connections until ctx is done or the listener fails, one
// goroutine per connection.
func (st *Stage) Serve(ctx context.Context, l transport.Listener) error {
    for {
        c, err := l.Accept(ctx)
        if err != nil {
            if ctx.Err() != nil {
                return ctx.Err()
            }
            return err
        }
        go st.handleConn(ctx, c)
    }
}

func (st *Stage) handleConn(ctx context.Context, c transport.Conn) {
    defer c.Close()
    go func() {
        <-ctx.Done()
        _ = c.Close()
    }()
    for {
        m, err := c.Receive()
        if err != nil {
            return
        }
        if m.Kind != transport.Binary {
            continue
        }
        if st.FailMessage != "" {
            _ = c.Send(transport.Message{Kind: transport.Text, Data: []byte(st.FailMessage)})
            continue
        }
        reply, ok := st.respond(m.Data)
        if !ok {
            _ = c.Send(transport.Message{Kind: transport.Text,
                Data: []byte("Error: request too short for a message id")})
            continue
        }
        if err := c.Send(transport.Message{Kind: transport.Binary, Data: reply}); err != nil {
            return
        }
    }
}

func (st *Stage) respond(frame []byte) ([]byte, bool) {
    id, ok := protocol.PeekID(frame)
    if !ok {
        return nil, false
    }
    payload := frame[8:]
    st.log.Debug("request", zap.Uint64("id", id), zap.Int("bytes", len(payload)))
    if st.mode == ModeEmbed {
        return protocol.EncodeVector(id, PseudoEmbedding(payload, st.dim)), true
    }
    blocks := make([][]byte, st.faces)
    for i := range blocks {
        blocks[i] = append([]byte(fmt.Sprintf("face-%d:", i)), payload...)
    }
    return protocol.EncodeBlocks(id, blocks), true
}

// PseudoEmbedding derives a deterministic dim-element vector in [0, 1)
// from data, using the blake3 XOF as the expansion. Identical inputs
// always embed identically, which is what the tests key on.
func PseudoEmbedding(data []byte, dim int) []float32 {
    h := blake3.New()
    _, _ = h.Write(data)
    d := h.Digest()
    buf := make([]byte, 4*dim)
    _, _ = d.Read(buf)
    vec := make([]float32, dim)
    for i := range vec {
        bits := binary.BigEndian.Uint32(buf[i*4:])
        vec[i] = float32(bits>>8) / (1 << 24)
    }
    return vec
}
