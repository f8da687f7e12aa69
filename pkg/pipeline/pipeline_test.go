package pipeline

import (
    "context"
    "errors"
    "math"
    "sync/atomic"
    "testing"
    "time"

    "go.uber.org/zap"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/session"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/stagesim"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/transport/mem"
)

func dialStage(t *testing.T, ctx context.Context, net *mem.Network, name string) *session.Session {
    t.Helper()
    s, err := session.Dial(ctx, net, name, session.Options{Name: name, Logger: zap.NewNop()})
    if err != nil {
        t.Fatalf("dial %s: %v", name, err)
    }
    t.Cleanup(func() { _ = s.Close() })
    return s
}

func TestProcessEndToEnd(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    net := mem.NewNetwork()
    alignLn, err := net.Listen(ctx, "align")
    if err != nil { t.Fatalf("listen align: %v", err) }
    embedLn, err := net.Listen(ctx, "embed")
    if err != nil { t.Fatalf("listen embed: %v", err) }

    const dim = 16
    go stagesim.NewAlign(1, zap.NewNop()).Serve(ctx, alignLn)
    go stagesim.NewEmbed(dim, zap.NewNop()).Serve(ctx, embedLn)

    pl := New(dialStage(t, ctx, net, "align"), dialStage(t, ctx, net, "embed"), zap.NewNop())

    image := []byte("png-bytes-of-a-face")
    vec, err := pl.Process(ctx, image)
    if err != nil {
        t.Fatalf("process: %v", err)
    }

    // The simulator embeds the aligned block it produced for the image.
    want := stagesim.PseudoEmbedding(append([]byte("face-0:"), image...), dim)
    if len(vec) != dim {
        t.Fatalf("vector length = %d", len(vec))
    }
    for i := range want {
        if math.Float32bits(vec[i]) != math.Float32bits(want[i]) {
            t.Fatalf("element %d: %v != %v", i, vec[i], want[i])
        }
    }
}

func TestAlignmentFailureShortCircuits(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    net := mem.NewNetwork()
    alignLn, err := net.Listen(ctx, "align")
    if err != nil { t.Fatalf("listen align: %v", err) }
    embedLn, err := net.Listen(ctx, "embed")
    if err != nil { t.Fatalf("listen embed: %v", err) }

    failing := stagesim.NewAlign(1, zap.NewNop())
    failing.FailMessage = "Error: detector crashed"
    go failing.Serve(ctx, alignLn)

    // Count every frame that reaches the embedding stage.
    var embedRequests atomic.Int32
    go func() {
        c, err := embedLn.Accept(ctx)
        if err != nil {
            return
        }
        for {
            if _, err := c.Receive(); err != nil {
                return
            }
            embedRequests.Add(1)
        }
    }()

    pl := New(dialStage(t, ctx, net, "align"), dialStage(t, ctx, net, "embed"), zap.NewNop())

    _, err = pl.Process(ctx, []byte("img"))
    var perr *session.ProtocolError
    if !errors.As(err, &perr) {
        t.Fatalf("got %v, want the alignment stage's ProtocolError", err)
    }
    if perr.Message != "Error: detector crashed" {
        t.Fatalf("failure not propagated unchanged: %q", perr.Message)
    }
    if n := embedRequests.Load(); n != 0 {
        t.Fatalf("embedding stage contacted %d times after alignment failed", n)
    }
}

func TestClosedAlignmentSessionShortCircuits(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    net := mem.NewNetwork()
    alignLn, err := net.Listen(ctx, "align")
    if err != nil { t.Fatalf("listen align: %v", err) }
    embedLn, err := net.Listen(ctx, "embed")
    if err != nil { t.Fatalf("listen embed: %v", err) }
    go stagesim.NewAlign(1, zap.NewNop()).Serve(ctx, alignLn)
    go stagesim.NewEmbed(8, zap.NewNop()).Serve(ctx, embedLn)

    align := dialStage(t, ctx, net, "align")
    pl := New(align, dialStage(t, ctx, net, "embed"), zap.NewNop())

    _ = align.Close()
    if _, err := pl.Process(ctx, []byte("img")); !errors.Is(err, session.ErrSessionNotOpen) {
        t.Fatalf("got %v, want ErrSessionNotOpen", err)
    }
}
