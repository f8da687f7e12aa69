package client

import (
    "context"
    "errors"
    "math"
    "strings"
    "testing"
    "time"

    "go.uber.org/zap"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/protocol"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/session"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/stagesim"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/transport/mem"
)

const testDim = 32

// startStages wires a full in-process deployment: both simulators behind
// a mem network, with faces blocks per alignment response.
func startStages(t *testing.T, faces int) (*mem.Network, context.Context) {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    t.Cleanup(cancel)

    net := mem.NewNetwork()
    alignLn, err := net.Listen(ctx, "align")
    if err != nil { t.Fatalf("listen align: %v", err) }
    embedLn, err := net.Listen(ctx, "embed")
    if err != nil { t.Fatalf("listen embed: %v", err) }
    go stagesim.NewAlign(faces, zap.NewNop()).Serve(ctx, alignLn)
    go stagesim.NewEmbed(testDim, zap.NewNop()).Serve(ctx, embedLn)
    return net, ctx
}

func newTestClient(t *testing.T, net *mem.Network, ctx context.Context) *Client {
    t.Helper()
    c, err := New(ctx, Options{
        AlignAddr: "align",
        EmbedAddr: "embed",
        Dialer:    net,
        Logger:    zap.NewNop(),
    })
    if err != nil {
        t.Fatalf("new client: %v", err)
    }
    t.Cleanup(func() { _ = c.Close() })
    return c
}

func TestAlignFacesReturnsAllBlocks(t *testing.T) {
    net, ctx := startStages(t, 3)
    c := newTestClient(t, net, ctx)

    faces, err := c.AlignFaces(ctx, []byte("group-photo"))
    if err != nil {
        t.Fatalf("align: %v", err)
    }
    if len(faces) != 3 {
        t.Fatalf("got %d faces", len(faces))
    }
    for i, f := range faces {
        if !strings.HasSuffix(string(f), "group-photo") {
            t.Fatalf("face %d does not derive from the image: %q", i, f)
        }
    }
}

func TestAlignFaceRejectsMultipleFaces(t *testing.T) {
    net, ctx := startStages(t, 2)
    c := newTestClient(t, net, ctx)

    _, err := c.AlignFace(ctx, []byte("two-people"))
    var mfe *protocol.MalformedFrameError
    if !errors.As(err, &mfe) {
        t.Fatalf("got %v, want MalformedFrameError", err)
    }
}

func TestEmbedIsDeterministic(t *testing.T) {
    net, ctx := startStages(t, 1)
    c := newTestClient(t, net, ctx)

    face := []byte("aligned-face-bytes")
    v1, err := c.Embed(ctx, face)
    if err != nil { t.Fatalf("embed: %v", err) }
    v2, err := c.Embed(ctx, face)
    if err != nil { t.Fatalf("embed again: %v", err) }
    if len(v1) != testDim {
        t.Fatalf("vector length = %d", len(v1))
    }
    for i := range v1 {
        if math.Float32bits(v1[i]) != math.Float32bits(v2[i]) {
            t.Fatalf("embedding not deterministic at %d", i)
        }
    }
}

func TestProcessImageEndToEnd(t *testing.T) {
    net, ctx := startStages(t, 1)
    c := newTestClient(t, net, ctx)

    image := []byte("portrait")
    vec, err := c.ProcessImage(ctx, image)
    if err != nil {
        t.Fatalf("process: %v", err)
    }
    want := stagesim.PseudoEmbedding(append([]byte("face-0:"), image...), testDim)
    for i := range want {
        if math.Float32bits(vec[i]) != math.Float32bits(want[i]) {
            t.Fatalf("element %d: %v != %v", i, vec[i], want[i])
        }
    }
}

func TestOperationsAfterClose(t *testing.T) {
    net, ctx := startStages(t, 1)
    c := newTestClient(t, net, ctx)

    if err := c.Close(); err != nil {
        t.Fatalf("close: %v", err)
    }
    if _, err := c.AlignFaces(ctx, []byte("img")); !errors.Is(err, session.ErrSessionNotOpen) {
        t.Fatalf("align after close: %v", err)
    }
    if _, err := c.ProcessImage(ctx, []byte("img")); !errors.Is(err, session.ErrSessionNotOpen) {
        t.Fatalf("process after close: %v", err)
    }
}

func TestRequestTimeout(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()

    net := mem.NewNetwork()
    alignLn, err := net.Listen(ctx, "align")
    if err != nil { t.Fatalf("listen align: %v", err) }
    embedLn, err := net.Listen(ctx, "embed")
    if err != nil { t.Fatalf("listen embed: %v", err) }
    go stagesim.NewEmbed(testDim, zap.NewNop()).Serve(ctx, embedLn)
    // The alignment stage accepts but never answers.
    go func() {
        c, err := alignLn.Accept(ctx)
        if err != nil {
            return
        }
        for {
            if _, err := c.Receive(); err != nil {
                return
            }
        }
    }()

    c, err := New(ctx, Options{
        AlignAddr:      "align",
        EmbedAddr:      "embed",
        Dialer:         net,
        RequestTimeout: 50 * time.Millisecond,
        Logger:         zap.NewNop(),
    })
    if err != nil {
        t.Fatalf("new client: %v", err)
    }
    defer c.Close()

    if _, err := c.AlignFace(context.Background(), []byte("img")); !errors.Is(err, context.DeadlineExceeded) {
        t.Fatalf("got %v, want deadline exceeded", err)
    }
}
