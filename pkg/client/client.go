// Package client is the caller-facing face processing client. It owns one
// protocol session per stage plus the pipeline that chains them, and maps
// the stage operations onto typed results: aligned face blocks from the
// alignment stage, float vectors from the embedding stage.
package client

import (
    "context"
    "errors"
    "time"

    "go.uber.org/zap"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/pipeline"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/protocol"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/session"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/transport"
)

// Options configure New.
type Options struct {
    // AlignAddr and EmbedAddr are the two stage endpoints, in whatever
    // address form the Dialer understands.
    AlignAddr string
    EmbedAddr string
    // Dialer opens the stage links; both sessions use the same kind.
    Dialer transport.Dialer
    // ConnectTimeout bounds each stage dial. Zero uses the session default.
    ConnectTimeout time.Duration
    // RequestTimeout bounds each operation when the caller's context has
    // no earlier deadline. Zero means the context alone governs.
    RequestTimeout time.Duration
    // Logger defaults to the global zap logger.
    Logger *zap.Logger
}

// Client talks to both stages. Operations are safe for concurrent use;
// responses are correlated by id, not by call order.
type Client struct {
    align      *session.Session
    embed      *session.Session
    pipe       *pipeline.Pipeline
    reqTimeout time.Duration
    log        *zap.Logger
}

// New dials both stages. Either dial failing tears down whatever was
// already connected; the caller never holds a half-connected client.
func New(ctx context.Context, opts Options) (*Client, error) {
    log := opts.Logger
    if log == nil {
        log = zap.L()
    }
    align, err := session.Dial(ctx, opts.Dialer, opts.AlignAddr, session.Options{
        Name:           "align",
        ConnectTimeout: opts.ConnectTimeout,
        Logger:         log,
    })
    if err != nil {
        return nil, err
    }
    embed, err := session.Dial(ctx, opts.Dialer, opts.EmbedAddr, session.Options{
        Name:           "embed",
        ConnectTimeout: opts.ConnectTimeout,
        Logger:         log,
    })
    if err != nil {
        _ = align.Close()
        return nil, err
    }
    return &Client{
        align:      align,
        embed:      embed,
        pipe:       pipeline.New(align, embed, log),
        reqTimeout: opts.RequestTimeout,
        log:        log,
    }, nil
}

// AlignFaces returns every face the alignment stage found in image, as
// encoded image blocks, possibly none.
func (c *Client) AlignFaces(ctx context.Context, image []byte) ([][]byte, error) {
    ctx, cancel := c.opCtx(ctx)
    defer cancel()
    p, err := c.align.Submit(image, protocol.ShapeBlockList)
    if err != nil {
        return nil, err
    }
    res, err := p.Wait(ctx)
    if err != nil {
        return nil, err
    }
    return res.Blocks, nil
}

// AlignFace requires the alignment stage to find exactly one face; any
// other count is a protocol violation, never a silently chosen element.
func (c *Client) AlignFace(ctx context.Context, image []byte) ([]byte, error) {
    ctx, cancel := c.opCtx(ctx)
    defer cancel()
    p, err := c.align.Submit(image, protocol.ShapeSingleBlock)
    if err != nil {
        return nil, err
    }
    res, err := p.Wait(ctx)
    if err != nil {
        return nil, err
    }
    return res.Blocks[0], nil
}

// Embed returns the embedding vector for an already aligned face.
func (c *Client) Embed(ctx context.Context, face []byte) ([]float32, error) {
    ctx, cancel := c.opCtx(ctx)
    defer cancel()
    p, err := c.embed.Submit(face, protocol.ShapeVector)
    if err != nil {
        return nil, err
    }
    res, err := p.Wait(ctx)
    if err != nil {
        return nil, err
    }
    return res.Vector, nil
}

// ProcessImage runs alignment and, on success, embedding, returning the
// final vector. An alignment failure short-circuits.
func (c *Client) ProcessImage(ctx context.Context, image []byte) ([]float32, error) {
    ctx, cancel := c.opCtx(ctx)
    defer cancel()
    return c.pipe.Process(ctx, image)
}

// Close closes both stage sessions. Requests still in flight resolve
// with ErrSessionClosed.
func (c *Client) Close() error {
    return errors.Join(c.align.Close(), c.embed.Close())
}

func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
    if c.reqTimeout > 0 {
        if _, ok := ctx.Deadline(); !ok {
            return context.WithTimeout(ctx, c.reqTimeout)
        }
    }
    return context.WithCancel(ctx)
}
