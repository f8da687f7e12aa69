// Package pipeline chains the two stage round-trips behind one call: the
// alignment stage's single face block becomes the embedding stage's
// request. The intermediate block never surfaces to the caller.
package pipeline

import (
    "context"
    "fmt"

    "go.uber.org/zap"

    "github.com/highcansavci/face-detection-recognition-ws/pkg/protocol"
    "github.com/highcansavci/face-detection-recognition-ws/pkg/session"
)

// Pipeline composes an alignment session and an embedding session. The
// sessions share nothing but the value handed from one to the other; each
// keeps its own connection and pending table.
type Pipeline struct {
    align *session.Session
    embed *session.Session
    log   *zap.Logger
}

func New(align, embed *session.Session, log *zap.Logger) *Pipeline {
    if log == nil {
        log = zap.L()
    }
    return &Pipeline{align: align, embed: embed, log: log}
}

// Process sends image through alignment and, only on success, feeds the
// aligned face to the embedding stage. An alignment failure propagates
// unchanged and the embedding stage is never contacted. Both waits honor
// ctx; while waiting only the calling goroutine is parked, no lock is
// held across either round-trip.
func (pl *Pipeline) Process(ctx context.Context, image []byte) ([]float32, error) {
    ap, err := pl.align.Submit(image, protocol.ShapeSingleBlock)
    if err != nil {
        return nil, fmt.Errorf("align: %w", err)
    }
    ares, err := ap.Wait(ctx)
    if err != nil {
        return nil, fmt.Errorf("align: %w", err)
    }
    face := ares.Blocks[0]
    pl.log.Debug("aligned face received, requesting embedding",
        zap.Uint64("align_id", ap.ID()), zap.Int("face_bytes", len(face)))

    ep, err := pl.embed.Submit(face, protocol.ShapeVector)
    if err != nil {
        return nil, fmt.Errorf("embed: %w", err)
    }
    eres, err := ep.Wait(ctx)
    if err != nil {
        return nil, fmt.Errorf("embed: %w", err)
    }
    return eres.Vector, nil
}
