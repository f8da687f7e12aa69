package store

import (
    "errors"
    "math"
    "testing"

    "go.uber.org/zap"
)

func TestPutGetRoundTrip(t *testing.T) {
    s, err := Open(t.TempDir(), zap.NewNop())
    if err != nil { t.Fatalf("open: %v", err) }

    image := []byte("portrait-bytes")
    embedding := []float32{0.25, -1, 0, float32(math.Pi)}

    key, err := s.Put(image, embedding)
    if err != nil { t.Fatalf("put: %v", err) }
    if key != Key(image) {
        t.Fatalf("key mismatch: %s", key)
    }

    got, err := s.Get(image)
    if err != nil { t.Fatalf("get: %v", err) }
    if len(got) != len(embedding) {
        t.Fatalf("length = %d", len(got))
    }
    for i := range embedding {
        if math.Float32bits(got[i]) != math.Float32bits(embedding[i]) {
            t.Fatalf("element %d: %v != %v", i, got[i], embedding[i])
        }
    }

    rec, err := s.Lookup(key)
    if err != nil { t.Fatalf("lookup: %v", err) }
    if rec.Dim != len(embedding) || rec.CreatedAt.IsZero() {
        t.Fatalf("record metadata: %+v", rec)
    }
}

func TestGetMiss(t *testing.T) {
    s, err := Open(t.TempDir(), zap.NewNop())
    if err != nil { t.Fatalf("open: %v", err) }
    if _, err := s.Get([]byte("never seen")); !errors.Is(err, ErrNotFound) {
        t.Fatalf("got %v, want ErrNotFound", err)
    }
}

func TestKeyIsContentAddressed(t *testing.T) {
    if Key([]byte("a")) == Key([]byte("b")) {
        t.Fatalf("distinct images share a key")
    }
    if Key([]byte("a")) != Key([]byte("a")) {
        t.Fatalf("key not deterministic")
    }
}
