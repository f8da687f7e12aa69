// Package store persists computed embeddings on disk, keyed by the
// blake3 hash of the source image. A repeat image skips both stage
// round-trips entirely. Records are CBOR files, one per image.
package store

import (
    "encoding/hex"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "github.com/fxamacker/cbor/v2"
    "github.com/zeebo/blake3"
    "go.uber.org/zap"
)

// ErrNotFound reports a cache miss.
var ErrNotFound = errors.New("store: embedding not found")

// Record is one cached embedding.
type Record struct {
    Key       string    `cbor:"key"`
    Dim       int       `cbor:"dim"`
    Embedding []float32 `cbor:"embedding"`
    CreatedAt time.Time `cbor:"created_at"`
}

// Store is a directory of embedding records. Concurrent readers are fine;
// concurrent writers of the same image race benignly (last write wins,
// both wrote the same content-derived key).
type Store struct {
    dir string
    enc cbor.EncMode
    log *zap.Logger
}

// Open creates dir if needed and returns a store over it.
func Open(dir string, log *zap.Logger) (*Store, error) {
    if log == nil {
        log = zap.L()
    }
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return nil, fmt.Errorf("store: create %s: %w", dir, err)
    }
    enc, err := cbor.CanonicalEncOptions().EncMode()
    if err != nil {
        return nil, err
    }
    return &Store{dir: dir, enc: enc, log: log}, nil
}

// Key returns the content address for an image.
func Key(image []byte) string {
    sum := blake3.Sum256(image)
    return hex.EncodeToString(sum[:])
}

// Put writes the embedding for image and returns its key.
func (s *Store) Put(image []byte, embedding []float32) (string, error) {
    key := Key(image)
    rec := Record{
        Key:       key,
        Dim:       len(embedding),
        Embedding: embedding,
        CreatedAt: time.Now().UTC(),
    }
    data, err := s.enc.Marshal(rec)
    if err != nil {
        return "", fmt.Errorf("store: encode %s: %w", key, err)
    }
    tmp := s.path(key) + ".tmp"
    if err := os.WriteFile(tmp, data, 0o644); err != nil {
        return "", err
    }
    if err := os.Rename(tmp, s.path(key)); err != nil {
        return "", err
    }
    s.log.Debug("embedding cached", zap.String("key", key), zap.Int("dim", rec.Dim))
    return key, nil
}

// Get returns the cached embedding for image, or ErrNotFound.
func (s *Store) Get(image []byte) ([]float32, error) {
    rec, err := s.Lookup(Key(image))
    if err != nil {
        return nil, err
    }
    return rec.Embedding, nil
}

// Lookup reads a record by key, or ErrNotFound.
func (s *Store) Lookup(key string) (*Record, error) {
    data, err := os.ReadFile(s.path(key))
    if errors.Is(err, os.ErrNotExist) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    var rec Record
    if err := cbor.Unmarshal(data, &rec); err != nil {
        return nil, fmt.Errorf("store: decode %s: %w", key, err)
    }
    return &rec, nil
}

func (s *Store) path(key string) string {
    return filepath.Join(s.dir, key+".cbor")
}
