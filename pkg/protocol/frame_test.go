package protocol

import (
    "bytes"
    "encoding/binary"
    "errors"
    "math"
    "testing"
)

func TestEncodeRequestLayout(t *testing.T) {
    payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
    frame := EncodeRequest(0x0102030405060708, payload)
    if len(frame) != 8+len(payload) {
        t.Fatalf("frame length = %d", len(frame))
    }
    if got := binary.BigEndian.Uint64(frame[:8]); got != 0x0102030405060708 {
        t.Fatalf("id = %#x", got)
    }
    if !bytes.Equal(frame[8:], payload) {
        t.Fatalf("payload mismatch")
    }
}

func TestBlocksRoundTrip(t *testing.T) {
    blocks := [][]byte{
        []byte("first"),
        {},
        bytes.Repeat([]byte{0x7F}, 300),
    }
    frame := EncodeBlocks(42, blocks)

    id, got, err := DecodeBlocks(frame)
    if err != nil { t.Fatalf("decode: %v", err) }
    if id != 42 { t.Fatalf("id = %d", id) }
    if len(got) != len(blocks) { t.Fatalf("block count = %d", len(got)) }
    for i := range blocks {
        if !bytes.Equal(got[i], blocks[i]) {
            t.Fatalf("block %d mismatch", i)
        }
    }
}

func TestBlocksZeroCount(t *testing.T) {
    id, got, err := DecodeBlocks(EncodeBlocks(7, nil))
    if err != nil { t.Fatalf("decode: %v", err) }
    if id != 7 || len(got) != 0 {
        t.Fatalf("id=%d blocks=%d", id, len(got))
    }
}

func TestVectorRoundTrip(t *testing.T) {
    vec := []float32{0, 1, -1, 0.5, float32(math.Pi), math.MaxFloat32, math.SmallestNonzeroFloat32}
    frame := EncodeVector(9, vec)

    id, got, err := DecodeVector(frame)
    if err != nil { t.Fatalf("decode: %v", err) }
    if id != 9 { t.Fatalf("id = %d", id) }
    if len(got) != len(vec) { t.Fatalf("length = %d", len(got)) }
    for i := range vec {
        if math.Float32bits(got[i]) != math.Float32bits(vec[i]) {
            t.Fatalf("element %d: %v != %v", i, got[i], vec[i])
        }
    }
}

func TestDecodeBlocksMalformed(t *testing.T) {
    cases := map[string][]byte{
        "too short for id":   {1, 2, 3},
        "missing count":      EncodeRequest(1, nil),
        "count beyond frame": mutateCount(EncodeBlocks(1, [][]byte{[]byte("x")}), 50),
        "length beyond frame": func() []byte {
            f := EncodeBlocks(1, [][]byte{[]byte("abc")})
            binary.BigEndian.PutUint32(f[12:16], 1000)
            return f
        }(),
        "trailing bytes": append(EncodeBlocks(1, [][]byte{[]byte("abc")}), 0xFF),
    }
    for name, frame := range cases {
        _, _, err := DecodeBlocks(frame)
        var mfe *MalformedFrameError
        if !errors.As(err, &mfe) {
            t.Fatalf("%s: got %v, want MalformedFrameError", name, err)
        }
    }
}

func TestDecodeVectorMalformed(t *testing.T) {
    cases := map[string][]byte{
        "too short": {0, 0, 0, 0, 0, 0, 0, 1},
        "declared length mismatch": func() []byte {
            f := EncodeVector(1, []float32{1, 2})
            binary.BigEndian.PutUint32(f[8:12], 4)
            return f
        }(),
        "not multiple of element size": func() []byte {
            f := append(EncodeVector(1, []float32{1}), 0xAA)
            binary.BigEndian.PutUint32(f[8:12], 5)
            return f
        }(),
    }
    for name, frame := range cases {
        _, _, err := DecodeVector(frame)
        var mfe *MalformedFrameError
        if !errors.As(err, &mfe) {
            t.Fatalf("%s: got %v, want MalformedFrameError", name, err)
        }
    }
}

func TestPeekID(t *testing.T) {
    if _, ok := PeekID([]byte{1, 2, 3}); ok {
        t.Fatalf("short frame must not yield an id")
    }
    id, ok := PeekID(EncodeRequest(77, []byte("img")))
    if !ok || id != 77 {
        t.Fatalf("id=%d ok=%v", id, ok)
    }
}

func mutateCount(frame []byte, n uint32) []byte {
    binary.BigEndian.PutUint32(frame[8:12], n)
    return frame
}
