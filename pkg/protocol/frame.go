// Package protocol implements the binary wire format spoken by the face
// processing stages: a big-endian correlation id followed by an opaque
// payload on requests, and two response layouts (block list and float
// vector) matched back to the request by the id.
package protocol

import (
    "encoding/binary"
    "fmt"
    "math"
)

// Wire sizes. All integers are big-endian. Requests carry no payload
// length; the transport preserves message boundaries, so the payload is
// simply the remainder of the frame.
const (
    idSize    = 8
    countSize = 4
    lenSize   = 4
    floatSize = 4

    // maxBlockBytes guards against absurd declared sizes
    maxBlockBytes = 1 << 31
)

// MalformedFrameError reports a response frame whose declared counts or
// lengths do not match the bytes actually present, or a block count that
// violates the arity the caller declared.
type MalformedFrameError struct {
    Reason string
}

func (e *MalformedFrameError) Error() string { return "malformed frame: " + e.Reason }

func malformed(format string, args ...any) error {
    return &MalformedFrameError{Reason: fmt.Sprintf(format, args...)}
}

// EncodeRequest frames a request as id(8) || payload.
func EncodeRequest(id uint64, payload []byte) []byte {
    out := make([]byte, idSize+len(payload))
    binary.BigEndian.PutUint64(out[:idSize], id)
    copy(out[idSize:], payload)
    return out
}

// PeekID extracts the correlation id from a response frame without
// decoding the body. ok is false when the frame is too short to carry one;
// such frames cannot be attributed to any request.
func PeekID(buf []byte) (id uint64, ok bool) {
    if len(buf) < idSize {
        return 0, false
    }
    return binary.BigEndian.Uint64(buf[:idSize]), true
}

// DecodeBlocks parses a block-list response:
//
//  id(8) || count(4) || { len(4) || bytes } x count
//
// The returned blocks alias freshly allocated memory, never buf.
func DecodeBlocks(buf []byte) (uint64, [][]byte, error) {
    if len(buf) < idSize+countSize {
        return 0, nil, malformed("block list short: %d bytes", len(buf))
    }
    id := binary.BigEndian.Uint64(buf[:idSize])
    count := int(binary.BigEndian.Uint32(buf[idSize : idSize+countSize]))
    rest := buf[idSize+countSize:]
    if count*lenSize > len(rest) {
        return id, nil, malformed("block count %d exceeds %d remaining bytes", count, len(rest))
    }
    blocks := make([][]byte, 0, count)
    for i := 0; i < count; i++ {
        if len(rest) < lenSize {
            return id, nil, malformed("block %d/%d: missing length", i+1, count)
        }
        n := int(binary.BigEndian.Uint32(rest[:lenSize]))
        rest = rest[lenSize:]
        if n > maxBlockBytes || n > len(rest) {
            return id, nil, malformed("block %d/%d: declared %d bytes, %d remain", i+1, count, n, len(rest))
        }
        blocks = append(blocks, append([]byte(nil), rest[:n]...))
        rest = rest[n:]
    }
    if len(rest) != 0 {
        return id, nil, malformed("%d trailing bytes after %d blocks", len(rest), count)
    }
    return id, blocks, nil
}

// DecodeVector parses a vector response:
//
//  id(8) || byteLen(4) || byteLen bytes of big-endian IEEE-754 float32
//
// byteLen must be a multiple of the element size and fill the remainder
// of the frame exactly.
func DecodeVector(buf []byte) (uint64, []float32, error) {
    if len(buf) < idSize+lenSize {
        return 0, nil, malformed("vector short: %d bytes", len(buf))
    }
    id := binary.BigEndian.Uint64(buf[:idSize])
    n := int(binary.BigEndian.Uint32(buf[idSize : idSize+lenSize]))
    rest := buf[idSize+lenSize:]
    if n != len(rest) {
        return id, nil, malformed("vector declared %d bytes, %d remain", n, len(rest))
    }
    if n%floatSize != 0 {
        return id, nil, malformed("vector byte length %d not a multiple of %d", n, floatSize)
    }
    vec := make([]float32, n/floatSize)
    for i := range vec {
        vec[i] = math.Float32frombits(binary.BigEndian.Uint32(rest[i*floatSize:]))
    }
    return id, vec, nil
}

// EncodeBlocks frames a block-list response. The production stages emit
// the identical layout; this side is used by the stage simulator and tests.
func EncodeBlocks(id uint64, blocks [][]byte) []byte {
    total := idSize + countSize
    for _, b := range blocks {
        total += lenSize + len(b)
    }
    out := make([]byte, 0, total)
    out = binary.BigEndian.AppendUint64(out, id)
    out = binary.BigEndian.AppendUint32(out, uint32(len(blocks)))
    for _, b := range blocks {
        out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
        out = append(out, b...)
    }
    return out
}

// EncodeVector frames a vector response.
func EncodeVector(id uint64, vec []float32) []byte {
    out := make([]byte, 0, idSize+lenSize+len(vec)*floatSize)
    out = binary.BigEndian.AppendUint64(out, id)
    out = binary.BigEndian.AppendUint32(out, uint32(len(vec)*floatSize))
    for _, f := range vec {
        out = binary.BigEndian.AppendUint32(out, math.Float32bits(f))
    }
    return out
}
