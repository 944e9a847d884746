package clrmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

var errTruncated = errors.New("unexpected end of blob")

// stringAt reads a NUL-terminated #Strings entry.
func stringAt(heap []byte, index uint32) (string, error) {
	if index == 0 {
		return "", nil
	}
	if int(index) >= len(heap) {
		return "", fmt.Errorf("string index %d out of range", index)
	}
	end := bytes.IndexByte(heap[index:], 0)
	if end < 0 {
		return "", fmt.Errorf("string at %d is not terminated", index)
	}
	return string(heap[index : int(index)+end]), nil
}

// blobAt reads a length-prefixed #Blob entry.
func blobAt(heap []byte, index uint32) ([]byte, error) {
	if index == 0 {
		return nil, nil
	}
	if int(index) >= len(heap) {
		return nil, fmt.Errorf("blob index %d out of range", index)
	}
	n, size, err := decompress(heap[index:])
	if err != nil {
		return nil, fmt.Errorf("blob at %d: %w", index, err)
	}
	start := int(index) + size
	if start+int(n) > len(heap) {
		return nil, fmt.Errorf("blob at %d overruns the heap", index)
	}
	return heap[start : start+int(n)], nil
}

// decompress decodes an ECMA-335 II.23.2 compressed unsigned integer and
// returns it with the number of bytes consumed.
func decompress(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, errTruncated
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, errTruncated
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, errTruncated
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	default:
		return 0, 0, fmt.Errorf("invalid compressed integer lead byte 0x%02x", b[0])
	}
}

// blobReader walks a signature or custom attribute blob.
type blobReader struct {
	b   []byte
	pos int
}

func newBlobReader(b []byte) *blobReader { return &blobReader{b: b} }

func (r *blobReader) remaining() int { return len(r.b) - r.pos }

func (r *blobReader) need(n int) error {
	if r.remaining() < n {
		return errTruncated
	}
	return nil
}

func (r *blobReader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *blobReader) peek() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	return r.b[r.pos], nil
}

func (r *blobReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *blobReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *blobReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *blobReader) f32() (float32, error) {
	v, err := r.u32()
	return math.Float32frombits(v), err
}

func (r *blobReader) f64() (float64, error) {
	v, err := r.u64()
	return math.Float64frombits(v), err
}

func (r *blobReader) compressed() (uint32, error) {
	if r.pos >= len(r.b) {
		return 0, errTruncated
	}
	v, n, err := decompress(r.b[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// serString reads a SerString: 0xFF for null, otherwise a compressed
// length followed by UTF-8 bytes. ok is false for null.
func (r *blobReader) serString() (s string, ok bool, err error) {
	lead, err := r.peek()
	if err != nil {
		return "", false, err
	}
	if lead == 0xFF {
		r.pos++
		return "", false, nil
	}
	n, err := r.compressed()
	if err != nil {
		return "", false, err
	}
	if err := r.need(int(n)); err != nil {
		return "", false, err
	}
	raw := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	if !utf8.Valid(raw) {
		return "", false, fmt.Errorf("string argument is not valid UTF-8")
	}
	return string(raw), true, nil
}
