// Package bus implements the request/reply message bus that sits between
// the REST façade and a module server: a tagged-union request or reply is
// framed as a sequence of length-delimited parts and carried over an
// in-process socket pair.
package bus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCodec is returned when a Frame cannot be decoded into a request or
// reply: a missing part, a truncated scalar, or an unknown discriminant.
var ErrCodec = errors.New("codec_error")

// Frame is an ordered sequence of byte-string parts. Part 0 is always the
// discriminant selecting the request or reply variant; parts 1..N carry the
// variant's fields in declaration order. Frame never owns a connection; it
// is pure data, built by a caller and handed to a Transport.
type Frame struct {
	Parts [][]byte
}

// more reports whether any part remains to decode. The original C++ bus
// treats a final part that does not clear zmq's RCVMORE flag as a framing
// bug; here that's equivalent to decoding past the end of Parts.
func (f *Frame) more() bool { return len(f.Parts) > 0 }

func (f *Frame) push(p []byte) { f.Parts = append(f.Parts, p) }

func (f *Frame) pop() ([]byte, error) {
	if len(f.Parts) == 0 {
		return nil, fmt.Errorf("%w: missing part", ErrCodec)
	}
	p := f.Parts[0]
	f.Parts = f.Parts[1:]
	return p, nil
}

// PushUint8 appends a single-byte discriminant or small scalar.
func (f *Frame) PushUint8(v uint8) { f.push([]byte{v}) }

// PushUint64 appends a fixed-width, little-host-byte-order scalar.
func (f *Frame) PushUint64(v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	f.push(b)
}

// PushInt64 appends a fixed-width signed scalar (durations, offsets).
func (f *Frame) PushInt64(v int64) { f.PushUint64(uint64(v)) }

// PushFloat64 appends an IEEE-754 scalar (utilization fractions, scales).
func (f *Frame) PushFloat64(v float64) {
	f.PushUint64(math.Float64bits(v))
}

// PushBool appends a one-byte boolean.
func (f *Frame) PushBool(v bool) {
	if v {
		f.PushUint8(1)
	} else {
		f.PushUint8(0)
	}
}

// PushString appends a length-delimited, unterminated byte string. The part
// itself carries its own length, so no internal length prefix is needed.
func (f *Frame) PushString(s string) { f.push([]byte(s)) }

// PushBytes appends a raw length-delimited payload (a JSON-encoded config,
// for instance).
func (f *Frame) PushBytes(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.push(cp)
}

// PushStrings appends a count part followed by one part per string. This is
// the value-semantics replacement (see SPEC_FULL.md §4.1) for the original
// bus's "owned pointer to a vector" parts: every element moves across as a
// value, never as a borrowed handle.
func (f *Frame) PushStrings(ss []string) {
	f.PushUint64(uint64(len(ss)))
	for _, s := range ss {
		f.PushString(s)
	}
}

// PushByteSlices appends a count part followed by one part per payload.
func (f *Frame) PushByteSlices(bs [][]byte) {
	f.PushUint64(uint64(len(bs)))
	for _, b := range bs {
		f.PushBytes(b)
	}
}

// PopUint8 removes and returns a single-byte scalar.
func (f *Frame) PopUint8() (uint8, error) {
	p, err := f.pop()
	if err != nil {
		return 0, err
	}
	if len(p) != 1 {
		return 0, fmt.Errorf("%w: expected 1 byte, got %d", ErrCodec, len(p))
	}
	return p[0], nil
}

// PopUint64 removes and returns a fixed-width scalar.
func (f *Frame) PopUint64() (uint64, error) {
	p, err := f.pop()
	if err != nil {
		return 0, err
	}
	if len(p) != 8 {
		return 0, fmt.Errorf("%w: expected 8 bytes, got %d", ErrCodec, len(p))
	}
	return binary.LittleEndian.Uint64(p), nil
}

// PopInt64 removes and returns a fixed-width signed scalar.
func (f *Frame) PopInt64() (int64, error) {
	v, err := f.PopUint64()
	return int64(v), err
}

// PopFloat64 removes and returns an IEEE-754 scalar.
func (f *Frame) PopFloat64() (float64, error) {
	v, err := f.PopUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// PopBool removes and returns a one-byte boolean.
func (f *Frame) PopBool() (bool, error) {
	v, err := f.PopUint8()
	return v != 0, err
}

// PopString removes and returns a raw byte string as a Go string.
func (f *Frame) PopString() (string, error) {
	p, err := f.pop()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// PopBytes removes and returns a raw payload.
func (f *Frame) PopBytes() ([]byte, error) {
	return f.pop()
}

// PopStrings removes a count part and that many string parts.
func (f *Frame) PopStrings() ([]string, error) {
	n, err := f.PopUint64()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := f.PopString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// PopByteSlices removes a count part and that many payload parts.
func (f *Frame) PopByteSlices() ([][]byte, error) {
	n, err := f.PopUint64()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		b, err := f.PopBytes()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Done returns ErrCodec if the frame was not fully consumed: the spec
// requires the final part to clear the "more" flag, i.e. decoding must
// exhaust every part exactly.
func (f *Frame) Done() error {
	if f.more() {
		return fmt.Errorf("%w: %d unconsumed part(s)", ErrCodec, len(f.Parts))
	}
	return nil
}
