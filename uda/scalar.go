// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"errors"
	"fmt"
	"io"
	"math"

	xdr "github.com/davecgh/go-xdr/xdr2"
)

// maxVectorElements bounds element counts declared on the wire.
const maxVectorElements = 1 << 28

// decodeChunk is the most elements allocated ahead of the data that fills
// them. Longer vectors grow as their elements arrive.
const decodeChunk = 1 << 16

// Op is the direction of an XDR coder.
type Op int

const (
	OpEncode Op = iota
	OpDecode
)

// XDR is a symmetric coder: every method either writes the value it points
// at or overwrites it with the next decoded value. The first failure sticks
// and turns every later call into a no-op, so a message codec runs straight
// through and checks Err once.
type XDR struct {
	op  Op
	enc *xdr.Encoder
	dec *xdr.Decoder
	rr  *RecordReader
	rw  *RecordWriter
	err error
}

// Encoder returns a coder that writes records onto the stream.
func (s *Stream) Encoder() *XDR {
	return &XDR{op: OpEncode, enc: xdr.NewEncoder(s.rw), rw: s.rw}
}

// Decoder returns a coder that reads records from the stream.
func (s *Stream) Decoder() *XDR {
	return &XDR{op: OpDecode, dec: xdr.NewDecoder(s.rr), rr: s.rr}
}

// NewPlainEncoder returns a coder writing unframed XDR to w. Record
// operations on it are no-ops.
func NewPlainEncoder(w io.Writer) *XDR {
	return &XDR{op: OpEncode, enc: xdr.NewEncoder(w)}
}

// NewPlainDecoder returns a coder reading unframed XDR from r.
func NewPlainDecoder(r io.Reader) *XDR {
	return &XDR{op: OpDecode, dec: xdr.NewDecoder(r)}
}

// inline returns an unframed coder continuing the record open on x. Its
// failures must be copied back with Fail.
func (x *XDR) inline() *XDR {
	return &XDR{op: x.op, enc: x.enc, dec: x.dec, err: x.err}
}

// Decoding reports whether the coder reads.
func (x *XDR) Decoding() bool { return x.op == OpDecode }

// Encoding reports whether the coder writes.
func (x *XDR) Encoding() bool { return x.op == OpEncode }

// Framed reports whether the coder runs over record marking.
func (x *XDR) Framed() bool { return x.rr != nil || x.rw != nil }

// Err returns the first failure.
func (x *XDR) Err() error { return x.err }

// Fail records err unless a failure is already recorded.
func (x *XDR) Fail(err error) {
	if x.err == nil && err != nil {
		x.err = err
	}
}

func (x *XDR) ioFail(err error) {
	if err == nil || x.err != nil {
		return
	}
	code := CodeDecodeFailed
	if x.op == OpEncode {
		code = CodeEncodeFailed
	}
	x.err = wrapError(code, "xdr", ClassDesync, err)
}

// BeginRecord acquires the next inbound record. It does nothing when
// encoding or when the coder is not framed.
func (x *XDR) BeginRecord() {
	if x.err != nil || x.op != OpDecode || x.rr == nil {
		return
	}
	if err := x.rr.SkipRecord(); err != nil {
		if errors.Is(err, io.EOF) {
			x.err = err
			return
		}
		x.err = wrapError(CodeSkipRecord, "BeginRecord", ClassDesync, err)
	}
}

// EndRecord closes the outbound record. It does nothing when decoding or
// when the coder is not framed.
func (x *XDR) EndRecord(flush bool) {
	if x.err != nil || x.op != OpEncode || x.rw == nil {
		return
	}
	if err := x.rw.EndRecord(flush); err != nil {
		x.err = wrapError(CodeEndRecord, "EndRecord", ClassDesync, err)
	}
}

// Abort discards an unfinished outbound record after a failure. When part
// of the record already left, the sticky error is escalated to desync.
func (x *XDR) Abort() {
	if x.op != OpEncode || x.rw == nil {
		return
	}
	if err := x.rw.AbortRecord(); err != nil {
		x.err = wrapError(CodeEncodeFailed, "Abort", ClassDesync, fmt.Errorf("%w: %v", err, x.err))
	}
}

// Int32 codes a signed 32-bit integer.
func (x *XDR) Int32(v *int32) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		_, err := x.enc.EncodeInt(*v)
		x.ioFail(err)
		return
	}
	r, _, err := x.dec.DecodeInt()
	x.ioFail(err)
	*v = r
}

// Uint32 codes an unsigned 32-bit integer.
func (x *XDR) Uint32(v *uint32) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		_, err := x.enc.EncodeUint(*v)
		x.ioFail(err)
		return
	}
	r, _, err := x.dec.DecodeUint()
	x.ioFail(err)
	*v = r
}

// Int codes a Go int as a 32-bit XDR int.
func (x *XDR) Int(v *int) {
	if x.err != nil {
		return
	}
	t := int32(*v)
	if x.op == OpEncode && int(t) != *v {
		x.Fail(newError(CodeEncodeFailed, "Int", ClassSemantic, fmt.Sprintf("%d overflows int32", *v)))
		return
	}
	x.Int32(&t)
	*v = int(t)
}

// Uint codes a Go int as a 32-bit XDR unsigned int.
func (x *XDR) Uint(v *int) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode && (*v < 0 || *v > math.MaxUint32) {
		x.Fail(newError(CodeEncodeFailed, "Uint", ClassSemantic, fmt.Sprintf("%d overflows uint32", *v)))
		return
	}
	t := uint32(*v)
	x.Uint32(&t)
	*v = int(t)
}

// Int8 codes a char in one XDR word.
func (x *XDR) Int8(v *int8) {
	t := int32(*v)
	x.Int32(&t)
	if x.op == OpDecode && x.err == nil {
		if t < math.MinInt8 || t > math.MaxInt8 {
			x.Fail(newError(CodeDecodeFailed, "Int8", ClassSemantic, fmt.Sprintf("%d out of range for char", t)))
			return
		}
		*v = int8(t)
	}
}

// Uint8 codes an unsigned char in one XDR word.
func (x *XDR) Uint8(v *uint8) {
	t := uint32(*v)
	x.Uint32(&t)
	if x.op == OpDecode && x.err == nil {
		if t > math.MaxUint8 {
			x.Fail(newError(CodeDecodeFailed, "Uint8", ClassSemantic, fmt.Sprintf("%d out of range for unsigned char", t)))
			return
		}
		*v = uint8(t)
	}
}

// Int16 codes a short in one XDR word.
func (x *XDR) Int16(v *int16) {
	t := int32(*v)
	x.Int32(&t)
	if x.op == OpDecode && x.err == nil {
		if t < math.MinInt16 || t > math.MaxInt16 {
			x.Fail(newError(CodeDecodeFailed, "Int16", ClassSemantic, fmt.Sprintf("%d out of range for short", t)))
			return
		}
		*v = int16(t)
	}
}

// Uint16 codes an unsigned short in one XDR word.
func (x *XDR) Uint16(v *uint16) {
	t := uint32(*v)
	x.Uint32(&t)
	if x.op == OpDecode && x.err == nil {
		if t > math.MaxUint16 {
			x.Fail(newError(CodeDecodeFailed, "Uint16", ClassSemantic, fmt.Sprintf("%d out of range for unsigned short", t)))
			return
		}
		*v = uint16(t)
	}
}

// Long codes a LONG value, which travels as a 32-bit XDR int.
func (x *XDR) Long(v *int64) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode && (*v < math.MinInt32 || *v > math.MaxInt32) {
		x.Fail(newError(CodeEncodeFailed, "Long", ClassSemantic, fmt.Sprintf("%d does not fit a 32-bit long", *v)))
		return
	}
	t := int32(*v)
	x.Int32(&t)
	*v = int64(t)
}

// ULong codes an UNSIGNED LONG value, which travels as a 32-bit XDR uint.
func (x *XDR) ULong(v *uint64) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode && *v > math.MaxUint32 {
		x.Fail(newError(CodeEncodeFailed, "ULong", ClassSemantic, fmt.Sprintf("%d does not fit a 32-bit unsigned long", *v)))
		return
	}
	t := uint32(*v)
	x.Uint32(&t)
	*v = uint64(t)
}

// Hyper codes a 64-bit signed integer.
func (x *XDR) Hyper(v *int64) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		_, err := x.enc.EncodeHyper(*v)
		x.ioFail(err)
		return
	}
	r, _, err := x.dec.DecodeHyper()
	x.ioFail(err)
	*v = r
}

// UHyper codes a 64-bit unsigned integer.
func (x *XDR) UHyper(v *uint64) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		_, err := x.enc.EncodeUhyper(*v)
		x.ioFail(err)
		return
	}
	r, _, err := x.dec.DecodeUhyper()
	x.ioFail(err)
	*v = r
}

// Float32 codes an IEEE single.
func (x *XDR) Float32(v *float32) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		_, err := x.enc.EncodeFloat(*v)
		x.ioFail(err)
		return
	}
	r, _, err := x.dec.DecodeFloat()
	x.ioFail(err)
	*v = r
}

// Float64 codes an IEEE double.
func (x *XDR) Float64(v *float64) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		_, err := x.enc.EncodeDouble(*v)
		x.ioFail(err)
		return
	}
	r, _, err := x.dec.DecodeDouble()
	x.ioFail(err)
	*v = r
}

// String codes a length-prefixed string held in a field of the given
// capacity, terminator included. Longer strings are refused in both
// directions, and a decoded length is checked before anything is allocated.
func (x *XDR) String(v *string, capacity int) {
	if x.err != nil {
		return
	}
	limit := capacity - 1
	if x.op == OpEncode {
		if len(*v) > limit {
			x.Fail(newError(CodeEncodeFailed, "String", ClassSemantic,
				fmt.Sprintf("string of %d bytes exceeds capacity %d", len(*v), capacity)))
			return
		}
		_, err := x.enc.EncodeString(*v)
		x.ioFail(err)
		return
	}
	n, _, err := x.dec.DecodeUint()
	if err != nil {
		x.ioFail(err)
		return
	}
	if int64(n) > int64(limit) {
		x.Fail(newError(ErrorAllocatingHeap, "String", ClassResource,
			fmt.Sprintf("peer declared string of %d bytes, capacity %d", n, capacity)))
		return
	}
	b, _, err := x.dec.DecodeFixedOpaque(int32(n))
	x.ioFail(err)
	*v = string(b)
}

// FixedOpaque codes exactly n raw bytes plus padding.
func (x *XDR) FixedOpaque(v *[]byte, n int) {
	if x.err != nil {
		return
	}
	if n < 0 || n > math.MaxInt32 {
		x.Fail(newError(ErrorAllocatingHeap, "FixedOpaque", ClassResource, fmt.Sprintf("bad opaque length %d", n)))
		return
	}
	if x.op == OpEncode {
		if len(*v) < n {
			x.Fail(newError(InsufficientData, "FixedOpaque", ClassSemantic,
				fmt.Sprintf("have %d bytes, need %d", len(*v), n)))
			return
		}
		_, err := x.enc.EncodeFixedOpaque((*v)[:n])
		x.ioFail(err)
		return
	}
	b, _, err := x.dec.DecodeFixedOpaque(int32(n))
	x.ioFail(err)
	if b == nil {
		b = []byte{}
	}
	*v = b
}

// Chars codes n bytes as a vector of chars, one XDR word each.
func (x *XDR) Chars(v *[]byte, n int) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		if len(*v) < n {
			x.Fail(newError(InsufficientData, "Chars", ClassSemantic, fmt.Sprintf("have %d chars, need %d", len(*v), n)))
			return
		}
		for i := 0; i < n && x.err == nil; i++ {
			c := int8((*v)[i])
			x.Int8(&c)
		}
		return
	}
	if !x.checkCount("Chars", n) {
		return
	}
	out := make([]byte, 0, min(n, decodeChunk))
	for i := 0; i < n && x.err == nil; i++ {
		var c int8
		x.Int8(&c)
		out = append(out, byte(c))
	}
	*v = out
}

// Ints codes a vector of n ints, used for shapes.
func (x *XDR) Ints(v *[]int, n int) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		if len(*v) < n {
			x.Fail(newError(InsufficientData, "Ints", ClassSemantic, fmt.Sprintf("have %d ints, need %d", len(*v), n)))
			return
		}
		for i := 0; i < n && x.err == nil; i++ {
			x.Int(&(*v)[i])
		}
		return
	}
	if !x.checkCount("Ints", n) {
		return
	}
	out := make([]int, 0, min(n, decodeChunk))
	for i := 0; i < n && x.err == nil; i++ {
		var e int
		x.Int(&e)
		out = append(out, e)
	}
	*v = out
}

func (x *XDR) checkCount(location string, n int) bool {
	if n < 0 || n > maxVectorElements {
		x.Fail(newError(ErrorAllocatingHeap, location, ClassResource, fmt.Sprintf("cannot allocate %d elements", n)))
		return false
	}
	return true
}

// Vector codes n elements of type t held in the slice type MakeVector
// returns. On decode a fresh slice of exactly n elements is allocated.
func (x *XDR) Vector(t DataType, v *any, n int) {
	if x.err != nil {
		return
	}
	if x.op == OpEncode {
		if err := checkVector(t, *v, n); err != nil {
			x.Fail(err)
			return
		}
		if n == 0 {
			return
		}
	} else {
		if !x.checkCount("Vector", n) {
			return
		}
		buf, err := MakeVector(t, 0)
		if err != nil {
			x.Fail(err)
			return
		}
		*v = buf
	}
	switch s := (*v).(type) {
	case []int8:
		*v = each(x, s, n, x.Int8)
	case []int16:
		*v = each(x, s, n, x.Int16)
	case []int32:
		*v = each(x, s, n, x.Int32)
	case []uint32:
		*v = each(x, s, n, x.Uint32)
	case []int64:
		if t == TypeLong {
			*v = each(x, s, n, x.Long)
		} else {
			*v = each(x, s, n, x.Hyper)
		}
	case []uint64:
		if t == TypeUnsignedLong {
			*v = each(x, s, n, x.ULong)
		} else {
			*v = each(x, s, n, x.UHyper)
		}
	case []float32:
		*v = each(x, s, n, x.Float32)
	case []float64:
		*v = each(x, s, n, x.Float64)
	case []uint8:
		if t == TypeUnsignedChar {
			*v = each(x, s, n, x.Uint8)
		} else {
			*v = each(x, s, n, x.char)
		}
	case []uint16:
		*v = each(x, s, n, x.Uint16)
	case []complex64:
		*v = each(x, s, n, x.Complex64)
	case []complex128:
		*v = each(x, s, n, x.Complex128)
	default:
		x.Fail(newError(UnknownDataType, "Vector", ClassSemantic, fmt.Sprintf("cannot code %s", t)))
	}
}

// each codes n elements of s and returns the slice holding them. On decode s
// is ignored and the result grows as elements arrive, so a declared count
// never allocates far ahead of the data behind it.
func each[T any](x *XDR, s []T, n int, code func(*T)) []T {
	if x.op == OpEncode {
		for i := 0; i < n && x.err == nil; i++ {
			code(&s[i])
		}
		return s
	}
	out := make([]T, 0, min(n, decodeChunk))
	for i := 0; i < n && x.err == nil; i++ {
		var e T
		code(&e)
		out = append(out, e)
	}
	return out
}

// slot returns element i of *s. On decode *s is extended to hold it, so
// callers allocate no further ahead than the element being read.
func slot[T any](x *XDR, s *[]T, i int) *T {
	if x.op == OpDecode {
		for len(*s) <= i {
			var zero T
			*s = append(*s, zero)
		}
	}
	return &(*s)[i]
}

// char codes a byte of STRING data as a signed char word.
func (x *XDR) char(v *uint8) {
	c := int8(*v)
	x.Int8(&c)
	*v = uint8(c)
}

// Complex64 codes a COMPLEX value as two floats.
func (x *XDR) Complex64(v *complex64) {
	re, im := real(*v), imag(*v)
	x.Float32(&re)
	x.Float32(&im)
	*v = complex(re, im)
}

// Complex128 codes a DCOMPLEX value as two doubles.
func (x *XDR) Complex128(v *complex128) {
	re, im := real(*v), imag(*v)
	x.Float64(&re)
	x.Float64(&im)
	*v = complex(re, im)
}

// Scalar codes a single value of type t, held as a one-element vector.
func (x *XDR) Scalar(t DataType, v *any) {
	x.Vector(t, v, 1)
}

// Bool codes a flag as an XDR int. Any non-zero value decodes as true.
func (x *XDR) Bool(v *bool) {
	var t int32
	if *v {
		t = 1
	}
	x.Int32(&t)
	*v = t != 0
}

// enum32 codes any int32-backed enumeration.
func enum32[T ~int32](x *XDR, v *T) {
	t := int32(*v)
	x.Int32(&t)
	*v = T(t)
}
