// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bytes"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listRoundTrip(t *testing.T, in *DataBlockList, version int) *DataBlockList {
	t.Helper()
	out := &DataBlockList{}
	recordRoundTrip(t,
		func(x *XDR) { in.code(x, version) },
		func(x *XDR) { out.code(x, version) })
	return out
}

func TestDataBlockScalarArray(t *testing.T) {
	b, err := NewDataBlock(TypeInt, []int32{1, 2, 3, 4, 5})
	require.NoError(t, err)
	b.DataUnits = "V"
	b.DataLabel = "voltage"

	out := listRoundTrip(t, &DataBlockList{Blocks: []*DataBlock{b}}, ProtocolVersion)
	require.Len(t, out.Blocks, 1)
	got := out.Blocks[0]
	assert.Equal(t, TypeInt, got.DataType)
	assert.Equal(t, 5, got.DataN)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, got.Data)
	assert.Equal(t, "V", got.DataUnits)
	assert.Equal(t, "voltage", got.DataLabel)
	assert.Zero(t, got.Rank)
}

func TestDataBlockWithDimensionsAndErrors(t *testing.T) {
	data := make([]float64, 12)
	for i := range data {
		data[i] = float64(i) * 1.5
	}
	b, err := NewDataBlock(TypeDouble, data)
	require.NoError(t, err)
	b.ErrorType = TypeFloat
	b.ErrAsymmetry = true
	b.ErrorParamN = 2
	b.ErrParams = []float32{0.1, 0.2}
	b.ErrHi = make([]float32, 12)
	b.ErrLo = make([]float32, 12)
	for i := 0; i < 12; i++ {
		b.ErrHi.([]float32)[i] = float32(i)
		b.ErrLo.([]float32)[i] = -float32(i)
	}

	timeAxis, err := NewDimension(TypeInt, intRange(100, 5, 4))
	require.NoError(t, err)
	timeAxis.Units = "s"
	irregular, err := NewDimension(TypeFloat, []float32{0, 1, 4, 9.5, 10, 11.25, 20, 21, 22, 23, 24, 40})
	require.NoError(t, err)
	b.AddDimension(timeAxis)
	b.AddDimension(irregular)

	out := listRoundTrip(t, &DataBlockList{Blocks: []*DataBlock{b}}, ProtocolVersion)
	got := out.Blocks[0]
	assert.Equal(t, data, got.Data)
	assert.Equal(t, []float32{0.1, 0.2}, got.ErrParams)
	assert.Equal(t, b.ErrHi, got.ErrHi)
	assert.Equal(t, b.ErrLo, got.ErrLo)
	require.Len(t, got.Dims, 2)
	assert.Equal(t, 0, got.Order)

	// the regular axis travels compressed and arrives expanded
	assert.False(t, got.Dims[0].Compressed)
	assert.Equal(t, []int32{100, 105, 110, 115}, got.Dims[0].Data)
	assert.Equal(t, "s", got.Dims[0].Units)
	assert.Equal(t, irregular.Data, got.Dims[1].Data)

	// the sender's dimensions are not rewritten
	assert.False(t, b.Dims[0].Compressed)
}

func TestCompressedDimensionShrinksWire(t *testing.T) {
	build := func() *DataBlock {
		b, err := NewDataBlock(TypeInt, intRange(0, 1, 1000))
		require.NoError(t, err)
		d, err := NewDimension(TypeInt, intRange(0, 2, 1000))
		require.NoError(t, err)
		b.AddDimension(d)
		return b
	}
	var wire bytes.Buffer
	s := NewStream(&wire, &wire)
	x := s.Encoder()
	(&DataBlockList{Blocks: []*DataBlock{build()}}).code(x, ProtocolVersion)
	x.EndRecord(true)
	require.NoError(t, x.Err())
	// data vector plus headers only: the dimension costs no per-element words
	assert.Less(t, wire.Len(), 1000*4+1024)
}

func TestDataBlockZeroElementsStopsAfterHeader(t *testing.T) {
	b := &DataBlock{DataType: TypeDouble, Rank: 1, ErrorMsg: "no data"}
	out := listRoundTrip(t, &DataBlockList{Blocks: []*DataBlock{b}}, ProtocolVersion)
	got := out.Blocks[0]
	assert.Zero(t, got.DataN)
	assert.Nil(t, got.Data)
	assert.Equal(t, "no data", got.ErrorMsg)
}

func TestDataBlockListCounts(t *testing.T) {
	for _, n := range []int{0, 1, 1000} {
		in := &DataBlockList{}
		for i := 0; i < n; i++ {
			b, err := NewDataBlock(TypeInt, []int32{int32(i)})
			require.NoError(t, err)
			in.Blocks = append(in.Blocks, b)
		}
		out := listRoundTrip(t, in, ProtocolVersion)
		require.Len(t, out.Blocks, n)
		for i, b := range out.Blocks {
			assert.Equal(t, []int32{int32(i)}, b.Data)
		}
	}
}

func TestDataBlockListImplicitCount(t *testing.T) {
	b, err := NewDataBlock(TypeShort, []int16{3, 2, 1})
	require.NoError(t, err)
	out := listRoundTrip(t, &DataBlockList{Blocks: []*DataBlock{b}}, 7)
	require.Len(t, out.Blocks, 1)
	assert.Equal(t, []int16{3, 2, 1}, out.Blocks[0].Data)

	var wire bytes.Buffer
	x := NewPlainEncoder(&wire)
	(&DataBlockList{Blocks: []*DataBlock{b, b}}).code(x, 7)
	assert.Error(t, x.Err())
}

func TestDataBlockVersionGuard(t *testing.T) {
	b, err := NewDataBlock(TypeUnsignedShort, []uint16{1, 2})
	require.NoError(t, err)

	var wire bytes.Buffer
	s := NewStream(&wire, &wire)
	x := s.Encoder()
	(&DataBlockList{Blocks: []*DataBlock{b}}).code(x, 2)
	require.Error(t, x.Err())
	assert.ErrorIs(t, x.Err(), ErrVersion)
	assert.Equal(t, ClassVersion, Class(x.Err()))
	x.Abort()
	assert.Zero(t, s.Writer().Buffered(), "nothing of the refused block was written")
	assert.Zero(t, wire.Len())
}

func TestDataBlockCapnpDowngraded(t *testing.T) {
	b, err := NewDataBlock(TypeCapnp, []uint8{1, 2, 250})
	require.NoError(t, err)
	out := listRoundTrip(t, &DataBlockList{Blocks: []*DataBlock{b}}, ProtocolVersion)
	assert.Equal(t, TypeUnsignedChar, out.Blocks[0].DataType)
	assert.Equal(t, []uint8{1, 2, 250}, out.Blocks[0].Data)
	assert.Equal(t, TypeCapnp, b.DataType)
}

func TestDataBlockRankWithoutDimensions(t *testing.T) {
	b, err := NewDataBlock(TypeInt, []int32{1})
	require.NoError(t, err)
	b.Rank = 1

	var wire bytes.Buffer
	x := NewPlainEncoder(&wire)
	codeDataBlock(x, b, ProtocolVersion)
	require.Error(t, x.Err())
	assert.ErrorIs(t, x.Err(), &ProtocolError{Code: InsufficientData})
	assert.False(t, IsConnectionFatal(x.Err()))
}

func TestDataBlockDeclaredSizeNotAllocatedAhead(t *testing.T) {
	for _, dt := range []DataType{TypeDComplex, TypeString, TypeDouble} {
		t.Run(dt.String(), func(t *testing.T) {
			var wire bytes.Buffer
			enc := NewPlainEncoder(&wire)
			header := &DataBlock{DataN: maxVectorElements, DataType: dt, Order: -1}
			header.codeHeader(enc, ProtocolVersion)
			require.NoError(t, enc.Err())
			wire.Write(make([]byte, 64))

			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			got := &DataBlock{}
			dec := NewPlainDecoder(&wire)
			codeDataBlock(dec, got, ProtocolVersion)
			runtime.ReadMemStats(&after)

			require.Error(t, dec.Err(), "the payload ends long before the declared count")
			assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
		})
	}
}

func TestDataBlockDimensionLongerThanData(t *testing.T) {
	b, err := NewDataBlock(TypeInt, []int32{1, 2, 3})
	require.NoError(t, err)
	b.AddDimension(Dimension{DataType: TypeDouble, DimN: 1 << 27, Compressed: true, Method: CompressArithmetic, Diff: 1})

	var wire bytes.Buffer
	enc := NewPlainEncoder(&wire)
	codeDataBlock(enc, b, ProtocolVersion)
	require.NoError(t, enc.Err())

	got := &DataBlock{}
	dec := NewPlainDecoder(&wire)
	codeDataBlock(dec, got, ProtocolVersion)
	assert.ErrorIs(t, dec.Err(), &ProtocolError{Code: ErrorAllocatingHeap})
	assert.Nil(t, got.Dims)
}

func TestDataBlockDimensionTypesGuardedAtEveryVersion(t *testing.T) {
	tests := []struct {
		version int
		dim     DataType
	}{
		{2, TypeUnsignedInt},
		{3, TypeCompound},
		{5, TypeString},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("v%d %s", tt.version, tt.dim), func(t *testing.T) {
			b, err := NewDataBlock(TypeInt, []int32{1, 2, 3, 4})
			require.NoError(t, err)
			b.AddDimension(Dimension{DataType: tt.dim, DimN: 4})

			var wire bytes.Buffer
			enc := NewPlainEncoder(&wire)
			codeDataBlock(enc, b, tt.version)
			assert.ErrorIs(t, enc.Err(), ErrVersion)
			assert.Zero(t, wire.Len(), "nothing is written")
		})
	}
}
