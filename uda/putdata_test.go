// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putRoundTrip(t *testing.T, in *PutDataBlockList, cat *Catalog, version int) *PutDataBlockList {
	t.Helper()
	out := &PutDataBlockList{}
	recordRoundTrip(t,
		func(x *XDR) { in.code(x, nil, version) },
		func(x *XDR) { out.code(x, cat, version) })
	return out
}

func TestPutDataBlockListArrays(t *testing.T) {
	ints, err := NewPutDataBlock(TypeInt, "ints", []int32{7, 8, 9})
	require.NoError(t, err)
	doubles, err := NewPutDataBlock(TypeDouble, "", []float64{0.5, 1.5})
	require.NoError(t, err)
	doubles.Rank = 2
	doubles.Shape = []int{1, 2}

	in := &PutDataBlockList{}
	in.Add(ints)
	in.Add(doubles)
	out := putRoundTrip(t, in, nil, ProtocolVersion)

	require.Len(t, out.Blocks, 2)
	assert.Equal(t, "ints", out.Blocks[0].BlockName)
	assert.Equal(t, 3, out.Blocks[0].Count)
	assert.Equal(t, []int32{7, 8, 9}, out.Blocks[0].Data)
	assert.Equal(t, []int{3}, out.Blocks[0].Shape)
	assert.Equal(t, []int{1, 2}, out.Blocks[1].Shape)
	assert.Equal(t, []float64{0.5, 1.5}, out.Blocks[1].Data)
	assert.Empty(t, out.Blocks[1].BlockName)
}

func TestPutDataBlockEmpty(t *testing.T) {
	in := &PutDataBlockList{Blocks: []*PutDataBlock{{DataType: TypeFloat}}}
	out := putRoundTrip(t, in, nil, ProtocolVersion)
	require.Len(t, out.Blocks, 1)
	assert.Zero(t, out.Blocks[0].Count)
	assert.Nil(t, out.Blocks[0].Data)
}

func TestPutDataBlockStructures(t *testing.T) {
	sd := buildItems(t, itemCatalog(t), 4)
	in := &PutDataBlockList{}
	in.Add(NewPutStructuredBlock("items", sd))

	cat := NewCatalog()
	out := putRoundTrip(t, in, cat, ProtocolVersion)
	defer out.Release()

	require.Len(t, out.Blocks, 1)
	b := out.Blocks[0]
	assert.Equal(t, TypeCompound, b.DataType)
	assertItems(t, b.Structures, 4)
	_, ok := cat.Find("ITEM")
	assert.True(t, ok, "received definitions are merged into the connection catalog")
}

func TestPutDataBlockVersionGuard(t *testing.T) {
	b, err := NewPutDataBlock(TypeUnsignedChar, "", []uint8{1, 2})
	require.NoError(t, err)
	in := &PutDataBlockList{Blocks: []*PutDataBlock{b}}

	x := NewStream(nil, discardWriter{}).Encoder()
	in.code(x, nil, 2)
	require.Error(t, x.Err())
	assert.ErrorIs(t, x.Err(), ErrVersion)
}

func TestPutDataBlockStructuredWithoutGraph(t *testing.T) {
	in := &PutDataBlockList{Blocks: []*PutDataBlock{{DataType: TypeCompound, OpaqueType: OpaqueStructures, Count: 1}}}
	x := NewStream(nil, discardWriter{}).Encoder()
	in.code(x, nil, ProtocolVersion)
	var pe *ProtocolError
	require.ErrorAs(t, x.Err(), &pe)
	assert.Equal(t, InconsistentSArrayCount, pe.Code)
}
