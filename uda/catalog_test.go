// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogInitialTypes(t *testing.T) {
	c := NewCatalog()
	require.Equal(t, 3, c.Len())

	sarray, ok := c.Find(SArrayTypeName)
	require.True(t, ok)
	names := make([]string, len(sarray.Fields))
	for i, f := range sarray.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"count", "rank", "shape", "data", "type"}, names)
	assert.True(t, sarray.Fields[3].Pointer)
	assert.True(t, sarray.Fields[3].IsStructure())
	assert.Equal(t, MaxElementName, sarray.Fields[4].Count)

	_, ok = c.Find(EnumListTypeName + " *")
	assert.True(t, ok, "pointer marker is ignored")
	_, ok = c.Find("NOPE")
	assert.False(t, ok)
}

func TestCatalogDefineLayout(t *testing.T) {
	c := NewCatalog()
	point, err := c.Define("POINT", "test",
		ScalarField("flag", "", TypeChar),
		ScalarField("x", "", TypeDouble),
		ScalarField("n", "", TypeShort),
	)
	require.NoError(t, err)
	assert.Equal(t, 0, point.Fields[0].Offset)
	assert.Equal(t, 8, point.Fields[1].Offset)
	assert.Equal(t, 7, point.Fields[1].OffPad)
	assert.Equal(t, 16, point.Fields[2].Offset)
	assert.Equal(t, 24, point.Size, "padded to the widest alignment")

	line, err := c.Define("LINE", "test",
		StructField("ends", "", "POINT", 2),
		StringField("label", ""),
	)
	require.NoError(t, err)
	assert.Equal(t, 48, line.Fields[0].Size)
	assert.Equal(t, 48, line.Fields[1].Offset)
	assert.Equal(t, 56, line.Size)

	_, err = c.Define("LINE", "test")
	assert.Error(t, err)

	_, err = c.Define("BAD", "test", StructField("p", "", "MISSING", 1))
	assert.ErrorIs(t, err, &ProtocolError{Code: UnknownUserType})
}

func TestCatalogAddKeepsFirst(t *testing.T) {
	c := NewCatalog()
	first := &UserDefinedType{Name: "T", Size: 1}
	assert.True(t, c.Add(first))
	assert.False(t, c.Add(&UserDefinedType{Name: "T", Size: 2}))
	got, ok := c.Find("T")
	require.True(t, ok)
	assert.Same(t, first, got)

	other := newEmptyCatalog()
	other.Add(&UserDefinedType{Name: "T"})
	other.Add(&UserDefinedType{Name: "U"})
	assert.Equal(t, 1, c.Merge(other))
	assert.Equal(t, 5, c.Len())
}

func typeListRoundTrip(t *testing.T, in *Catalog) *Catalog {
	t.Helper()
	out := newEmptyCatalog()
	framedRoundTrip(t,
		func(x *XDR) { codeTypeList(x, in) },
		func(x *XDR) { codeTypeList(x, out) })
	return out
}

func TestTypeListRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 1000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			in := newEmptyCatalog()
			for i := 0; i < n; i++ {
				_, err := in.Define(fmt.Sprintf("T%d", i), "gen",
					ScalarField("id", "identifier", TypeInt),
					FixedArrayField("v", "values", TypeFloat, 3),
				)
				require.NoError(t, err)
			}
			out := typeListRoundTrip(t, in)
			require.Equal(t, n, out.Len())
			for i, want := range in.Types() {
				assert.Equal(t, want, out.Types()[i])
			}
		})
	}
}

func TestTypeListShapeAndImage(t *testing.T) {
	in := newEmptyCatalog()
	grid := CompoundField{Name: "grid", AtomicType: TypeDouble, Type: "double", Rank: 2, Count: 6, Shape: []int{2, 3}}
	def, err := in.Define("GRID", "test", grid)
	require.NoError(t, err)
	def.Image = []byte("struct GRID { double grid[3][2]; };")

	out := typeListRoundTrip(t, in)
	got, ok := out.Find("GRID")
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, got.Fields[0].Shape)
	assert.Equal(t, def.Image, got.Image)
}

func TestTypeListRejectsBadExtents(t *testing.T) {
	ranked := func(rank int) []int {
		shape := make([]int, rank)
		for i := range shape {
			shape[i] = 1
		}
		return shape
	}
	tests := []struct {
		name  string
		field CompoundField
		code  int
	}{
		{"negative count", StructField("leaves", "", "LEAF", -1), ErrorAllocatingHeap},
		{"huge count", FixedArrayField("v", "", TypeDouble, maxVectorElements+1), ErrorAllocatingHeap},
		{"negative rank", CompoundField{Name: "v", AtomicType: TypeInt, Type: "int", Rank: -1, Count: 1}, ErrorAllocatingHeap},
		{"rank too large", CompoundField{Name: "v", AtomicType: TypeInt, Type: "int", Rank: maxDataRank + 1, Count: 1, Shape: ranked(maxDataRank + 1)}, ErrorAllocatingHeap},
		{"negative extent", CompoundField{Name: "v", AtomicType: TypeInt, Type: "int", Rank: 2, Count: 6, Shape: []int{-2, -3}}, ErrorAllocatingHeap},
		{"shape disagrees with count", CompoundField{Name: "v", AtomicType: TypeInt, Type: "int", Rank: 2, Count: 5, Shape: []int{2, 3}}, InsufficientData},
		{"shape overflows", CompoundField{Name: "v", AtomicType: TypeInt, Type: "int", Rank: 2, Count: 0, Shape: []int{1 << 20, 1 << 20}}, ErrorAllocatingHeap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newEmptyCatalog()
			in.Add(&UserDefinedType{Class: TypeCompound, Name: "LEAF"})
			in.Add(&UserDefinedType{Class: TypeCompound, Name: "NODE", Fields: []CompoundField{tt.field}})

			var wire bytes.Buffer
			enc := NewPlainEncoder(&wire)
			codeTypeList(enc, in)
			require.NoError(t, enc.Err())

			out := newEmptyCatalog()
			dec := NewPlainDecoder(&wire)
			assert.NotPanics(t, func() { codeTypeList(dec, out) })
			require.Error(t, dec.Err())
			assert.ErrorIs(t, dec.Err(), &ProtocolError{Code: tt.code})
			assert.False(t, IsConnectionFatal(dec.Err()))
		})
	}
}

func TestCatalogDefineRejectsBadExtents(t *testing.T) {
	c := NewCatalog()
	_, err := c.Define("LEAF", "test", ScalarField("v", "", TypeInt))
	require.NoError(t, err)

	_, err = c.Define("TREE", "test", StructField("leaves", "", "LEAF", -1))
	assert.ErrorIs(t, err, &ProtocolError{Code: ErrorAllocatingHeap})
	_, err = c.Define("GRID", "test",
		CompoundField{Name: "g", AtomicType: TypeDouble, Type: "double", Rank: 2, Count: 7, Shape: []int{2, 3}})
	assert.ErrorIs(t, err, &ProtocolError{Code: InsufficientData})
	_, ok := c.Find("TREE")
	assert.False(t, ok)
}
