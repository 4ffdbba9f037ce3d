// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Schema metadata keys set by ToArrow.
const (
	ArrowMetaDataType = "uda.data_type"
	ArrowMetaUnits    = "uda.units"
	ArrowMetaLabel    = "uda.label"
	ArrowMetaDesc     = "uda.description"
	ArrowMetaRank     = "uda.rank"
	ArrowMetaOrder    = "uda.order"
)

// ToArrow converts a numeric or STRING block into a record batch with one
// row per element. The first column holds the data; each dimension adds a
// column with the coordinate of every element along that axis. Dimension 0
// varies fastest. For STRING blocks of rank 1 or more, dimension 0 is the
// character axis and each row holds one string.
func ToArrow(b *DataBlock) (arrow.RecordBatch, error) {
	if b.DataType == TypeCompound || b.OpaqueType != OpaqueUnknown {
		return nil, newError(UnknownDataType, "ToArrow", ClassSemantic,
			fmt.Sprintf("%s block with opaque type %s has no tabular form", b.DataType, b.OpaqueType))
	}
	if b.Rank != len(b.Dims) {
		return nil, newError(InsufficientData, "ToArrow", ClassSemantic,
			fmt.Sprintf("rank %d with %d dimensions", b.Rank, len(b.Dims)))
	}
	mem := memory.NewGoAllocator()

	axes := b.Dims
	var data arrow.Array
	var err error
	if b.DataType == TypeString {
		data, axes, err = stringColumn(mem, b)
	} else {
		data, err = vectorArray(mem, b.DataType, b.Data, nil)
	}
	if err != nil {
		return nil, err
	}
	defer data.Release()
	rows := data.Len()

	want := 1
	for _, d := range axes {
		want *= d.DimN
	}
	if len(axes) > 0 && want != rows {
		return nil, newError(InsufficientData, "ToArrow", ClassSemantic,
			fmt.Sprintf("dimensions span %d elements, block holds %d", want, rows))
	}

	fields := []arrow.Field{{
		Name:     "data",
		Type:     data.DataType(),
		Metadata: arrow.NewMetadata([]string{ArrowMetaUnits, ArrowMetaLabel}, []string{b.DataUnits, b.DataLabel}),
	}}
	cols := []arrow.Array{data}
	stride := 1
	for i, d := range axes {
		idx := make([]int, rows)
		for k := range idx {
			idx[k] = (k / stride) % d.DimN
		}
		stride *= d.DimN
		col, err := vectorArray(mem, d.DataType, d.Data, idx)
		if err != nil {
			return nil, err
		}
		defer col.Release()
		name := d.Label
		if name == "" {
			name = "dim" + strconv.Itoa(i)
		}
		fields = append(fields, arrow.Field{
			Name:     name,
			Type:     col.DataType(),
			Metadata: arrow.NewMetadata([]string{ArrowMetaUnits, ArrowMetaLabel}, []string{d.Units, d.Label}),
		})
		cols = append(cols, col)
	}

	meta := arrow.NewMetadata(
		[]string{ArrowMetaDataType, ArrowMetaUnits, ArrowMetaLabel, ArrowMetaDesc, ArrowMetaRank, ArrowMetaOrder},
		[]string{b.DataType.String(), b.DataUnits, b.DataLabel, b.DataDesc, strconv.Itoa(b.Rank), strconv.Itoa(b.Order)},
	)
	schema := arrow.NewSchema(fields, &meta)
	return array.NewRecordBatch(schema, cols, int64(rows)), nil
}

// WriteArrow writes b as a complete Arrow IPC stream.
func WriteArrow(w io.Writer, b *DataBlock) error {
	batch, err := ToArrow(b)
	if err != nil {
		return err
	}
	defer batch.Release()
	writer := ipc.NewWriter(w, ipc.WithSchema(batch.Schema()))
	if err := writer.Write(batch); err != nil {
		writer.Close()
		return fmt.Errorf("writing arrow batch: %w", err)
	}
	return writer.Close()
}

// stringColumn splits STRING data into rows along the character axis.
func stringColumn(mem memory.Allocator, b *DataBlock) (arrow.Array, []Dimension, error) {
	chars, ok := b.Data.([]uint8)
	if !ok && b.DataN > 0 {
		return nil, nil, newError(UnknownDataType, "ToArrow", ClassSemantic, fmt.Sprintf("STRING data held as %T", b.Data))
	}
	width := len(chars)
	axes := b.Dims
	if b.Rank > 0 {
		width = b.Dims[0].DimN
		axes = b.Dims[1:]
	}
	bld := array.NewStringBuilder(mem)
	defer bld.Release()
	if width > 0 {
		for off := 0; off+width <= len(chars); off += width {
			s := string(chars[off : off+width])
			if i := strings.IndexByte(s, 0); i >= 0 {
				s = s[:i]
			}
			bld.Append(s)
		}
	}
	return bld.NewArray(), axes, nil
}

// vectorArray builds an array from element storage. A non-nil idx gathers
// the elements at those positions.
func vectorArray(mem memory.Allocator, t DataType, v any, idx []int) (arrow.Array, error) {
	switch s := v.(type) {
	case []int8:
		b := array.NewInt8Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []int16:
		b := array.NewInt16Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []int32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []uint8:
		b := array.NewUint8Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []uint16:
		b := array.NewUint16Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []uint32:
		b := array.NewUint32Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []uint64:
		b := array.NewUint64Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []float32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(gather(s, idx), nil)
		return b.NewArray(), nil
	case []complex64:
		b := array.NewFixedSizeListBuilder(mem, 2, arrow.PrimitiveTypes.Float32)
		defer b.Release()
		vb := b.ValueBuilder().(*array.Float32Builder)
		for _, c := range gather(s, idx) {
			b.Append(true)
			vb.Append(real(c))
			vb.Append(imag(c))
		}
		return b.NewArray(), nil
	case []complex128:
		b := array.NewFixedSizeListBuilder(mem, 2, arrow.PrimitiveTypes.Float64)
		defer b.Release()
		vb := b.ValueBuilder().(*array.Float64Builder)
		for _, c := range gather(s, idx) {
			b.Append(true)
			vb.Append(real(c))
			vb.Append(imag(c))
		}
		return b.NewArray(), nil
	case nil:
		if storage, err := MakeVector(t, 0); err == nil {
			return vectorArray(mem, t, storage, idx)
		}
	}
	return nil, newError(UnknownDataType, "ToArrow", ClassSemantic, fmt.Sprintf("%s data held as %T", t, v))
}

func gather[T any](s []T, idx []int) []T {
	if idx == nil {
		return s
	}
	out := make([]T, len(idx))
	for i, k := range idx {
		if k < len(s) {
			out[i] = s[k]
		}
	}
	return out
}
