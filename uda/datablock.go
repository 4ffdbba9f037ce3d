// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import "fmt"

// maxDataRank bounds the dimension count accepted from a peer.
const maxDataRank = 64

// Dimension is one coordinate axis of a DataBlock. A compressed dimension
// carries its coordinates as a rule (Dim0/Diff or the run arrays) instead of
// Data; received dimensions are always uncompressed before they are returned.
type Dimension struct {
	DataType     DataType
	ErrorType    DataType
	ErrorModel   ErrorModel
	ErrAsymmetry bool
	ErrorParamN  int
	ErrParams    []float32
	DimN         int
	Compressed   bool
	Dim0         float64
	Diff         float64
	Method       int
	UDoms        int
	Units        string
	Label        string

	Data  any
	ErrHi any
	ErrLo any

	// Run arrays for methods 1 to 3.
	Sams []int
	Offs any
	Ints any
}

// NewDimension returns an uncompressed dimension holding data, which must be
// a slice of the storage type MakeVector uses for t.
func NewDimension(t DataType, data any) (Dimension, error) {
	n := VectorLen(data)
	if err := checkVector(t, data, n); err != nil {
		return Dimension{}, err
	}
	return Dimension{DataType: t, DimN: n, Data: data}, nil
}

// DataBlock is the unit of returned data: a typed element vector, optional
// error bars, one Dimension per rank and an opaque payload discriminated by
// OpaqueType.
type DataBlock struct {
	DataN        int
	Rank         int
	Order        int
	DataType     DataType
	ErrorType    DataType
	ErrorModel   ErrorModel
	ErrAsymmetry bool
	ErrorParamN  int
	ErrParams    []float32
	ErrCode      int
	SourceStatus int
	SignalStatus int
	DataUnits    string
	DataLabel    string
	DataDesc     string
	ErrorMsg     string
	OpaqueType   OpaqueType
	OpaqueCount  int

	Data  any
	ErrHi any
	ErrLo any
	Dims  []Dimension

	// Structures is set when OpaqueType is OpaqueStructures and the graph
	// has been received or attached for sending.
	Structures *StructuredData
	// XML holds the document when OpaqueType is OpaqueXMLDocument.
	XML string
	// XDRFile is the path of a spooled structure file held unopened for
	// forwarding (OpaqueXDRFile). The block owns the file.
	XDRFile string
	// XDRObject is a serialised structure object held unopened for
	// forwarding (OpaqueXDRObject).
	XDRObject []byte
}

// NewStructuredBlock returns a block carrying the elements of sd.
func NewStructuredBlock(sd *StructuredData) *DataBlock {
	return &DataBlock{
		DataType:    TypeCompound,
		DataN:       sd.Count(),
		Order:       -1,
		OpaqueType:  OpaqueStructures,
		OpaqueCount: 1,
		Structures:  sd,
	}
}

// NewDataBlock returns a rank 0 block holding data of type t.
func NewDataBlock(t DataType, data any) (*DataBlock, error) {
	n := VectorLen(data)
	if err := checkVector(t, data, n); err != nil {
		return nil, err
	}
	return &DataBlock{DataType: t, DataN: n, Data: data, Order: -1}, nil
}

// AddDimension appends d and raises the rank. The first call also sets the
// order to 0, the conventional time axis.
func (b *DataBlock) AddDimension(d Dimension) {
	if b.Order < 0 {
		b.Order = 0
	}
	b.Dims = append(b.Dims, d)
	b.Rank = len(b.Dims)
}

func (b *DataBlock) hasErrors() bool {
	return b.ErrorType != TypeUnknown || b.ErrorParamN > 0
}

// codeErrParams codes n error model parameters.
func codeErrParams(x *XDR, params *[]float32, n int) {
	if n <= 0 || x.Err() != nil {
		return
	}
	if x.Encoding() && len(*params) < n {
		x.Fail(newError(InsufficientData, "ErrParams", ClassSemantic,
			fmt.Sprintf("have %d error parameters, need %d", len(*params), n)))
		return
	}
	*params = each(x, *params, n, x.Float32)
}

// codeErrBar codes an error vector. Types that carry no numeric errors send
// nothing.
func codeErrBar(x *XDR, t DataType, v *any, n int) {
	if !t.IsNumeric() {
		return
	}
	x.Vector(t, v, n)
}

func checkErrParamN(x *XDR, n int, location string) {
	if x.Decoding() && (n < 0 || n > MaxErrParams) {
		x.Fail(newError(ErrorAllocatingHeap, location, ClassResource,
			fmt.Sprintf("error parameter count %d outside 0..%d", n, MaxErrParams)))
	}
}

func (b *DataBlock) codeHeader(x *XDR, version int) {
	x.Int(&b.DataN)
	x.Uint(&b.Rank)
	x.Int(&b.Order)
	enum32(x, &b.DataType)
	enum32(x, &b.ErrorType)
	enum32(x, &b.ErrorModel)
	x.Bool(&b.ErrAsymmetry)
	x.Int(&b.ErrorParamN)
	x.Int(&b.ErrCode)
	x.Int(&b.SourceStatus)
	x.Int(&b.SignalStatus)
	x.String(&b.DataUnits, StringLength)
	x.String(&b.DataLabel, StringLength)
	x.String(&b.DataDesc, StringLength)
	x.String(&b.ErrorMsg, StringLength)
	if version >= 3 {
		enum32(x, &b.OpaqueType)
		x.Int(&b.OpaqueCount)
	}
	checkErrParamN(x, b.ErrorParamN, "DataBlock")
	if x.Decoding() && x.Err() == nil && (b.Rank > maxDataRank || b.DataN < 0) {
		x.Fail(newError(ErrorAllocatingHeap, "DataBlock", ClassResource,
			fmt.Sprintf("cannot size block of %d elements and rank %d", b.DataN, b.Rank)))
	}
}

func (b *DataBlock) codeData(x *XDR) {
	switch {
	case b.DataType == TypeCompound:
	case b.DataType.Transferable():
		x.Vector(b.DataType, &b.Data, b.DataN)
	default:
		x.Fail(newError(UnknownDataType, "DataBlock", ClassSemantic,
			fmt.Sprintf("cannot transfer data of type %s", b.DataType)))
	}
	if !b.hasErrors() {
		return
	}
	codeErrParams(x, &b.ErrParams, b.ErrorParamN)
	codeErrBar(x, b.ErrorType, &b.ErrHi, b.DataN)
	if b.ErrAsymmetry {
		codeErrBar(x, b.ErrorType, &b.ErrLo, b.DataN)
	}
}

func (d *Dimension) codeHeader(x *XDR) {
	enum32(x, &d.DataType)
	enum32(x, &d.ErrorType)
	enum32(x, &d.ErrorModel)
	x.Bool(&d.ErrAsymmetry)
	x.Int(&d.ErrorParamN)
	x.Int(&d.DimN)
	x.Bool(&d.Compressed)
	x.Float64(&d.Dim0)
	x.Float64(&d.Diff)
	x.Int(&d.Method)
	x.Uint(&d.UDoms)
	x.String(&d.Units, StringLength)
	x.String(&d.Label, StringLength)
	checkErrParamN(x, d.ErrorParamN, "Dimension")
	if x.Decoding() && x.Err() == nil && (d.DimN < 0 || d.DimN > maxVectorElements || d.UDoms > maxVectorElements) {
		x.Fail(newError(ErrorAllocatingHeap, "Dimension", ClassResource,
			fmt.Sprintf("cannot size dimension of %d elements", d.DimN)))
	}
}

func (d *Dimension) codeData(x *XDR) {
	if !d.Compressed {
		if !d.DataType.Transferable() || d.DataType == TypeCompound {
			x.Fail(newError(UnknownDataType, "Dimension", ClassSemantic,
				fmt.Sprintf("cannot transfer dimension of type %s", d.DataType)))
			return
		}
		x.Vector(d.DataType, &d.Data, d.DimN)
		return
	}
	switch d.Method {
	case CompressRuns:
		x.Ints(&d.Sams, d.UDoms)
		x.Vector(d.DataType, &d.Offs, d.UDoms)
		x.Vector(d.DataType, &d.Ints, d.UDoms)
	case CompressOffsets:
		x.Vector(d.DataType, &d.Offs, d.UDoms)
	case CompressSharedStride:
		x.Vector(d.DataType, &d.Offs, 1)
		x.Vector(d.DataType, &d.Ints, 1)
	}
}

func (d *Dimension) codeErrors(x *XDR) {
	codeErrParams(x, &d.ErrParams, d.ErrorParamN)
	codeErrBar(x, d.ErrorType, &d.ErrHi, d.DimN)
}

// codeDataBlock transfers one block. Types the negotiated version cannot
// carry are refused before anything is written, and after the header is
// decoded.
func codeDataBlock(x *XDR, b *DataBlock, version int) {
	if x.Err() != nil {
		return
	}
	if x.Encoding() {
		if err := guardTypes(version, "DataBlock", b.DataType, b.ErrorType); err != nil {
			x.Fail(err)
			return
		}
		if b.DataN > 0 && b.Rank > 0 {
			if len(b.Dims) < b.Rank {
				x.Fail(newError(InsufficientData, "DataBlock", ClassSemantic,
					fmt.Sprintf("rank %d block has %d dimensions", b.Rank, len(b.Dims))))
				return
			}
			for i := range b.Dims[:b.Rank] {
				if err := guardTypes(version, "Dimension", b.Dims[i].DataType, b.Dims[i].ErrorType); err != nil {
					x.Fail(err)
					return
				}
			}
		}
	}

	b.codeHeader(x, version)
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		if err := guardTypes(version, "DataBlock", b.DataType, b.ErrorType); err != nil {
			x.Fail(err)
			return
		}
	}
	if b.DataN == 0 {
		return
	}
	b.codeData(x)
	if b.Rank == 0 || x.Err() != nil {
		return
	}

	dims := b.Dims
	if x.Encoding() {
		// Compress copies so the caller's dimensions keep their arrays.
		dims = make([]Dimension, b.Rank)
		copy(dims, b.Dims)
		for i := range dims {
			Compress(&dims[i])
		}
	} else {
		dims = make([]Dimension, b.Rank)
	}
	for i := range dims {
		dims[i].codeHeader(x)
	}
	if x.Decoding() && x.Err() == nil {
		for i := range dims {
			if err := guardTypes(version, "Dimension", dims[i].DataType, dims[i].ErrorType); err != nil {
				x.Fail(err)
				return
			}
			// An axis never holds more points than the block it describes,
			// which bounds what a compressed dimension expands to.
			if dims[i].DimN > b.DataN {
				x.Fail(newError(ErrorAllocatingHeap, "Dimension", ClassResource,
					fmt.Sprintf("dimension %d declares %d points for %d values", i, dims[i].DimN, b.DataN)))
				return
			}
		}
	}
	for i := range dims {
		dims[i].codeData(x)
	}
	if x.Decoding() && x.Err() == nil {
		for i := range dims {
			if err := Uncompress(&dims[i]); err != nil {
				x.Fail(err)
				return
			}
		}
	}
	for i := range dims {
		dims[i].codeErrors(x)
	}
	for i := range dims {
		if dims[i].ErrAsymmetry {
			codeErrBar(x, dims[i].ErrorType, &dims[i].ErrLo, dims[i].DimN)
		}
	}
	if x.Decoding() {
		b.Dims = dims
	}
}

// DataBlockList is the response envelope: one block per request, in request
// order.
type DataBlockList struct {
	Blocks []*DataBlock
}

// codeListCount codes the element count of a list message. Peers at version 7
// or below never see the count and always carry exactly one element.
func codeListCount(x *XDR, n *int, version int, location string) {
	if version <= 7 {
		if x.Encoding() && *n != 1 {
			x.Fail(newError(CodeEncodeFailed, location, ClassVersion,
				fmt.Sprintf("protocol version %d carries exactly one element, have %d", version, *n)))
			return
		}
		*n = 1
		return
	}
	x.Int(n)
	if x.Decoding() {
		x.checkCount(location, *n)
	}
}

func (l *DataBlockList) code(x *XDR, version int) {
	n := len(l.Blocks)
	codeListCount(x, &n, version, "DataBlockList")
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		l.Blocks = make([]*DataBlock, n)
	}
	for i := 0; i < n && x.Err() == nil; i++ {
		if x.Decoding() {
			l.Blocks[i] = &DataBlock{}
			codeDataBlock(x, l.Blocks[i], version)
			continue
		}
		b := l.Blocks[i]
		if b == nil {
			x.Fail(newError(InsufficientData, "DataBlockList", ClassSemantic, fmt.Sprintf("block %d is nil", i)))
			return
		}
		if version < 9 && b.DataType == TypeCapnp {
			downgraded := *b
			downgraded.DataType = TypeUnsignedChar
			b = &downgraded
		}
		codeDataBlock(x, b, version)
	}
}

// Elements returns the total element count across the list.
func (l *DataBlockList) Elements() int64 {
	var n int64
	for _, b := range l.Blocks {
		if b != nil {
			n += int64(b.DataN)
		}
	}
	return n
}
