// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import "fmt"

// PutDataBlock is one array a client writes to the server with a put
// request. A COMPOUND block with OpaqueStructures carries a structure graph
// instead of Data.
type PutDataBlock struct {
	DataType    DataType
	Rank        int
	Count       int
	Shape       []int
	OpaqueType  OpaqueType
	OpaqueCount int
	BlockName   string

	Data       any
	Structures *StructuredData
}

// NewPutDataBlock returns a rank 1 block holding data of type t.
func NewPutDataBlock(t DataType, name string, data any) (*PutDataBlock, error) {
	n := VectorLen(data)
	if err := checkVector(t, data, n); err != nil {
		return nil, err
	}
	return &PutDataBlock{DataType: t, Rank: 1, Count: n, Shape: []int{n}, BlockName: name, Data: data}, nil
}

// NewPutStructuredBlock returns a block carrying the elements of sd.
func NewPutStructuredBlock(name string, sd *StructuredData) *PutDataBlock {
	n := sd.Count()
	return &PutDataBlock{
		DataType:    TypeCompound,
		Rank:        1,
		Count:       n,
		Shape:       []int{n},
		OpaqueType:  OpaqueStructures,
		OpaqueCount: 1,
		BlockName:   name,
		Structures:  sd,
	}
}

func (b *PutDataBlock) structured() bool {
	return b.DataType == TypeCompound && b.OpaqueType == OpaqueStructures
}

func (b *PutDataBlock) code(x *XDR, cat *Catalog, version int) {
	nameLen := len(b.BlockName)
	x.Uint(&b.Rank)
	x.Uint(&b.Count)
	enum32(x, &b.DataType)
	enum32(x, &b.OpaqueType)
	x.Int(&b.OpaqueCount)
	x.Uint(&nameLen)
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		if err := guardTypes(version, "PutDataBlock", b.DataType); err != nil {
			x.Fail(err)
			return
		}
		if b.Rank > maxDataRank || nameLen >= MaxMeta {
			x.Fail(newError(ErrorAllocatingHeap, "PutDataBlock", ClassResource,
				fmt.Sprintf("cannot size block of rank %d with a %d byte name", b.Rank, nameLen)))
			return
		}
	}

	if b.Count > 0 || nameLen > 0 {
		if b.Rank > 0 {
			x.Ints(&b.Shape, b.Rank)
		}
		if nameLen > 0 {
			x.String(&b.BlockName, nameLen+1)
		}
		switch {
		case b.DataType == TypeCompound:
		case b.DataType.Transferable():
			x.Vector(b.DataType, &b.Data, b.Count)
		default:
			x.Fail(newError(UnknownDataType, "PutDataBlock", ClassSemantic,
				fmt.Sprintf("cannot transfer put data of type %s", b.DataType)))
		}
	}
	if b.structured() && x.Err() == nil {
		b.codeStructures(x, cat, version)
	}
}

// codeStructures transfers a put block's graph inside the open record:
// the inline package tag, the type list and the structure data.
func (b *PutDataBlock) codeStructures(x *XDR, cat *Catalog, version int) {
	tag := int32(EmbedInline)
	x.Int32(&tag)
	if x.Err() != nil {
		return
	}
	if Embedding(tag) != EmbedInline {
		x.Fail(newError(UnknownOpaqueType, "PutDataBlock", ClassSemantic,
			fmt.Sprintf("put data cannot carry package type %d", tag)))
		return
	}
	sd := b.Structures
	if x.Decoding() {
		sd = &StructuredData{Catalog: newEmptyCatalog()}
	}
	in := x.inline()
	codeTypeList(in, sd.Catalog)
	codeStructureData(in, sd, version)
	x.Fail(in.Err())
	if x.Err() != nil || x.Encoding() {
		return
	}
	if err := checkCarrier(sd, b.Count); err != nil {
		x.Fail(err)
		return
	}
	if cat != nil {
		cat.Merge(sd.Catalog)
	}
	b.Structures = sd
}

// PutDataBlockList is the payload of a put request.
type PutDataBlockList struct {
	Blocks []*PutDataBlock
}

// Add appends a block.
func (l *PutDataBlockList) Add(b *PutDataBlock) {
	l.Blocks = append(l.Blocks, b)
}

// check refuses, before anything is written, a list the version cannot carry.
func (l *PutDataBlockList) check(version int) error {
	for i, b := range l.Blocks {
		if b == nil {
			return newError(InsufficientData, "PutDataBlockList", ClassSemantic, fmt.Sprintf("block %d is nil", i))
		}
		if err := guardTypes(version, "PutDataBlock", b.DataType); err != nil {
			return err
		}
		if b.structured() {
			if b.Structures == nil {
				return newError(InconsistentSArrayCount, "PutDataBlock", ClassSemantic, "block has no structure graph")
			}
			if err := checkCarrier(b.Structures, b.Count); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *PutDataBlockList) code(x *XDR, cat *Catalog, version int) {
	n := len(l.Blocks)
	if x.Encoding() {
		if err := l.check(version); err != nil {
			x.Fail(err)
			return
		}
	}
	x.Uint(&n)
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		if n > MaxLoop {
			x.Fail(newError(ErrorAllocatingHeap, "PutDataBlockList", ClassResource,
				fmt.Sprintf("peer declared %d put blocks", n)))
			return
		}
		l.Blocks = make([]*PutDataBlock, n)
		for i := range l.Blocks {
			l.Blocks[i] = &PutDataBlock{}
		}
	}
	for i := 0; i < n && x.Err() == nil; i++ {
		l.Blocks[i].code(x, cat, version)
	}
}

// Release frees the structure graphs the list holds.
func (l *PutDataBlockList) Release() {
	for _, b := range l.Blocks {
		if b != nil {
			b.Structures.Release()
			b.Structures = nil
		}
	}
}
