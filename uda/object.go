// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
)

// DataObject is an opaque byte object with an optional digest. A digest of
// HashLength bytes is a SHA-1 of the object and is verified on receipt.
type DataObject struct {
	ObjectType uint16
	Object     []byte
	Hash       []byte
}

// NewDataObject returns an object carrying data and its SHA-1.
func NewDataObject(objectType uint16, data []byte) *DataObject {
	sum := sha1.Sum(data)
	return &DataObject{ObjectType: objectType, Object: data, Hash: sum[:]}
}

func (o *DataObject) code(x *XDR) {
	size := len(o.Object)
	hashLen := len(o.Hash)
	if x.Encoding() && hashLen > 0xffff {
		x.Fail(newError(CodeEncodeFailed, "DataObject", ClassSemantic, fmt.Sprintf("hash of %d bytes", hashLen)))
		return
	}
	hl := uint16(hashLen)
	x.Uint16(&o.ObjectType)
	x.Uint(&size)
	x.Uint16(&hl)
	if x.Err() != nil {
		return
	}
	if x.Decoding() && size > maxVectorElements {
		x.Fail(newError(ErrorAllocatingHeap, "DataObject", ClassResource, fmt.Sprintf("object of %d bytes", size)))
		return
	}
	x.FixedOpaque(&o.Object, size)
	x.Chars(&o.Hash, int(hl))
	if x.Decoding() && x.Err() == nil && int(hl) == HashLength {
		if sum := sha1.Sum(o.Object); !bytes.Equal(sum[:], o.Hash) {
			x.Fail(newError(IntegrityFailure, "DataObject", ClassSemantic, "object digest does not match its contents"))
		}
	}
}

// DataObjectFile moves a local file as a DataObject. On receipt the
// contents are spooled into the connection's work directory and Path names
// the new file, which the receiver owns.
type DataObjectFile struct {
	ObjectType uint16
	Path       string
}

func (f *DataObjectFile) send(x *XDR) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		x.Fail(wrapError(CodeEncodeFailed, "DataObjectFile", ClassSemantic, err))
		return
	}
	NewDataObject(f.ObjectType, data).code(x)
}

func (f *DataObjectFile) receive(x *XDR, dir string) {
	var o DataObject
	o.code(x)
	if x.Err() != nil {
		return
	}
	out, err := createTemp(dir)
	if err != nil {
		x.Fail(wrapError(ErrorAllocatingHeap, "DataObjectFile", ClassResource, err))
		return
	}
	_, err = out.Write(o.Object)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out.Name())
		x.Fail(wrapError(ErrorAllocatingHeap, "DataObjectFile", ClassResource, err))
		return
	}
	f.ObjectType = o.ObjectType
	f.Path = out.Name()
}

// MetaData is an ordered list of name/value pairs describing a response.
type MetaData struct {
	Fields []MetaField
}

// MetaField is one MetaData entry.
type MetaField struct {
	Name  string
	Value string
}

// Add appends a pair.
func (m *MetaData) Add(name, value string) {
	m.Fields = append(m.Fields, MetaField{Name: name, Value: value})
}

// Get returns the first value recorded under name.
func (m *MetaData) Get(name string) (string, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (m *MetaData) code(x *XDR) {
	n := len(m.Fields)
	x.Uint(&n)
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		if n > MaxLoop {
			x.Fail(newError(ErrorAllocatingHeap, "MetaData", ClassResource, fmt.Sprintf("peer declared %d fields", n)))
			return
		}
		m.Fields = make([]MetaField, n)
	}
	for i := 0; i < n && x.Err() == nil; i++ {
		x.String(&m.Fields[i].Name, MaxName)
		x.String(&m.Fields[i].Value, MaxMeta)
	}
}

// codeMeta transfers the XML document of an OpaqueXMLDocument block in its
// own record. OpaqueCount holds the document length.
func codeMeta(x *XDR, b *DataBlock) {
	if x.Decoding() && (b.OpaqueCount < 0 || b.OpaqueCount > maxVectorElements) {
		x.Fail(newError(ErrorAllocatingHeap, "Meta", ClassResource, fmt.Sprintf("document of %d bytes", b.OpaqueCount)))
		return
	}
	if x.Encoding() && len(b.XML) > b.OpaqueCount {
		x.Fail(newError(InsufficientData, "Meta", ClassSemantic,
			fmt.Sprintf("document of %d bytes exceeds the declared %d", len(b.XML), b.OpaqueCount)))
		return
	}
	x.BeginRecord()
	x.String(&b.XML, b.OpaqueCount+1)
	x.EndRecord(true)
}

// NewXMLBlock returns a block carrying an XML document.
func NewXMLBlock(doc string) *DataBlock {
	return &DataBlock{
		DataType:    TypeCompound,
		Order:       -1,
		OpaqueType:  OpaqueXMLDocument,
		OpaqueCount: len(doc),
		XML:         doc,
	}
}
