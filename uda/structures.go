// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import "fmt"

// walker transfers structure instances field by field. Definitions come from
// cat; decoded instances are allocated in arena.
type walker struct {
	x       *XDR
	cat     *Catalog
	arena   *Arena
	version int
	depth   int
}

// instance transfers one instance of t, preceded by its presence flag.
func (w *walker) instance(t *UserDefinedType, id *NodeID) {
	x := w.x
	if x.Err() != nil {
		return
	}
	present := *id != NoNode
	x.Bool(&present)
	if !present {
		if x.Decoding() {
			*id = NoNode
		}
		return
	}
	if x.Err() != nil {
		return
	}
	if w.depth > MaxRecursiveDepth {
		x.Fail(newError(UnknownUserType, "structures", ClassSemantic,
			fmt.Sprintf("maximum recursive depth %d reached", MaxRecursiveDepth)))
		return
	}
	w.depth++
	defer func() { w.depth-- }()

	if x.Decoding() {
		*id = w.arena.New(t)
	}
	node := w.arena.Node(*id)
	if node == nil || len(node.Fields) != len(t.Fields) {
		x.Fail(newError(UnknownUserType, "structures", ClassSemantic,
			fmt.Sprintf("instance %d does not match type %s", *id, t.Name)))
		return
	}
	// Fields has its own backing array, so these pointers survive arena growth.
	fields := node.Fields
	for j := range t.Fields {
		if x.Err() != nil {
			return
		}
		w.field(&t.Fields[j], &fields[j])
	}
}

func (w *walker) field(f *CompoundField, fv *FieldValue) {
	switch {
	case f.IsString():
		w.stringField(f, fv)
	case f.AtomicType.IsNumeric():
		w.atomicField(f, fv)
	case f.IsStructure():
		w.structField(f, fv)
	default:
		w.x.Fail(newError(UnknownDataType, "structures", ClassSemantic,
			fmt.Sprintf("field %s has untransferable type %s", f.Name, f.AtomicType)))
	}
}

// arrayShape transfers the rank and, above rank 1, the shape of a pointer
// array.
func (w *walker) arrayShape(fv *FieldValue) {
	x := w.x
	x.Int(&fv.Rank)
	if x.Err() != nil {
		return
	}
	if fv.Rank > 1 {
		if x.Decoding() && fv.Rank > maxDataRank {
			x.Fail(newError(ErrorAllocatingHeap, "structures", ClassResource, fmt.Sprintf("array rank %d", fv.Rank)))
			return
		}
		x.Ints(&fv.Shape, fv.Rank)
	} else if x.Decoding() {
		fv.Shape = nil
	}
}

// count transfers an element count, bounding it on receive.
func (w *walker) count(n *int) bool {
	w.x.Int(n)
	if w.x.Err() != nil {
		return false
	}
	if w.x.Decoding() {
		return w.x.checkCount("structures", *n)
	}
	return true
}

func (w *walker) atomicField(f *CompoundField, fv *FieldValue) {
	x := w.x
	if f.Pointer {
		n := VectorLen(fv.Data)
		if !w.count(&n) {
			return
		}
		if n == 0 {
			if x.Decoding() {
				fv.Data = nil
			}
			return
		}
		w.arrayShape(fv)
		x.Vector(f.AtomicType, &fv.Data, n)
		return
	}
	n := f.Count
	if f.Rank == 0 {
		n = 1
	}
	if x.Encoding() && fv.Data == nil {
		fv.Data, _ = MakeVector(f.AtomicType, n)
	}
	x.Vector(f.AtomicType, &fv.Data, n)
}

// countedString transfers a string preceded by its buffer length. When
// optional, a zero length carries no string.
func (w *walker) countedString(s *string, optional bool) {
	x := w.x
	n := len(*s) + 1
	x.Int(&n)
	if x.Err() != nil {
		return
	}
	if n <= 0 {
		if optional {
			*s = ""
			return
		}
		n = 1
	}
	x.String(s, n)
}

func (w *walker) strings(fv *FieldValue, n int) bool {
	if w.x.Decoding() {
		if !w.x.checkCount("structures", n) {
			return false
		}
		fv.Strings = make([]string, 0, min(n, decodeChunk))
		return true
	}
	for len(fv.Strings) < n {
		fv.Strings = append(fv.Strings, "")
	}
	return true
}

// stringField covers the string layouts a field can declare:
//
//	char *p          pointer, STRING    count, rank, [shape], counted strings
//	char **p         pointer, STRING *  count, counted strings
//	char p[n]        rank 1, STRING     one bounded string
//	char *p[n]       rank 1, STRING *   n counted strings
//	char p[m][n]     rank 2+            bounded strings of stride shape[0]
//	rank 0           not a pointer      one counted string
func (w *walker) stringField(f *CompoundField, fv *FieldValue) {
	x := w.x
	switch {
	case f.Pointer && f.IsStringArray():
		n := len(fv.Strings)
		if !w.count(&n) || !w.strings(fv, n) {
			return
		}
		for i := 0; i < n && x.Err() == nil; i++ {
			w.countedString(slot(x, &fv.Strings, i), true)
		}

	case f.Pointer:
		n := len(fv.Strings)
		if !w.count(&n) {
			return
		}
		if n == 0 {
			if x.Decoding() {
				fv.Strings = nil
			}
			return
		}
		w.arrayShape(fv)
		if !w.strings(fv, n) {
			return
		}
		for i := 0; i < n && x.Err() == nil; i++ {
			w.countedString(slot(x, &fv.Strings, i), false)
		}

	case f.Rank == 1 && !f.IsStringArray():
		w.strings(fv, 1)
		x.String(slot(x, &fv.Strings, 0), f.Count)

	case f.Rank == 1:
		if !w.strings(fv, f.Count) {
			return
		}
		for i := 0; i < f.Count && x.Err() == nil; i++ {
			w.countedString(slot(x, &fv.Strings, i), true)
		}

	case f.Rank > 1:
		if len(f.Shape) < f.Rank {
			x.Fail(newError(InsufficientData, "structures", ClassSemantic,
				fmt.Sprintf("string field %s lacks its shape", f.Name)))
			return
		}
		n := 1
		for _, d := range f.Shape[1:f.Rank] {
			n *= d
		}
		if !w.strings(fv, n) {
			return
		}
		for i := 0; i < n && x.Err() == nil; i++ {
			x.String(slot(x, &fv.Strings, i), f.Shape[0])
		}

	default:
		if x.Encoding() && len(fv.Strings) == 0 {
			zero := 0
			x.Int(&zero)
			return
		}
		if x.Decoding() {
			fv.Strings = make([]string, 1)
		}
		w.countedString(&fv.Strings[0], true)
		if x.Decoding() && x.Err() == nil && fv.Strings[0] == "" {
			fv.Strings = nil
		}
	}
}

func (w *walker) structField(f *CompoundField, fv *FieldValue) {
	x := w.x
	if !f.Pointer {
		t, ok := w.cat.Find(f.Type)
		if !ok {
			x.Fail(newError(UnknownUserType, "structures", ClassSemantic,
				fmt.Sprintf("field %s has unknown type %s", f.Name, f.Type)))
			return
		}
		if x.Decoding() {
			fv.Nodes = make([]NodeID, 0, min(f.Count, decodeChunk))
		}
		for x.Encoding() && len(fv.Nodes) < f.Count {
			fv.Nodes = append(fv.Nodes, NoNode)
		}
		fv.TypeName = f.Type
		for i := 0; i < f.Count && x.Err() == nil; i++ {
			w.instance(t, slot(x, &fv.Nodes, i))
		}
		return
	}

	n := len(fv.Nodes)
	if fv.Data != nil {
		n = VectorLen(fv.Data)
	}
	if !w.count(&n) {
		return
	}
	if n == 0 {
		if x.Decoding() {
			fv.Nodes, fv.Data = nil, nil
		}
		return
	}
	typeName := fv.TypeName
	if typeName == "" {
		typeName = f.Type
	}
	size := w.cat.sizeOf(typeName)
	x.Int(&size)
	x.String(&typeName, MaxElementName)
	fv.TypeName = typeName
	if w.version >= 7 {
		w.arrayShape(fv)
	}
	if x.Err() != nil {
		return
	}

	if t, ok := w.cat.Find(typeName); ok {
		if x.Decoding() {
			fv.Nodes = make([]NodeID, 0, min(n, decodeChunk))
		} else if len(fv.Nodes) < n {
			x.Fail(newError(InsufficientData, "structures", ClassSemantic,
				fmt.Sprintf("field %s has %d instances, need %d", f.Name, len(fv.Nodes), n)))
			return
		}
		for i := 0; i < n && x.Err() == nil; i++ {
			w.instance(t, slot(x, &fv.Nodes, i))
		}
		return
	}
	if at, ok := AtomicType(typeName); ok && at.IsNumeric() {
		x.Vector(at, &fv.Data, n)
		return
	}
	x.Fail(newError(UnknownUserType, "structures", ClassSemantic,
		fmt.Sprintf("field %s points at unknown type %s", f.Name, typeName)))
}

// codeStructureData transfers the carrier's definition followed by the graph
// reachable from it, in one record.
func codeStructureData(x *XDR, sd *StructuredData, version int) {
	x.BeginRecord()
	if x.Err() != nil {
		return
	}
	var root *UserDefinedType
	if x.Encoding() {
		n := sd.Arena.Node(sd.Root)
		if n == nil {
			x.Fail(newError(UnknownUserType, "structures", ClassSemantic, "no root instance to send"))
			return
		}
		root = n.Type
	} else {
		root = &UserDefinedType{}
		sd.Arena = NewArena()
	}
	root.code(x)
	w := &walker{x: x, cat: sd.Catalog, arena: sd.Arena, version: version}
	w.instance(root, &sd.Root)
	x.EndRecord(true)
}

// checkCarrier verifies a received graph is rooted in a carrier holding
// count elements.
func checkCarrier(sd *StructuredData, count int) error {
	n := sd.Arena.Node(sd.Root)
	if n == nil || n.Type.Name != SArrayTypeName {
		name := ""
		if n != nil {
			name = n.Type.Name
		}
		return newError(InconsistentSArrayCount, "structures", ClassSemantic,
			fmt.Sprintf("received root type %q, expected %s", name, SArrayTypeName))
	}
	if got := sd.Count(); got != count {
		return newError(InconsistentSArrayCount, "structures", ClassSemantic,
			fmt.Sprintf("carrier holds %d elements, block declares %d", got, count))
	}
	return nil
}
