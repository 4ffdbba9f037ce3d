// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import "fmt"

// NodeID indexes a structure instance within its Arena.
type NodeID int32

// NoNode is the null instance reference.
const NoNode NodeID = -1

// FieldValue is the content of one field of one instance. Which members are
// used depends on the field's definition:
//
//	atomic            Data (a MakeVector slice; scalars have one element)
//	atomic pointer    Data, Rank, Shape
//	string            Strings
//	structure         Nodes
//	structure pointer Nodes or, for voided atomic arrays, Data; TypeName,
//	                  Rank and Shape describe the pointed-to array
type FieldValue struct {
	Data     any
	Strings  []string
	Nodes    []NodeID
	TypeName string
	Rank     int
	Shape    []int
}

// Node is one instance of a user-defined type.
type Node struct {
	Type   *UserDefinedType
	Fields []FieldValue
}

// Arena owns every instance of one decoded or assembled structure graph.
// Instances refer to each other by NodeID, never by Go pointer, so the graph
// is released as a whole by dropping the arena.
type Arena struct {
	nodes []Node
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// New allocates a zeroed instance of t.
func (a *Arena) New(t *UserDefinedType) NodeID {
	a.nodes = append(a.nodes, Node{Type: t, Fields: make([]FieldValue, len(t.Fields))})
	return NodeID(len(a.nodes) - 1)
}

// Node returns the instance id refers to, or nil.
func (a *Arena) Node(id NodeID) *Node {
	if a == nil || id < 0 || int(id) >= len(a.nodes) {
		return nil
	}
	return &a.nodes[id]
}

// Len returns the number of instances.
func (a *Arena) Len() int {
	if a == nil {
		return 0
	}
	return len(a.nodes)
}

// Release drops every instance.
func (a *Arena) Release() {
	if a != nil {
		a.nodes = nil
	}
}

// Field returns the named field of instance id.
func (a *Arena) Field(id NodeID, name string) (*FieldValue, error) {
	n := a.Node(id)
	if n == nil {
		return nil, fmt.Errorf("uda: no instance %d", id)
	}
	i := n.Type.Field(name)
	if i < 0 {
		return nil, fmt.Errorf("uda: type %s has no field %q", n.Type.Name, name)
	}
	return &n.Fields[i], nil
}

// Set stores atomic data in the named field.
func (a *Arena) Set(id NodeID, name string, data any) error {
	fv, err := a.Field(id, name)
	if err != nil {
		return err
	}
	fv.Data = data
	return nil
}

// SetStrings stores strings in the named field.
func (a *Arena) SetStrings(id NodeID, name string, s ...string) error {
	fv, err := a.Field(id, name)
	if err != nil {
		return err
	}
	fv.Strings = s
	return nil
}

// Link points the named structure field at children of type typeName.
func (a *Arena) Link(id NodeID, name, typeName string, children ...NodeID) error {
	fv, err := a.Field(id, name)
	if err != nil {
		return err
	}
	fv.Nodes = children
	fv.TypeName = typeName
	return nil
}

// StructuredData bundles a structure graph with the definitions needed to
// interpret it. Root is the carrier (SARRAY) instance. The three parts are
// kept and released together.
type StructuredData struct {
	Catalog *Catalog
	Arena   *Arena
	Root    NodeID
}

// NewStructuredData wraps elems, instances of elemType already allocated in
// arena, in a one dimensional carrier.
func NewStructuredData(cat *Catalog, arena *Arena, elemType string, elems []NodeID) (*StructuredData, error) {
	return NewStructuredDataShape(cat, arena, elemType, elems, []int{len(elems)})
}

// NewStructuredDataShape is NewStructuredData for a carrier of any shape.
func NewStructuredDataShape(cat *Catalog, arena *Arena, elemType string, elems []NodeID, shape []int) (*StructuredData, error) {
	carrier, ok := cat.Find(SArrayTypeName)
	if !ok {
		return nil, newError(UnknownUserType, "NewStructuredData", ClassSemantic, "catalog has no carrier type")
	}
	if _, ok := cat.Find(elemType); !ok {
		if _, atomic := AtomicType(elemType); !atomic {
			return nil, newError(UnknownUserType, "NewStructuredData", ClassSemantic,
				fmt.Sprintf("unknown element type %s", elemType))
		}
	}
	total := 1
	for _, n := range shape {
		total *= n
	}
	if total != len(elems) {
		return nil, newError(InconsistentSArrayCount, "NewStructuredData", ClassSemantic,
			fmt.Sprintf("shape %v does not hold %d elements", shape, len(elems)))
	}
	root := arena.New(carrier)
	_ = arena.Set(root, "count", []int32{int32(len(elems))})
	_ = arena.Set(root, "rank", []int32{int32(len(shape))})
	shapeData := make([]int32, len(shape))
	for i, n := range shape {
		shapeData[i] = int32(n)
	}
	fv, _ := arena.Field(root, "shape")
	fv.Data = shapeData
	fv.Rank = 1
	data, _ := arena.Field(root, "data")
	data.Nodes = elems
	data.TypeName = elemType
	data.Rank = len(shape)
	if len(shape) > 1 {
		data.Shape = shape
	}
	_ = arena.SetStrings(root, "type", elemType)
	return &StructuredData{Catalog: cat, Arena: arena, Root: root}, nil
}

// Count returns the carrier's element count.
func (s *StructuredData) Count() int {
	fv, err := s.Arena.Field(s.Root, "count")
	if err != nil {
		return 0
	}
	if v, ok := fv.Data.([]int32); ok && len(v) > 0 {
		return int(v[0])
	}
	return 0
}

// Elements returns the carried instances.
func (s *StructuredData) Elements() []NodeID {
	fv, err := s.Arena.Field(s.Root, "data")
	if err != nil {
		return nil
	}
	return fv.Nodes
}

// ElementType returns the carried instances' type name.
func (s *StructuredData) ElementType() string {
	fv, err := s.Arena.Field(s.Root, "data")
	if err != nil {
		return ""
	}
	return fv.TypeName
}

// Release frees the graph. The value must not be used afterwards.
func (s *StructuredData) Release() {
	if s == nil {
		return
	}
	s.Arena.Release()
	s.Catalog = nil
	s.Root = NoNode
}
