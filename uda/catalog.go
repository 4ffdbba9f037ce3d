// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"fmt"
	"strings"
)

// Names of the types every catalog starts with.
const (
	SArrayTypeName     = "SARRAY"
	EnumMemberTypeName = "ENUMMEMBER"
	EnumListTypeName   = "ENUMLIST"
)

// pointerSize is the layout size of any pointer field.
const pointerSize = 8

// CompoundField describes one field of a user-defined type. Size, Offset,
// OffPad and Alignment describe the sender's memory layout and travel as
// given; the codec only relies on AtomicType, Pointer, Rank, Count, Shape and
// Type. Shape is only held above rank 1.
type CompoundField struct {
	Size       int
	Offset     int
	OffPad     int
	Alignment  int
	AtomicType DataType
	Pointer    bool
	Rank       int
	Count      int
	Shape      []int
	Type       string
	Name       string
	Desc       string
}

// IsString reports whether the field holds character strings.
func (f *CompoundField) IsString() bool {
	return f.AtomicType == TypeString
}

// IsStringArray reports whether the field is declared as "STRING *", an
// array of independently sized strings.
func (f *CompoundField) IsStringArray() bool {
	return f.AtomicType == TypeString && f.Type == "STRING *"
}

// IsStructure reports whether the field refers to another type by name.
func (f *CompoundField) IsStructure() bool {
	return f.AtomicType == TypeUnknown
}

func (f *CompoundField) code(x *XDR) {
	x.Int(&f.Size)
	x.Int(&f.Offset)
	x.Int(&f.OffPad)
	x.Int(&f.Alignment)
	enum32(x, &f.AtomicType)
	x.Bool(&f.Pointer)
	x.Int(&f.Rank)
	x.Int(&f.Count)
	x.String(&f.Type, MaxElementName)
	x.String(&f.Name, MaxElementName)
	x.String(&f.Desc, MaxElementName)
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		if err := f.checkExtent(); err != nil {
			x.Fail(err)
			return
		}
	}
	if f.Rank > 1 {
		x.Ints(&f.Shape, f.Rank)
		if x.Decoding() && x.Err() == nil {
			x.Fail(f.checkShape())
		}
	} else if x.Decoding() {
		f.Shape = nil
	}
}

// checkExtent bounds the field's declared rank and element count.
func (f *CompoundField) checkExtent() error {
	if f.Rank < 0 || f.Rank > maxDataRank {
		return newError(ErrorAllocatingHeap, "CompoundField", ClassResource,
			fmt.Sprintf("field %s has rank %d", f.Name, f.Rank))
	}
	if f.Count < 0 || f.Count > maxVectorElements {
		return newError(ErrorAllocatingHeap, "CompoundField", ClassResource,
			fmt.Sprintf("field %s has count %d", f.Name, f.Count))
	}
	return nil
}

// checkShape requires the extents of a multi-dimensional field to multiply
// out to its count.
func (f *CompoundField) checkShape() error {
	if f.Rank <= 1 {
		return nil
	}
	if len(f.Shape) < f.Rank {
		return newError(InsufficientData, "CompoundField", ClassSemantic,
			fmt.Sprintf("field %s of rank %d has %d extents", f.Name, f.Rank, len(f.Shape)))
	}
	n := 1
	for _, d := range f.Shape[:f.Rank] {
		if d < 0 || (d > 0 && n > maxVectorElements/d) {
			return newError(ErrorAllocatingHeap, "CompoundField", ClassResource,
				fmt.Sprintf("field %s has shape %v", f.Name, f.Shape[:f.Rank]))
		}
		n *= d
	}
	if n != f.Count {
		return newError(InsufficientData, "CompoundField", ClassSemantic,
			fmt.Sprintf("field %s has shape %v but count %d", f.Name, f.Shape[:f.Rank], f.Count))
	}
	return nil
}

// UserDefinedType is a named structure definition.
type UserDefinedType struct {
	Class  DataType
	Name   string
	Source string
	RefID  int
	Size   int
	Image  []byte
	Fields []CompoundField
}

// Field returns the index of the named field, or -1.
func (t *UserDefinedType) Field(name string) int {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

func (t *UserDefinedType) code(x *XDR) {
	enum32(x, &t.Class)
	x.String(&t.Name, MaxElementName)
	x.String(&t.Source, MaxElementName)
	x.Int(&t.RefID)
	x.Int(&t.Size)
	imageCount := len(t.Image)
	fieldCount := len(t.Fields)
	x.Int(&imageCount)
	x.Int(&fieldCount)
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		if !x.checkCount("UserDefinedType", imageCount) || !x.checkCount("UserDefinedType", fieldCount) {
			return
		}
		t.Fields = make([]CompoundField, fieldCount)
		t.Image = nil
	}
	if imageCount > 0 {
		x.Chars(&t.Image, imageCount)
	}
	for i := 0; i < fieldCount && x.Err() == nil; i++ {
		t.Fields[i].code(x)
	}
}

// Catalog is the ordered set of type definitions known on a connection.
// Definitions are only ever added. A Catalog is not safe for concurrent use.
type Catalog struct {
	types []*UserDefinedType
	index map[string]int
}

// NewCatalog returns a catalog holding the carrier and enumeration types.
func NewCatalog() *Catalog {
	c := newEmptyCatalog()
	for _, t := range initialTypes() {
		c.Add(t)
	}
	return c
}

func newEmptyCatalog() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Add appends t unless a type of the same name is already known. It reports
// whether t was added.
func (c *Catalog) Add(t *UserDefinedType) bool {
	if t == nil {
		return false
	}
	if _, ok := c.index[t.Name]; ok {
		return false
	}
	c.index[t.Name] = len(c.types)
	c.types = append(c.types, t)
	return true
}

// Find returns the type with the given name. A trailing pointer marker on
// name is ignored.
func (c *Catalog) Find(name string) (*UserDefinedType, bool) {
	if c == nil {
		return nil, false
	}
	if i, ok := c.index[name]; ok {
		return c.types[i], true
	}
	base := strings.TrimSpace(strings.TrimRight(name, "* "))
	if i, ok := c.index[base]; ok {
		return c.types[i], true
	}
	return nil, false
}

// Merge adds every type of other not already known and returns how many were
// added.
func (c *Catalog) Merge(other *Catalog) int {
	if other == nil {
		return 0
	}
	n := 0
	for _, t := range other.types {
		if c.Add(t) {
			n++
		}
	}
	return n
}

// Types returns the definitions in insertion order.
func (c *Catalog) Types() []*UserDefinedType {
	return c.types
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.types)
}

// codeTypeList transfers the whole catalog. Over a framed stream the list
// occupies its own record.
func codeTypeList(x *XDR, c *Catalog) {
	x.BeginRecord()
	n := len(c.types)
	x.Int(&n)
	if x.Err() != nil {
		return
	}
	if x.Decoding() {
		if !x.checkCount("TypeList", n) {
			return
		}
		for i := 0; i < n && x.Err() == nil; i++ {
			t := &UserDefinedType{}
			t.code(x)
			if x.Err() == nil && !c.Add(t) {
				// a repeated name keeps the first definition, like Find
				c.types = append(c.types, t)
			}
		}
		return
	}
	for _, t := range c.types {
		t.code(x)
	}
	x.EndRecord(true)
}

// sizeOf returns the layout size of one element of the named type.
func (c *Catalog) sizeOf(typeName string) int {
	if t, ok := AtomicType(typeName); ok {
		return t.Size()
	}
	if t, ok := c.Find(typeName); ok {
		return t.Size
	}
	return 0
}

func (c *Catalog) alignOf(f *CompoundField) int {
	if f.Pointer {
		return pointerSize
	}
	if f.IsStructure() {
		t, ok := c.Find(f.Type)
		if !ok {
			return 1
		}
		a := 1
		for i := range t.Fields {
			a = max(a, t.Fields[i].Alignment)
		}
		return a
	}
	if f.AtomicType == TypeComplex {
		return 4
	}
	if f.AtomicType == TypeDComplex {
		return 8
	}
	return max(1, f.AtomicType.Size())
}

// Define lays out fields in declaration order with natural alignment, adds
// the resulting type and returns it.
func (c *Catalog) Define(name, source string, fields ...CompoundField) (*UserDefinedType, error) {
	if _, ok := c.Find(name); ok {
		return nil, fmt.Errorf("uda: type %q already defined", name)
	}
	t := &UserDefinedType{Class: TypeCompound, Name: name, Source: source, Fields: fields}
	offset, maxAlign := 0, 1
	for i := range t.Fields {
		f := &t.Fields[i]
		if err := f.checkExtent(); err != nil {
			return nil, err
		}
		if err := f.checkShape(); err != nil {
			return nil, err
		}
		if f.IsStructure() && !f.Pointer {
			if _, ok := c.Find(f.Type); !ok {
				return nil, newError(UnknownUserType, "Define", ClassSemantic,
					fmt.Sprintf("field %s refers to unknown type %s", f.Name, f.Type))
			}
		}
		f.Alignment = c.alignOf(f)
		switch {
		case f.Pointer:
			f.Size = pointerSize
		case f.IsStructure():
			f.Size = c.sizeOf(f.Type) * max(1, f.Count)
		default:
			f.Size = f.AtomicType.Size() * max(1, f.Count)
		}
		f.OffPad = (f.Alignment - offset%f.Alignment) % f.Alignment
		f.Offset = offset + f.OffPad
		offset = f.Offset + f.Size
		maxAlign = max(maxAlign, f.Alignment)
	}
	t.Size = offset + (maxAlign-offset%maxAlign)%maxAlign
	c.Add(t)
	return t, nil
}

func atomicTypeName(t DataType) string {
	switch t {
	case TypeChar:
		return "char"
	case TypeShort:
		return "short"
	case TypeInt:
		return "int"
	case TypeUnsignedInt:
		return "unsigned int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeUnsignedChar:
		return "unsigned char"
	case TypeUnsignedShort:
		return "unsigned short"
	case TypeUnsignedLong:
		return "unsigned long"
	case TypeLong64:
		return "long long"
	case TypeUnsignedLong64:
		return "unsigned long long"
	}
	return t.String()
}

// ScalarField declares a single atomic value.
func ScalarField(name, desc string, t DataType) CompoundField {
	return CompoundField{Name: name, Desc: desc, AtomicType: t, Type: atomicTypeName(t), Count: 1}
}

// FixedArrayField declares an atomic array of fixed length n.
func FixedArrayField(name, desc string, t DataType, n int) CompoundField {
	return CompoundField{Name: name, Desc: desc, AtomicType: t, Type: atomicTypeName(t), Count: n, Rank: 1}
}

// ArrayField declares a pointer to an atomic array whose length travels with
// each instance.
func ArrayField(name, desc string, t DataType) CompoundField {
	return CompoundField{Name: name, Desc: desc, AtomicType: t, Type: atomicTypeName(t) + " *", Pointer: true, Count: 1}
}

// FixedStringField declares a string held in a buffer of capacity bytes.
func FixedStringField(name, desc string, capacity int) CompoundField {
	return CompoundField{Name: name, Desc: desc, AtomicType: TypeString, Type: "STRING", Count: capacity, Rank: 1}
}

// StringField declares a pointer to a string of any length.
func StringField(name, desc string) CompoundField {
	return CompoundField{Name: name, Desc: desc, AtomicType: TypeString, Type: "STRING", Pointer: true, Count: 1}
}

// StringArrayField declares a pointer to any number of strings of any length.
func StringArrayField(name, desc string) CompoundField {
	return CompoundField{Name: name, Desc: desc, AtomicType: TypeString, Type: "STRING *", Pointer: true, Count: 1}
}

// StructField declares n embedded instances of typeName.
func StructField(name, desc, typeName string, n int) CompoundField {
	f := CompoundField{Name: name, Desc: desc, Type: typeName, Count: n}
	if n > 1 {
		f.Rank = 1
	}
	return f
}

// StructPointerField declares a pointer to instances of typeName; the count
// travels with each instance.
func StructPointerField(name, desc, typeName string) CompoundField {
	return CompoundField{Name: name, Desc: desc, Type: typeName, Pointer: true, Count: 1}
}

func initialTypes() []*UserDefinedType {
	c := newEmptyCatalog()
	voidPtr := CompoundField{Name: "data", Desc: "Location of the Structure Array", Type: "void *", Pointer: true, Count: 1}
	sarray, _ := c.Define(SArrayTypeName, "initial type list",
		ScalarField("count", "Number of data array elements", TypeInt),
		ScalarField("rank", "Rank of the data array", TypeInt),
		ArrayField("shape", "Shape of the data array", TypeInt),
		voidPtr,
		FixedStringField("type", "The Structure Array Element's type name (Must be Unique)", MaxElementName),
	)
	member, _ := c.Define(EnumMemberTypeName, "ENUMMEMBER structure: for labels and values",
		FixedStringField("name", "The ENUM label", MaxElementName),
		ScalarField("value", "The ENUM value", TypeLong64),
	)
	list, _ := c.Define(EnumListTypeName, "Array of ENUM values with properties",
		FixedStringField("name", "The ENUM name", MaxElementName),
		ScalarField("type", "The ENUM base integer atomic type", TypeInt),
		ScalarField("count", "The number of ENUM values", TypeInt),
		StructPointerField("enummember", "The ENUM list members: labels and value", EnumMemberTypeName),
		ArrayField("enumarray", "Data with this enumerated type", TypeUnsignedLong64),
	)
	return []*UserDefinedType{sarray, member, list}
}
