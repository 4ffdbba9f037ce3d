// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package testplugin

import (
	"github.com/ukaea/UDA-sub011/uda"
)

// Structure type names defined by DefineTypes.
const (
	TypePoint       = "POINT"
	TypeBoundingBox = "BOUNDINGBOX"
	TypeAllTypes    = "ALLTYPES"
)

// Point is a simple 2D point.
type Point struct {
	X float64
	Y float64
}

// BoundingBox contains two nested Points and a label.
type BoundingBox struct {
	TopLeft     Point
	BottomRight Point
	Label       string
}

// DefineTypes adds the POINT, BOUNDINGBOX and ALLTYPES definitions to cat.
func DefineTypes(cat *uda.Catalog) error {
	if _, ok := cat.Find(TypePoint); !ok {
		if _, err := cat.Define(TypePoint, "testplugin",
			uda.ScalarField("x", "abscissa", uda.TypeDouble),
			uda.ScalarField("y", "ordinate", uda.TypeDouble),
		); err != nil {
			return err
		}
	}
	if _, ok := cat.Find(TypeBoundingBox); !ok {
		if _, err := cat.Define(TypeBoundingBox, "testplugin",
			uda.StructField("top_left", "upper left corner", TypePoint, 1),
			uda.StructField("bottom_right", "lower right corner", TypePoint, 1),
			uda.StringField("label", "box label"),
		); err != nil {
			return err
		}
	}
	if _, ok := cat.Find(TypeAllTypes); !ok {
		if _, err := cat.Define(TypeAllTypes, "testplugin",
			uda.ScalarField("char_field", "", uda.TypeChar),
			uda.ScalarField("short_field", "", uda.TypeShort),
			uda.ScalarField("int_field", "", uda.TypeInt),
			uda.ScalarField("long64_field", "", uda.TypeLong64),
			uda.ScalarField("uchar_field", "", uda.TypeUnsignedChar),
			uda.ScalarField("ushort_field", "", uda.TypeUnsignedShort),
			uda.ScalarField("uint_field", "", uda.TypeUnsignedInt),
			uda.ScalarField("ulong64_field", "", uda.TypeUnsignedLong64),
			uda.ScalarField("float_field", "", uda.TypeFloat),
			uda.ScalarField("double_field", "", uda.TypeDouble),
			uda.FixedArrayField("fixed_ints", "", uda.TypeInt, 4),
			uda.ArrayField("samples", "", uda.TypeDouble),
			uda.FixedStringField("tag", "", 16),
			uda.StringField("str_field", ""),
			uda.StringArrayField("list_of_str", ""),
			uda.StructField("nested_point", "", TypePoint, 1),
			uda.StructPointerField("list_of_points", "", TypePoint),
		); err != nil {
			return err
		}
	}
	return nil
}

func newPoint(cat *uda.Catalog, a *uda.Arena, p Point) (uda.NodeID, error) {
	t, _ := cat.Find(TypePoint)
	id := a.New(t)
	if err := a.Set(id, "x", []float64{p.X}); err != nil {
		return uda.NoNode, err
	}
	if err := a.Set(id, "y", []float64{p.Y}); err != nil {
		return uda.NoNode, err
	}
	return id, nil
}

// NewPoints returns a graph holding one POINT element per point.
func NewPoints(points []Point) (*uda.StructuredData, error) {
	cat := uda.NewCatalog()
	if err := DefineTypes(cat); err != nil {
		return nil, err
	}
	a := uda.NewArena()
	elems := make([]uda.NodeID, len(points))
	for i, p := range points {
		id, err := newPoint(cat, a, p)
		if err != nil {
			return nil, err
		}
		elems[i] = id
	}
	return uda.NewStructuredData(cat, a, TypePoint, elems)
}

// NewBoundingBox returns a graph holding a single BOUNDINGBOX.
func NewBoundingBox(b BoundingBox) (*uda.StructuredData, error) {
	cat := uda.NewCatalog()
	if err := DefineTypes(cat); err != nil {
		return nil, err
	}
	a := uda.NewArena()
	t, _ := cat.Find(TypeBoundingBox)
	id := a.New(t)
	tl, err := newPoint(cat, a, b.TopLeft)
	if err != nil {
		return nil, err
	}
	br, err := newPoint(cat, a, b.BottomRight)
	if err != nil {
		return nil, err
	}
	if err := a.Link(id, "top_left", TypePoint, tl); err != nil {
		return nil, err
	}
	if err := a.Link(id, "bottom_right", TypePoint, br); err != nil {
		return nil, err
	}
	if err := a.SetStrings(id, "label", b.Label); err != nil {
		return nil, err
	}
	return uda.NewStructuredData(cat, a, TypeBoundingBox, []uda.NodeID{id})
}

// newAllTypes fills n ALLTYPES instances whose values derive from their
// index.
func newAllTypes(n int) (*uda.StructuredData, error) {
	cat := uda.NewCatalog()
	if err := DefineTypes(cat); err != nil {
		return nil, err
	}
	a := uda.NewArena()
	t, _ := cat.Find(TypeAllTypes)
	elems := make([]uda.NodeID, n)
	for i := range elems {
		id := a.New(t)
		v := i + 1
		sets := []struct {
			name string
			data any
		}{
			{"char_field", []int8{int8(v)}},
			{"short_field", []int16{int16(-v)}},
			{"int_field", []int32{int32(v * 1000)}},
			{"long64_field", []int64{int64(v) << 40}},
			{"uchar_field", []uint8{uint8(v)}},
			{"ushort_field", []uint16{uint16(v * 100)}},
			{"uint_field", []uint32{uint32(v * 100000)}},
			{"ulong64_field", []uint64{uint64(v) << 50}},
			{"float_field", []float32{float32(v) / 4}},
			{"double_field", []float64{float64(v) / 3}},
			{"fixed_ints", []int32{int32(v), int32(v + 1), int32(v + 2), int32(v + 3)}},
			{"samples", []float64{float64(v), float64(v) * 2}},
		}
		for _, s := range sets {
			if err := a.Set(id, s.name, s.data); err != nil {
				return nil, err
			}
		}
		if err := a.SetStrings(id, "tag", "tag"); err != nil {
			return nil, err
		}
		if err := a.SetStrings(id, "str_field", "element"); err != nil {
			return nil, err
		}
		if err := a.SetStrings(id, "list_of_str", "a", "bb", "ccc"); err != nil {
			return nil, err
		}
		nested, err := newPoint(cat, a, Point{X: float64(v), Y: -float64(v)})
		if err != nil {
			return nil, err
		}
		if err := a.Link(id, "nested_point", TypePoint, nested); err != nil {
			return nil, err
		}
		list := make([]uda.NodeID, v)
		for k := range list {
			if list[k], err = newPoint(cat, a, Point{X: float64(k), Y: float64(k * k)}); err != nil {
				return nil, err
			}
		}
		if err := a.Link(id, "list_of_points", TypePoint, list...); err != nil {
			return nil, err
		}
		elems[i] = id
	}
	return uda.NewStructuredData(cat, a, TypeAllTypes, elems)
}

// Points reads the POINT elements of sd.
func Points(sd *uda.StructuredData) ([]Point, error) {
	out := make([]Point, 0, sd.Count())
	for _, id := range sd.Elements() {
		p, err := readPoint(sd.Arena, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func readPoint(a *uda.Arena, id uda.NodeID) (Point, error) {
	x, err := a.Field(id, "x")
	if err != nil {
		return Point{}, err
	}
	y, err := a.Field(id, "y")
	if err != nil {
		return Point{}, err
	}
	xs, _ := x.Data.([]float64)
	ys, _ := y.Data.([]float64)
	if len(xs) != 1 || len(ys) != 1 {
		return Point{}, &uda.ProtocolError{Code: uda.InsufficientData, Location: "Points", Message: "POINT without coordinates", Class: uda.ClassSemantic}
	}
	return Point{X: xs[0], Y: ys[0]}, nil
}
