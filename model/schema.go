package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DimType is the numeric storage type of one dimension.
type DimType string

const (
	U8  DimType = "u8"
	I8  DimType = "i8"
	U16 DimType = "u16"
	I16 DimType = "i16"
	U32 DimType = "u32"
	I32 DimType = "i32"
	U64 DimType = "u64"
	I64 DimType = "i64"
	F32 DimType = "f32"
	F64 DimType = "f64"
)

// Size returns the byte width of t, or 0 for an unknown type.
func (t DimType) Size() uint64 {
	switch t {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case U32, I32, F32:
		return 4
	case U64, I64, F64:
		return 8
	}
	return 0
}

// OmitDim is the marker dimension name for padding rows in append-set
// writes. Schemas compare for append compatibility after filtering it.
const OmitDim = "Omit"

// Dim is one dimension of a schema.
type Dim struct {
	Name string  `json:"name"`
	Type DimType `json:"type"`
}

// Schema is an ordered sequence of dimensions. Order matters: two
// schemas are equal only when their dimension lists are equal.
type Schema struct {
	Dims []Dim `json:"dims"`
}

// NewSchema validates the dimension list.
func NewSchema(dims []Dim) (Schema, error) {
	for _, d := range dims {
		if d.Name == "" {
			return Schema{}, fmt.Errorf("unnamed dimension")
		}
		if d.Type.Size() == 0 {
			return Schema{}, fmt.Errorf("dimension %s: unknown type %q", d.Name, d.Type)
		}
	}
	return Schema{Dims: dims}, nil
}

// DefaultSchema is the minimal point-native layout.
func DefaultSchema() Schema {
	return Schema{Dims: []Dim{
		{Name: "X", Type: F64},
		{Name: "Y", Type: F64},
		{Name: "Z", Type: F64},
	}}
}

// PointSize is the sum of dimension sizes.
func (s Schema) PointSize() uint64 {
	var n uint64
	for _, d := range s.Dims {
		n += d.Type.Size()
	}
	return n
}

// Empty reports whether the schema has no dimensions.
func (s Schema) Empty() bool { return len(s.Dims) == 0 }

// Equals compares dimension lists, order included.
func (s Schema) Equals(o Schema) bool {
	if len(s.Dims) != len(o.Dims) {
		return false
	}
	for i, d := range s.Dims {
		if d != o.Dims[i] {
			return false
		}
	}
	return true
}

// Contains reports whether a dimension with the given name exists.
func (s Schema) Contains(name string) bool {
	_, ok := s.Find(name)
	return ok
}

// Find returns the index of the named dimension.
func (s Schema) Find(name string) (int, bool) {
	for i, d := range s.Dims {
		if d.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Offset returns the byte offset of dimension i within a point record.
func (s Schema) Offset(i int) uint64 {
	var n uint64
	for _, d := range s.Dims[:i] {
		n += d.Type.Size()
	}
	return n
}

// Filter returns s without any dimension of the given name.
func (s Schema) Filter(name string) Schema {
	out := Schema{}
	for _, d := range s.Dims {
		if d.Name != name {
			out.Dims = append(out.Dims, d)
		}
	}
	return out
}

// PointRef reads typed fields out of one raw point record.
type PointRef struct {
	Schema *Schema
	Data   []byte
}

// FieldAs returns dimension i widened to float64.
func (r PointRef) FieldAs(i int) float64 {
	d := r.Schema.Dims[i]
	b := r.Data[r.Schema.Offset(i):]
	switch d.Type {
	case U8:
		return float64(b[0])
	case I8:
		return float64(int8(b[0]))
	case U16:
		return float64(binary.LittleEndian.Uint16(b))
	case I16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case U32:
		return float64(binary.LittleEndian.Uint32(b))
	case I32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case U64:
		return float64(binary.LittleEndian.Uint64(b))
	case I64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case F32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case F64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// SetFieldAs narrows v into dimension i of dst at the schema's offset.
func (s Schema) SetFieldAs(dst []byte, i int, v float64) {
	d := s.Dims[i]
	b := dst[s.Offset(i):]
	switch d.Type {
	case U8:
		b[0] = byte(uint8(v))
	case I8:
		b[0] = byte(int8(v))
	case U16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case I16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case U32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case I32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case U64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	case I64:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	case F32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case F64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}
