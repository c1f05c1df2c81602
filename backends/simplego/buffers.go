package simplego

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"github.com/maartenvds/onnx-tensorflow/backends"
	"github.com/maartenvds/onnx-tensorflow/types/shapes"
)

// Buffer for the SimpleGo backend holds a shape and the flat data.
//
// flat is always a slice of the Go type corresponding to shape.DType.
type Buffer struct {
	shape shapes.Shape
	flat  any
}

// Shape of the buffer. It implements shapes.HasShape.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// supportedTypesConstraints are the Go types this backend computes with
// directly. Float16 is supported by converting through float32.
type supportedTypesConstraints interface {
	float32 | float64 | int64
}

// newBuffer allocates a zero-initialized buffer for the given dtype and dimensions.
func newBuffer(dtype dtypes.DType, dimensions ...int) (*Buffer, error) {
	shape := shapes.Make(dtype, dimensions...)
	size := shape.Size()
	var flat any
	switch dtype {
	case dtypes.Float32:
		flat = make([]float32, size)
	case dtypes.Float64:
		flat = make([]float64, size)
	case dtypes.Float16:
		flat = make([]float16.Float16, size)
	case dtypes.Int64:
		flat = make([]int64, size)
	default:
		return nil, errors.Errorf("unsupported dtype %s for SimpleGo backend", dtype)
	}
	return &Buffer{shape: shape, flat: flat}, nil
}

// castBuffer extracts the concrete *Buffer from the opaque backends.Buffer.
func castBuffer(buffer backends.Buffer) (*Buffer, error) {
	buf, ok := buffer.(*Buffer)
	if !ok || buf == nil {
		return nil, errors.Errorf("buffer %v was not created by the SimpleGo backend", buffer)
	}
	return buf, nil
}

// flatLen returns the dtype and length of a flat slice of a supported type.
func flatLen(flat any) (dtypes.DType, int, error) {
	switch v := flat.(type) {
	case []float32:
		return dtypes.Float32, len(v), nil
	case []float64:
		return dtypes.Float64, len(v), nil
	case []float16.Float16:
		return dtypes.Float16, len(v), nil
	case []int64:
		return dtypes.Int64, len(v), nil
	}
	return dtypes.InvalidDType, 0, errors.Errorf("flat data of type %T is not supported by the SimpleGo backend", flat)
}

// copyFlat copies flat data of any supported type; both must have the same
// underlying type and length.
func copyFlat(dst, src any) {
	switch s := src.(type) {
	case []float32:
		copy(dst.([]float32), s)
	case []float64:
		copy(dst.([]float64), s)
	case []float16.Float16:
		copy(dst.([]float16.Float16), s)
	case []int64:
		copy(dst.([]int64), s)
	}
}

// BufferFromFlatData creates a buffer from data given as a flat slice. The
// flat data is copied, so the caller keeps ownership of flat.
func (b *Backend) BufferFromFlatData(flat any, shape shapes.Shape) (backends.Buffer, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("invalid shape %s", shape)
	}
	if !shape.IsFullyDefined() {
		return nil, errors.Errorf("cannot create a buffer with undefined dimensions, got shape %s", shape)
	}
	dtype, length, err := flatLen(flat)
	if err != nil {
		return nil, err
	}
	if dtype != shape.DType {
		return nil, errors.Errorf("flat data of type %T does not match shape %s", flat, shape)
	}
	if length != shape.Size() {
		return nil, errors.Errorf("flat data has %d elements, but shape %s requires %d", length, shape, shape.Size())
	}
	buf, err := newBuffer(shape.DType, shape.Dimensions...)
	if err != nil {
		return nil, err
	}
	copyFlat(buf.flat, flat)
	return buf, nil
}

// BufferToFlatData transfers the flat values of buffer to the Go flat array.
func (b *Backend) BufferToFlatData(buffer backends.Buffer, flat any) error {
	buf, err := castBuffer(buffer)
	if err != nil {
		return err
	}
	dtype, length, err := flatLen(flat)
	if err != nil {
		return err
	}
	if dtype != buf.shape.DType || length != buf.shape.Size() {
		return errors.Errorf("flat data (%T, %d elements) does not match buffer shape %s", flat, length, buf.shape)
	}
	copyFlat(flat, buf.flat)
	return nil
}

// BufferShape returns the shape for the buffer. It is always fully defined.
func (b *Backend) BufferShape(buffer backends.Buffer) (shapes.Shape, error) {
	buf, err := castBuffer(buffer)
	if err != nil {
		return shapes.Invalid(), err
	}
	return buf.shape.Clone(), nil
}

// Zeros returns a buffer of the given shape filled with zeros.
func (b *Backend) Zeros(shape shapes.Shape) (backends.Buffer, error) {
	if !shape.Ok() || !shape.IsFullyDefined() {
		return nil, errors.Errorf("Zeros requires a fully defined shape, got %s", shape)
	}
	return newBuffer(shape.DType, shape.Dimensions...)
}

// rowMajorStrides returns the flat strides of a row-major layout with the
// given dimensions.
func rowMajorStrides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// float16ToF32 converts a float16 flat slice to float32, the type the
// compute kernels work with.
func float16ToF32(flat []float16.Float16) []float32 {
	out := make([]float32, len(flat))
	for ii, v := range flat {
		out[ii] = v.Float32()
	}
	return out
}

// f32ToFloat16 converts a float32 flat slice back to float16.
func f32ToFloat16(flat []float32) []float16.Float16 {
	out := make([]float16.Float16, len(flat))
	for ii, v := range flat {
		out[ii] = float16.Fromfloat32(v)
	}
	return out
}

// asF32Buffer returns a float32 view-copy of a float16 buffer; other dtypes
// are returned unchanged.
func asF32Buffer(buf *Buffer) *Buffer {
	if buf.shape.DType != dtypes.Float16 {
		return buf
	}
	shape := buf.shape.Clone()
	shape.DType = dtypes.Float32
	return &Buffer{shape: shape, flat: float16ToF32(buf.flat.([]float16.Float16))}
}

// backToDType converts a float32 result buffer back to dtype, if dtype is
// Float16; other dtypes are returned unchanged.
func backToDType(buf *Buffer, dtype dtypes.DType) *Buffer {
	if dtype != dtypes.Float16 {
		return buf
	}
	shape := buf.shape.Clone()
	shape.DType = dtypes.Float16
	return &Buffer{shape: shape, flat: f32ToFloat16(buf.flat.([]float32))}
}

// spatialDims returns the spatial dimensions of a [batch, spatial..., channels] shape.
func spatialDims(shape shapes.Shape) []int {
	return slices.Clone(shape.Dimensions[1 : shape.Rank()-1])
}
