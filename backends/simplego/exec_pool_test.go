package simplego

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"github.com/maartenvds/onnx-tensorflow/backends"
	"github.com/maartenvds/onnx-tensorflow/types/shapes"
	"github.com/maartenvds/onnx-tensorflow/types/xslices"
)

// iota4x4 returns a [1, 4, 4, 1] buffer with values 0..15.
func iota4x4(t *testing.T, backend *Backend) backends.Buffer {
	t.Helper()
	flat := xslices.Iota(float32(0), 16)
	return must.M1(backend.BufferFromFlatData(flat, shapes.Make(dtypes.Float32, 1, 4, 4, 1)))
}

func flatF32(t *testing.T, backend *Backend, buffer backends.Buffer) []float32 {
	t.Helper()
	shape := must.M1(backend.BufferShape(buffer))
	flat := make([]float32, shape.Size())
	must.M(backend.BufferToFlatData(buffer, flat))
	return flat
}

func flatI64(t *testing.T, backend *Backend, buffer backends.Buffer) []int64 {
	t.Helper()
	shape := must.M1(backend.BufferShape(buffer))
	flat := make([]int64, shape.Size())
	must.M(backend.BufferToFlatData(buffer, flat))
	return flat
}

func TestPoolValid(t *testing.T) {
	backend := &Backend{}
	x := iota4x4(t, backend)

	pooled := must.M1(backend.Pool(x, []int{2, 2}, []int{2, 2}, nil, backends.PadValid))
	shape := must.M1(backend.BufferShape(pooled))
	assert.Equal(t, []int{1, 2, 2, 1}, shape.Dimensions)
	assert.Equal(t, []float32{5, 7, 13, 15}, flatF32(t, backend, pooled))
}

func TestPoolDilated(t *testing.T) {
	backend := &Backend{}
	x := iota4x4(t, backend)

	// Window 2x2 with dilation 2 covers positions {r, r+2} x {c, c+2}.
	pooled := must.M1(backend.Pool(x, []int{2, 2}, nil, []int{2, 2}, backends.PadValid))
	shape := must.M1(backend.BufferShape(pooled))
	assert.Equal(t, []int{1, 2, 2, 1}, shape.Dimensions)
	assert.Equal(t, []float32{10, 11, 14, 15}, flatF32(t, backend, pooled))
}

func TestPoolSame(t *testing.T) {
	backend := &Backend{}
	flat := xslices.Iota(float32(0), 9)
	x := must.M1(backend.BufferFromFlatData(flat, shapes.Make(dtypes.Float32, 1, 3, 3, 1)))

	pooled := must.M1(backend.Pool(x, []int{2, 2}, []int{2, 2}, nil, backends.PadSame))
	shape := must.M1(backend.BufferShape(pooled))
	assert.Equal(t, []int{1, 2, 2, 1}, shape.Dimensions)
	// SAME puts the odd pad unit at the end, so windows start at rows/cols 0 and 2.
	assert.Equal(t, []float32{4, 5, 7, 8}, flatF32(t, backend, pooled))
}

func TestPoolRejectsStridesAndDilations(t *testing.T) {
	backend := &Backend{}
	x := iota4x4(t, backend)
	_, err := backend.Pool(x, []int{2, 2}, []int{2, 2}, []int{2, 2}, backends.PadValid)
	require.ErrorContains(t, err, "cannot both be non-trivial")
}

func TestMaxPoolWithArgmax(t *testing.T) {
	backend := &Backend{}
	x := iota4x4(t, backend)

	pooled, argmax := must.M2(backend.MaxPoolWithArgmax(x, []int{2, 2}, []int{2, 2}, backends.PadValid))
	assert.Equal(t, []float32{5, 7, 13, 15}, flatF32(t, backend, pooled))
	assert.Equal(t, []int64{5, 7, 13, 15}, flatI64(t, backend, argmax))
}

func TestMaxPoolWithArgmaxSame(t *testing.T) {
	backend := &Backend{}
	flat := xslices.Iota(float32(0), 9)
	x := must.M1(backend.BufferFromFlatData(flat, shapes.Make(dtypes.Float32, 1, 3, 3, 1)))

	// SAME padding is virtual: indices refer to the unpadded input.
	pooled, argmax := must.M2(backend.MaxPoolWithArgmax(x, []int{2, 2}, []int{2, 2}, backends.PadSame))
	assert.Equal(t, []float32{4, 5, 7, 8}, flatF32(t, backend, pooled))
	assert.Equal(t, []int64{4, 5, 7, 8}, flatI64(t, backend, argmax))
}

func TestMaxPoolWithArgmaxMultiChannel(t *testing.T) {
	backend := &Backend{}
	// [1, 2, 2, 2]: channel 0 holds 0, 2, 4, 6; channel 1 holds 1, 3, 5, 7.
	flat := xslices.Iota(float32(0), 8)
	x := must.M1(backend.BufferFromFlatData(flat, shapes.Make(dtypes.Float32, 1, 2, 2, 2)))

	pooled, argmax := must.M2(backend.MaxPoolWithArgmax(x, []int{2, 2}, []int{2, 2}, backends.PadValid))
	assert.Equal(t, []float32{6, 7}, flatF32(t, backend, pooled))
	// index = (row*width + col)*channels + channel
	assert.Equal(t, []int64{6, 7}, flatI64(t, backend, argmax))
}

func TestMaxPoolWithArgmaxRejectsNon2D(t *testing.T) {
	backend := &Backend{}
	flat := xslices.Iota(float32(0), 8)
	x := must.M1(backend.BufferFromFlatData(flat, shapes.Make(dtypes.Float32, 1, 2, 2, 2, 1)))
	_, _, err := backend.MaxPoolWithArgmax(x, []int{2, 2}, []int{2, 2}, backends.PadValid)
	require.ErrorContains(t, err, "2 spatial dimensions")
}

func TestDilation2DMatchesDilatedPool(t *testing.T) {
	backend := &Backend{}
	x := iota4x4(t, backend)
	filter := must.M1(backend.Zeros(shapes.Make(dtypes.Float32, 2, 2, 1)))

	dilated := must.M1(backend.Dilation2D(x, filter, []int{1, 1}, []int{2, 2}, backends.PadValid))
	pooled := must.M1(backend.Pool(x, []int{2, 2}, nil, []int{2, 2}, backends.PadValid))
	assert.Equal(t, flatF32(t, backend, pooled), flatF32(t, backend, dilated))
}

func TestDilation2DSame(t *testing.T) {
	backend := &Backend{}
	x := iota4x4(t, backend)
	filter := must.M1(backend.Zeros(shapes.Make(dtypes.Float32, 3, 3, 1)))

	out := must.M1(backend.Dilation2D(x, filter, []int{1, 1}, []int{1, 1}, backends.PadSame))
	shape := must.M1(backend.BufferShape(out))
	assert.Equal(t, []int{1, 4, 4, 1}, shape.Dimensions)
	got := flatF32(t, backend, out)
	// Corners see a 2x2 or smaller valid neighborhood.
	assert.Equal(t, float32(5), got[0])
	assert.Equal(t, float32(15), got[15])
}

func TestPoolFloat16(t *testing.T) {
	backend := &Backend{}
	flat := make([]float16.Float16, 16)
	for ii := range flat {
		flat[ii] = float16.Fromfloat32(float32(ii))
	}
	x := must.M1(backend.BufferFromFlatData(flat, shapes.Make(dtypes.Float16, 1, 4, 4, 1)))

	pooled := must.M1(backend.Pool(x, []int{2, 2}, []int{2, 2}, nil, backends.PadValid))
	shape := must.M1(backend.BufferShape(pooled))
	require.Equal(t, dtypes.Float16, shape.DType)
	got := make([]float16.Float16, shape.Size())
	must.M(backend.BufferToFlatData(pooled, got))
	want := []float32{5, 7, 13, 15}
	for ii, v := range got {
		assert.Equal(t, want[ii], v.Float32())
	}
}
