package simplego

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/maartenvds/onnx-tensorflow/backends"
	"github.com/maartenvds/onnx-tensorflow/types/xslices"
)

// poolAxisGeometry computes, for one spatial axis, the output size and the
// leading (virtual) padding of a pooling with the given parameters.
//
// With PadSame the total padding is max((out-1)*stride+effective-in, 0) and
// the extra unit of an odd total goes to the end of the axis (TensorFlow's
// convention).
func poolAxisGeometry(in, window, stride, dilation int, padding backends.PadMode) (out, padLow int, err error) {
	effective := (window-1)*dilation + 1
	switch padding {
	case backends.PadValid:
		out = (in-effective)/stride + 1
		if in < effective {
			err = errors.Errorf("window of effective size %d (window %d, dilation %d) does not fit input of size %d with VALID padding",
				effective, window, dilation, in)
		}
	case backends.PadSame:
		out = (in + stride - 1) / stride
		total := (out-1)*stride + effective - in
		if total < 0 {
			total = 0
		}
		padLow = total / 2
	default:
		err = errors.Errorf("unknown padding mode %v", padding)
	}
	return
}

func allTrivial(values []int) bool {
	for _, v := range values {
		if v != 1 {
			return false
		}
	}
	return true
}

// Pool computes a MAX pooling of x. It supports non-trivial strides or
// non-trivial dilations, but not both at the same time.
func (b *Backend) Pool(x backends.Buffer, window, strides, dilations []int, padding backends.PadMode) (backends.Buffer, error) {
	buf, err := castBuffer(x)
	if err != nil {
		return nil, err
	}
	rank := buf.shape.Rank()
	numSpatialDims := rank - 2
	if numSpatialDims < 1 {
		return nil, errors.Errorf("Pool: x must be shaped [batch, spatial..., channels], rank >= 3, got %s", buf.shape)
	}
	if len(window) != numSpatialDims {
		return nil, errors.Errorf("Pool: window must have %d values, got %v", numSpatialDims, window)
	}
	if strides == nil {
		strides = xslices.SliceWithValue(numSpatialDims, 1)
	}
	if dilations == nil {
		dilations = xslices.SliceWithValue(numSpatialDims, 1)
	}
	if len(strides) != numSpatialDims || len(dilations) != numSpatialDims {
		return nil, errors.Errorf("Pool: strides (%v) and dilations (%v) must have %d values", strides, dilations, numSpatialDims)
	}
	if !allTrivial(strides) && !allTrivial(dilations) {
		return nil, errors.Errorf("Pool: strides (%v) and dilations (%v) cannot both be non-trivial", strides, dilations)
	}

	inSpatial := spatialDims(buf.shape)
	outDims := make([]int, rank)
	padLow := make([]int, numSpatialDims)
	outDims[0] = buf.shape.Dimensions[0]
	outDims[rank-1] = buf.shape.Dimensions[rank-1]
	for axis := 0; axis < numSpatialDims; axis++ {
		outDims[axis+1], padLow[axis], err = poolAxisGeometry(inSpatial[axis], window[axis], strides[axis], dilations[axis], padding)
		if err != nil {
			return nil, errors.Wrapf(err, "Pool: spatial axis %d", axis)
		}
	}

	working := asF32Buffer(buf)
	output, err := newBuffer(working.shape.DType, outDims...)
	if err != nil {
		return nil, err
	}
	switch working.shape.DType {
	case dtypes.Float32:
		execPoolGeneric(working, output, window, strides, dilations, padLow, float32(math.Inf(-1)))
	case dtypes.Float64:
		execPoolGeneric(working, output, window, strides, dilations, padLow, math.Inf(-1))
	case dtypes.Int64:
		execPoolGeneric(working, output, window, strides, dilations, padLow, int64(math.MinInt64))
	default:
		return nil, errors.Errorf("Pool: unsupported dtype %s", buf.shape.DType)
	}
	return backToDType(output, buf.shape.DType), nil
}

func execPoolGeneric[T supportedTypesConstraints](input, output *Buffer, window, strides, dilations, padLow []int, lowest T) {
	inFlat := input.flat.([]T)
	outFlat := output.flat.([]T)
	inDims := input.shape.Dimensions
	outDims := output.shape.Dimensions
	inStrides := rowMajorStrides(inDims)
	rank := len(inDims)
	numSpatialDims := rank - 2
	channels := inDims[rank-1]

	outCoords := make([]int, numSpatialDims)
	winCoords := make([]int, numSpatialDims)
	outPos := 0
	for batch := 0; batch < inDims[0]; batch++ {
		batchOffset := batch * inStrides[0]
		xslices.FillSlice(outCoords, 0)
		numOutPositions := 1
		for _, dim := range outDims[1 : rank-1] {
			numOutPositions *= dim
		}
		for n := 0; n < numOutPositions; n++ {
			for channel := 0; channel < channels; channel++ {
				best := lowest
				xslices.FillSlice(winCoords, 0)
			windowLoop:
				for {
					offset := batchOffset + channel
					valid := true
					for axis := 0; axis < numSpatialDims; axis++ {
						pos := outCoords[axis]*strides[axis] - padLow[axis] + winCoords[axis]*dilations[axis]
						if pos < 0 || pos >= inDims[axis+1] {
							valid = false
							break
						}
						offset += pos * inStrides[axis+1]
					}
					if valid && inFlat[offset] > best {
						best = inFlat[offset]
					}
					for axis := numSpatialDims - 1; axis >= 0; axis-- {
						winCoords[axis]++
						if winCoords[axis] < window[axis] {
							continue windowLoop
						}
						winCoords[axis] = 0
					}
					break
				}
				outFlat[outPos] = best
				outPos++
			}
			for axis := numSpatialDims - 1; axis >= 0; axis-- {
				outCoords[axis]++
				if outCoords[axis] < outDims[axis+1] {
					break
				}
				outCoords[axis] = 0
			}
		}
	}
}

// MaxPoolWithArgmax computes a 2D MAX pooling and the per-batch flat argmax
// positions into x, following TensorFlow's max_pool_with_argmax convention:
// index = (row*width + col)*channels + channel.
func (b *Backend) MaxPoolWithArgmax(x backends.Buffer, window, strides []int, padding backends.PadMode) (pooled, argmax backends.Buffer, err error) {
	buf, err := castBuffer(x)
	if err != nil {
		return nil, nil, err
	}
	if buf.shape.Rank() != 4 {
		return nil, nil, errors.Errorf("MaxPoolWithArgmax only supports 2 spatial dimensions, x must be shaped [batch, height, width, channels], got %s", buf.shape)
	}
	if len(window) != 2 || len(strides) != 2 {
		return nil, nil, errors.Errorf("MaxPoolWithArgmax: window (%v) and strides (%v) must have 2 values", window, strides)
	}
	inHeight, inWidth := buf.shape.Dimensions[1], buf.shape.Dimensions[2]
	outHeight, padTop, err := poolAxisGeometry(inHeight, window[0], strides[0], 1, padding)
	if err != nil {
		return nil, nil, errors.Wrap(err, "MaxPoolWithArgmax: height")
	}
	outWidth, padLeft, err := poolAxisGeometry(inWidth, window[1], strides[1], 1, padding)
	if err != nil {
		return nil, nil, errors.Wrap(err, "MaxPoolWithArgmax: width")
	}

	batchSize, channels := buf.shape.Dimensions[0], buf.shape.Dimensions[3]
	working := asF32Buffer(buf)
	values, err := newBuffer(working.shape.DType, batchSize, outHeight, outWidth, channels)
	if err != nil {
		return nil, nil, err
	}
	indices, err := newBuffer(dtypes.Int64, batchSize, outHeight, outWidth, channels)
	if err != nil {
		return nil, nil, err
	}
	switch working.shape.DType {
	case dtypes.Float32:
		execMaxPoolArgmaxGeneric(working, values, indices, window, strides, padTop, padLeft, float32(math.Inf(-1)))
	case dtypes.Float64:
		execMaxPoolArgmaxGeneric(working, values, indices, window, strides, padTop, padLeft, math.Inf(-1))
	case dtypes.Int64:
		execMaxPoolArgmaxGeneric(working, values, indices, window, strides, padTop, padLeft, int64(math.MinInt64))
	default:
		return nil, nil, errors.Errorf("MaxPoolWithArgmax: unsupported dtype %s", buf.shape.DType)
	}
	return backToDType(values, buf.shape.DType), indices, nil
}

func execMaxPoolArgmaxGeneric[T supportedTypesConstraints](input, values, indices *Buffer, window, strides []int, padTop, padLeft int, lowest T) {
	inFlat := input.flat.([]T)
	valuesFlat := values.flat.([]T)
	indicesFlat := indices.flat.([]int64)
	batchSize := input.shape.Dimensions[0]
	inHeight, inWidth := input.shape.Dimensions[1], input.shape.Dimensions[2]
	channels := input.shape.Dimensions[3]
	outHeight, outWidth := values.shape.Dimensions[1], values.shape.Dimensions[2]

	outPos := 0
	for batch := 0; batch < batchSize; batch++ {
		batchOffset := batch * inHeight * inWidth * channels
		for outRow := 0; outRow < outHeight; outRow++ {
			for outCol := 0; outCol < outWidth; outCol++ {
				for channel := 0; channel < channels; channel++ {
					best := lowest
					bestIndex := int64(0)
					found := false
					for winRow := 0; winRow < window[0]; winRow++ {
						row := outRow*strides[0] - padTop + winRow
						if row < 0 || row >= inHeight {
							continue
						}
						for winCol := 0; winCol < window[1]; winCol++ {
							col := outCol*strides[1] - padLeft + winCol
							if col < 0 || col >= inWidth {
								continue
							}
							value := inFlat[batchOffset+(row*inWidth+col)*channels+channel]
							// Ties keep the first (row-major) position, like TF.
							if !found || value > best {
								best = value
								bestIndex = int64((row*inWidth+col)*channels + channel)
								found = true
							}
						}
					}
					valuesFlat[outPos] = best
					indicesFlat[outPos] = bestIndex
					outPos++
				}
			}
		}
	}
}

// Dilation2D computes a 2D morphological dilation of x with the given
// structuring filter: the max of x+filter over each window, windows dilated
// by rates. With a zero filter it is a dilated max pooling.
func (b *Backend) Dilation2D(x, filter backends.Buffer, strides, rates []int, padding backends.PadMode) (backends.Buffer, error) {
	buf, err := castBuffer(x)
	if err != nil {
		return nil, err
	}
	filterBuf, err := castBuffer(filter)
	if err != nil {
		return nil, err
	}
	if buf.shape.Rank() != 4 {
		return nil, errors.Errorf("Dilation2D: x must be shaped [batch, height, width, channels], got %s", buf.shape)
	}
	if filterBuf.shape.Rank() != 3 {
		return nil, errors.Errorf("Dilation2D: filter must be shaped [height, width, channels], got %s", filterBuf.shape)
	}
	if filterBuf.shape.DType != buf.shape.DType {
		return nil, errors.Errorf("Dilation2D: x (%s) and filter (%s) dtypes differ", buf.shape, filterBuf.shape)
	}
	channels := buf.shape.Dimensions[3]
	if filterBuf.shape.Dimensions[2] != channels {
		return nil, errors.Errorf("Dilation2D: filter channels (%s) do not match x channels (%s)", filterBuf.shape, buf.shape)
	}
	if len(strides) != 2 || len(rates) != 2 {
		return nil, errors.Errorf("Dilation2D: strides (%v) and rates (%v) must have 2 values", strides, rates)
	}
	window := filterBuf.shape.Dimensions[:2]
	inHeight, inWidth := buf.shape.Dimensions[1], buf.shape.Dimensions[2]
	outHeight, padTop, err := poolAxisGeometry(inHeight, window[0], strides[0], rates[0], padding)
	if err != nil {
		return nil, errors.Wrap(err, "Dilation2D: height")
	}
	outWidth, padLeft, err := poolAxisGeometry(inWidth, window[1], strides[1], rates[1], padding)
	if err != nil {
		return nil, errors.Wrap(err, "Dilation2D: width")
	}

	working := asF32Buffer(buf)
	workingFilter := asF32Buffer(filterBuf)
	output, err := newBuffer(working.shape.DType, buf.shape.Dimensions[0], outHeight, outWidth, channels)
	if err != nil {
		return nil, err
	}
	switch working.shape.DType {
	case dtypes.Float32:
		execDilation2DGeneric(working, workingFilter, output, strides, rates, padTop, padLeft, float32(math.Inf(-1)))
	case dtypes.Float64:
		execDilation2DGeneric(working, workingFilter, output, strides, rates, padTop, padLeft, math.Inf(-1))
	case dtypes.Int64:
		execDilation2DGeneric(working, workingFilter, output, strides, rates, padTop, padLeft, int64(math.MinInt64))
	default:
		return nil, errors.Errorf("Dilation2D: unsupported dtype %s", buf.shape.DType)
	}
	return backToDType(output, buf.shape.DType), nil
}

func execDilation2DGeneric[T supportedTypesConstraints](input, filter, output *Buffer, strides, rates []int, padTop, padLeft int, lowest T) {
	inFlat := input.flat.([]T)
	filterFlat := filter.flat.([]T)
	outFlat := output.flat.([]T)
	batchSize := input.shape.Dimensions[0]
	inHeight, inWidth := input.shape.Dimensions[1], input.shape.Dimensions[2]
	channels := input.shape.Dimensions[3]
	windowHeight, windowWidth := filter.shape.Dimensions[0], filter.shape.Dimensions[1]
	outHeight, outWidth := output.shape.Dimensions[1], output.shape.Dimensions[2]

	outPos := 0
	for batch := 0; batch < batchSize; batch++ {
		batchOffset := batch * inHeight * inWidth * channels
		for outRow := 0; outRow < outHeight; outRow++ {
			for outCol := 0; outCol < outWidth; outCol++ {
				for channel := 0; channel < channels; channel++ {
					best := lowest
					for winRow := 0; winRow < windowHeight; winRow++ {
						row := outRow*strides[0] - padTop + winRow*rates[0]
						if row < 0 || row >= inHeight {
							continue
						}
						for winCol := 0; winCol < windowWidth; winCol++ {
							col := outCol*strides[1] - padLeft + winCol*rates[1]
							if col < 0 || col >= inWidth {
								continue
							}
							value := inFlat[batchOffset+(row*inWidth+col)*channels+channel] +
								filterFlat[(winRow*windowWidth+winCol)*channels+channel]
							if value > best {
								best = value
							}
						}
					}
					outFlat[outPos] = best
					outPos++
				}
			}
		}
	}
}
