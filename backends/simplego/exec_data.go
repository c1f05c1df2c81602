package simplego

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"github.com/maartenvds/onnx-tensorflow/backends"
	"github.com/maartenvds/onnx-tensorflow/types/shapes"
)

// movableConstraints are the element types the data-movement ops copy
// around -- no arithmetic is performed, so float16 is handled natively.
type movableConstraints interface {
	float32 | float64 | int64 | float16.Float16
}

// Pad pads every axis of x with the constant value.
func (b *Backend) Pad(x backends.Buffer, padLow, padHigh []int, value float64) (backends.Buffer, error) {
	buf, err := castBuffer(x)
	if err != nil {
		return nil, err
	}
	rank := buf.shape.Rank()
	if len(padLow) != rank || len(padHigh) != rank {
		return nil, errors.Errorf("Pad: padLow/padHigh must have one value per axis of x (rank %d), got %d/%d values",
			rank, len(padLow), len(padHigh))
	}
	outDims := make([]int, rank)
	for axis := range outDims {
		if padLow[axis] < 0 || padHigh[axis] < 0 {
			return nil, errors.Errorf("Pad: negative padding (%d, %d) on axis %d", padLow[axis], padHigh[axis], axis)
		}
		outDims[axis] = buf.shape.Dimensions[axis] + padLow[axis] + padHigh[axis]
	}
	output, err := newBuffer(buf.shape.DType, outDims...)
	if err != nil {
		return nil, err
	}
	switch buf.shape.DType {
	case dtypes.Float32:
		execPadGeneric(buf, output, padLow, float32(value))
	case dtypes.Float64:
		execPadGeneric(buf, output, padLow, value)
	case dtypes.Float16:
		execPadGeneric(buf, output, padLow, float16.Fromfloat32(float32(value)))
	case dtypes.Int64:
		padValue := int64(value)
		if math.IsInf(value, -1) {
			padValue = math.MinInt64
		} else if math.IsInf(value, 1) {
			padValue = math.MaxInt64
		}
		execPadGeneric(buf, output, padLow, padValue)
	}
	return output, nil
}

func execPadGeneric[T movableConstraints](input, output *Buffer, padLow []int, value T) {
	inFlat := input.flat.([]T)
	outFlat := output.flat.([]T)
	for ii := range outFlat {
		outFlat[ii] = value
	}
	inDims := input.shape.Dimensions
	outStrides := rowMajorStrides(output.shape.Dimensions)
	rank := len(inDims)
	if rank == 0 {
		outFlat[0] = inFlat[0]
		return
	}

	// Copy one contiguous innermost row at a time.
	rowLen := inDims[rank-1]
	coords := make([]int, rank-1)
	for rowStart := 0; rowStart < len(inFlat); rowStart += rowLen {
		outOffset := padLow[rank-1]
		for axis, coord := range coords {
			outOffset += (coord + padLow[axis]) * outStrides[axis]
		}
		copy(outFlat[outOffset:outOffset+rowLen], inFlat[rowStart:rowStart+rowLen])

		// Odometer increment of the outer coordinates.
		for axis := rank - 2; axis >= 0; axis-- {
			coords[axis]++
			if coords[axis] < inDims[axis] {
				break
			}
			coords[axis] = 0
		}
	}
}

// Reshape returns x reshaped to the given dimensions.
func (b *Backend) Reshape(x backends.Buffer, dimensions ...int) (backends.Buffer, error) {
	buf, err := castBuffer(x)
	if err != nil {
		return nil, err
	}
	newShape := shapes.Make(buf.shape.DType, dimensions...)
	if newShape.Size() != buf.shape.Size() {
		return nil, errors.Errorf("Reshape: new dimensions %v have %d elements, but x has shape %s with %d elements",
			dimensions, newShape.Size(), buf.shape, buf.shape.Size())
	}
	output, err := newBuffer(newShape.DType, newShape.Dimensions...)
	if err != nil {
		return nil, err
	}
	copyFlat(output.flat, buf.flat)
	return output, nil
}

// Tile repeats x multiples[axis] times along each axis.
func (b *Backend) Tile(x backends.Buffer, multiples ...int) (backends.Buffer, error) {
	buf, err := castBuffer(x)
	if err != nil {
		return nil, err
	}
	rank := buf.shape.Rank()
	if len(multiples) != rank {
		return nil, errors.Errorf("Tile: multiples must have one value per axis of x (rank %d), got %v", rank, multiples)
	}
	outDims := make([]int, rank)
	for axis, mult := range multiples {
		if mult < 1 {
			return nil, errors.Errorf("Tile: multiples must be >= 1, got %v", multiples)
		}
		outDims[axis] = buf.shape.Dimensions[axis] * mult
	}
	output, err := newBuffer(buf.shape.DType, outDims...)
	if err != nil {
		return nil, err
	}
	switch buf.shape.DType {
	case dtypes.Float32:
		execTileGeneric[float32](buf, output)
	case dtypes.Float64:
		execTileGeneric[float64](buf, output)
	case dtypes.Float16:
		execTileGeneric[float16.Float16](buf, output)
	case dtypes.Int64:
		execTileGeneric[int64](buf, output)
	}
	return output, nil
}

func execTileGeneric[T movableConstraints](input, output *Buffer) {
	inFlat := input.flat.([]T)
	outFlat := output.flat.([]T)
	inDims := input.shape.Dimensions
	outDims := output.shape.Dimensions
	inStrides := rowMajorStrides(inDims)
	rank := len(inDims)
	if rank == 0 {
		outFlat[0] = inFlat[0]
		return
	}
	coords := make([]int, rank)
	for ii := range outFlat {
		inOffset := 0
		for axis, coord := range coords {
			inOffset += (coord % inDims[axis]) * inStrides[axis]
		}
		outFlat[ii] = inFlat[inOffset]
		for axis := rank - 1; axis >= 0; axis-- {
			coords[axis]++
			if coords[axis] < outDims[axis] {
				break
			}
			coords[axis] = 0
		}
	}
}

// GatherND gathers slices of x at the given multi-indices, with the leading
// batchDims axes matched pairwise between x and indices.
func (b *Backend) GatherND(x, indices backends.Buffer, batchDims int) (backends.Buffer, error) {
	buf, err := castBuffer(x)
	if err != nil {
		return nil, err
	}
	idxBuf, err := castBuffer(indices)
	if err != nil {
		return nil, err
	}
	if idxBuf.shape.DType != dtypes.Int64 {
		return nil, errors.Errorf("GatherND: indices must be Int64, got %s", idxBuf.shape)
	}
	xRank, idxRank := buf.shape.Rank(), idxBuf.shape.Rank()
	if batchDims < 0 || batchDims >= idxRank || batchDims >= xRank {
		return nil, errors.Errorf("GatherND: invalid batchDims %d for x %s and indices %s", batchDims, buf.shape, idxBuf.shape)
	}
	for axis := 0; axis < batchDims; axis++ {
		if buf.shape.Dimensions[axis] != idxBuf.shape.Dimensions[axis] {
			return nil, errors.Errorf("GatherND: batch dimensions of x %s and indices %s differ on axis %d",
				buf.shape, idxBuf.shape, axis)
		}
	}
	indexLen := idxBuf.shape.Dimensions[idxRank-1]
	if batchDims+indexLen > xRank {
		return nil, errors.Errorf("GatherND: index length %d too large for x %s with batchDims %d",
			indexLen, buf.shape, batchDims)
	}

	// Output shape: indices shape minus its last axis, plus the slice shape
	// left over from x.
	outDims := make([]int, 0, idxRank-1+xRank-batchDims-indexLen)
	outDims = append(outDims, idxBuf.shape.Dimensions[:idxRank-1]...)
	outDims = append(outDims, buf.shape.Dimensions[batchDims+indexLen:]...)
	output, err := newBuffer(buf.shape.DType, outDims...)
	if err != nil {
		return nil, err
	}
	switch buf.shape.DType {
	case dtypes.Float32:
		err = execGatherNDGeneric[float32](buf, idxBuf, output, batchDims)
	case dtypes.Float64:
		err = execGatherNDGeneric[float64](buf, idxBuf, output, batchDims)
	case dtypes.Float16:
		err = execGatherNDGeneric[float16.Float16](buf, idxBuf, output, batchDims)
	case dtypes.Int64:
		err = execGatherNDGeneric[int64](buf, idxBuf, output, batchDims)
	}
	if err != nil {
		return nil, err
	}
	return output, nil
}

func execGatherNDGeneric[T movableConstraints](input, indices, output *Buffer, batchDims int) error {
	inFlat := input.flat.([]T)
	idxFlat := indices.flat.([]int64)
	outFlat := output.flat.([]T)

	inDims := input.shape.Dimensions
	idxDims := indices.shape.Dimensions
	inStrides := rowMajorStrides(inDims)
	indexLen := idxDims[len(idxDims)-1]

	batchSize := 1
	for _, dim := range inDims[:batchDims] {
		batchSize *= dim
	}
	numIndices := 1
	for _, dim := range idxDims[batchDims : len(idxDims)-1] {
		numIndices *= dim
	}
	sliceSize := 1
	for _, dim := range inDims[batchDims+indexLen:] {
		sliceSize *= dim
	}
	inBatchStride := len(inFlat) / max(batchSize, 1)

	idxPos := 0
	outPos := 0
	for batch := 0; batch < batchSize; batch++ {
		for n := 0; n < numIndices; n++ {
			inOffset := batch * inBatchStride
			for k := 0; k < indexLen; k++ {
				index := idxFlat[idxPos]
				idxPos++
				dim := inDims[batchDims+k]
				if index < 0 || index >= int64(dim) {
					return errors.Errorf("GatherND: index %d out of range [0, %d) on axis %d", index, dim, batchDims+k)
				}
				inOffset += int(index) * inStrides[batchDims+k]
			}
			copy(outFlat[outPos:outPos+sliceSize], inFlat[inOffset:inOffset+sliceSize])
			outPos += sliceSize
		}
	}
	return nil
}
