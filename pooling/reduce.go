/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package pooling

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/maartenvds/onnx-tensorflow/backends"
	"github.com/maartenvds/onnx-tensorflow/types/shapes"
	"github.com/pkg/errors"
)

// calcInputIndex maps an index into the dilation-reduced axis back to the
// input position it was gathered from. The reduced axis concatenates, window
// position by window position, the kernelSize elements each dilated window
// reads: index ind belongs to window ind/kernelSize at in-window offset
// ind%kernelSize, which sits at
//
//	(ind/kernelSize)*stride + (ind%kernelSize)*dilation
//
// in the input. The formula below is that expression with the modulo
// rewritten away.
func calcInputIndex(ind int64, kernelSize, stride, dilation int) int64 {
	k, s, d := int64(kernelSize), int64(stride), int64(dilation)
	return (ind/k)*(s-k*d) + ind*d
}

// reducedAxisSize is the length of the dilation-reduced axis: kernelSize
// elements for each position the dilated window fits at.
func reducedAxisSize(inSize, kernelSize, stride, dilation int) int {
	filterSize := effectiveKernelSize(kernelSize, dilation)
	return ((inSize-filterSize)/stride + 1) * kernelSize
}

// crossIndexRows prefixes every row with every value of local, local varying
// slowest. With rows built innermost-axis first, this grows gather rows into
// [d_1, ..., d_R, channel] coordinate order, channel fastest.
func crossIndexRows(local []int64, rows [][]int64) [][]int64 {
	out := make([][]int64, 0, len(local)*len(rows))
	for _, v := range local {
		for _, row := range rows {
			grown := make([]int64, 0, len(row)+1)
			grown = append(grown, v)
			grown = append(grown, row...)
			out = append(out, grown)
		}
	}
	return out
}

// reduceDilations rewrites the (already padded) working buffer into its
// dilation-reduced form: a tensor shaped [batch, L_1, ..., L_R, channels]
// where every dilated window of the input appears as one contiguous
// kernel-shaped block, so that pooling it with stride = kernel size and no
// padding computes the dilated pooling. Elements read by several windows are
// duplicated.
//
// The gather table is built on the host: one [d_1, ..., d_R, channel] row
// per reduced element, tiled across the batch, then resolved in one GatherND
// with the batch as a leading batch dimension.
func (s *poolState) reduceDilations(p *PoolBuilder) backends.Buffer {
	numSpatialDims := p.numSpatialDims()
	batchSize := s.inputShape.Dim(0)
	numChannels := s.inputShape.Dim(-1)

	// Rows start as the channel column and grow by one spatial column per
	// axis, innermost first, so the outermost spatial axis ends up varying
	// slowest.
	rows := make([][]int64, numChannels)
	for c := range rows {
		rows[c] = []int64{int64(c)}
	}
	reducedSpatial := make([]int, numSpatialDims)
	for axis := numSpatialDims - 1; axis >= 0; axis-- {
		inSize := s.inputShape.Dim(1 + axis)
		outSize := reducedAxisSize(inSize, p.kernelShape[axis], p.strides[axis], p.dilations[axis])
		if outSize <= 0 {
			exceptions.Panicf("DilatedMaxPool: window of size %d with dilation %d does not fit input spatial dimension %d of size %d",
				p.kernelShape[axis], p.dilations[axis], axis, inSize)
		}
		local := make([]int64, outSize)
		for ind := range local {
			local[ind] = calcInputIndex(int64(ind), p.kernelShape[axis], p.strides[axis], p.dilations[axis])
		}
		rows = crossIndexRows(local, rows)
		reducedSpatial[axis] = outSize
	}

	numRows := len(rows)
	rowLen := numSpatialDims + 1
	flat := make([]int64, 0, numRows*rowLen)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	indices, err := s.backend.BufferFromFlatData(flat, shapes.Make(dtypes.Int64, 1, numRows, rowLen))
	if err == nil {
		// Same gather table for every batch element.
		indices, err = s.backend.Tile(indices, batchSize, 1, 1)
	}
	var gathered backends.Buffer
	if err == nil {
		gathered, err = s.backend.GatherND(s.input, indices, 1)
	}
	if err != nil {
		panic(errors.Wrap(err, "DilatedMaxPool: gathering dilation-reduced tensor"))
	}

	s.reducedDims = make([]int, 0, numSpatialDims+2)
	s.reducedDims = append(s.reducedDims, batchSize)
	s.reducedDims = append(s.reducedDims, reducedSpatial...)
	s.reducedDims = append(s.reducedDims, numChannels)
	reduced, err := s.backend.Reshape(gathered, s.reducedDims...)
	if err != nil {
		panic(errors.Wrap(err, "DilatedMaxPool: reshaping dilation-reduced tensor"))
	}
	return reduced
}
