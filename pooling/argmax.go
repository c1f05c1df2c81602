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
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/maartenvds/onnx-tensorflow/backends"
	"github.com/pkg/errors"
)

// Argmax indices use the TensorFlow flat convention, per batch element:
// (row*width + col)*channels + channel. The remappers below rewrite such
// indices from the tensor the argmax pooling actually ran on (the
// dilation-reduced or the padded input) to the original unpadded input.

// remapArgmax applies fn to every index of the Int64 argmax buffer and
// returns a new buffer of the same shape.
func (s *poolState) remapArgmax(argmax backends.Buffer, fn func(int64) int64) backends.Buffer {
	shape, err := s.backend.BufferShape(argmax)
	if err == nil && shape.DType != dtypes.Int64 {
		err = errors.Errorf("argmax buffer has dtype %s, expected %s", shape.DType, dtypes.Int64)
	}
	var flat []int64
	if err == nil {
		flat = make([]int64, shape.Size())
		err = s.backend.BufferToFlatData(argmax, flat)
	}
	if err == nil {
		for ii, ind := range flat {
			flat[ii] = fn(ind)
		}
		var remapped backends.Buffer
		remapped, err = s.backend.BufferFromFlatData(flat, shape)
		if err == nil {
			return remapped
		}
	}
	panic(errors.Wrap(err, "DilatedMaxPoolWithArgmax: remapping argmax indices"))
}

// remapReducedArgmax rewrites argmax indices that address the
// dilation-reduced tensor: it decomposes each index into reduced row, column
// and channel, maps row and column back through the gather that built the
// reduced tensor, undoes the padding shift, and re-flattens against the
// original input width.
func (s *poolState) remapReducedArgmax(p *PoolBuilder, argmax backends.Buffer) backends.Buffer {
	inWidth := int64(s.origShape.Dim(2))
	numChannels := int64(s.origShape.Dim(3))
	reducedWidth := int64(s.reducedDims[2])
	padTop := int64(s.pads[0])
	padLeft := int64(s.pads[2])
	return s.remapArgmax(argmax, func(ind int64) int64 {
		spatial := ind / numChannels
		channel := ind % numChannels
		row := calcInputIndex(spatial/reducedWidth, p.kernelShape[0], p.strides[0], p.dilations[0]) - padTop
		col := calcInputIndex(spatial%reducedWidth, p.kernelShape[1], p.strides[1], p.dilations[1]) - padLeft
		return (row*inWidth+col)*numChannels + channel
	})
}

// remapPaddedArgmax rewrites argmax indices that address the explicitly
// padded input back to the original one. Rows shrink by the horizontal
// padding, then the whole index shifts by the top and left margins.
func (s *poolState) remapPaddedArgmax(argmax backends.Buffer) backends.Buffer {
	inWidth := int64(s.origShape.Dim(2))
	paddedWidth := int64(s.inputShape.Dim(2))
	numChannels := int64(s.inputShape.Dim(3))
	padTop := int64(s.pads[0])
	padHorizontal := int64(s.pads[2] + s.pads[3])
	padLeft := int64(s.pads[2])
	return s.remapArgmax(argmax, func(ind int64) int64 {
		spatial := ind / numChannels
		channel := ind % numChannels
		spatial -= (spatial / paddedWidth) * padHorizontal
		spatial -= padTop*inWidth + padLeft
		return spatial*numChannels + channel
	})
}
