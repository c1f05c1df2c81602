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
	"math"

	"github.com/maartenvds/onnx-tensorflow/backends"
	"github.com/maartenvds/onnx-tensorflow/types/shapes"
	"github.com/pkg/errors"
)

// poolState carries the per-call execution state of one pooling: the input
// buffer as it moves through padding and dilation reduction, along with the
// bookkeeping needed to map argmax indices back to the original input.
type poolState struct {
	backend backends.Backend

	// input is the working buffer: the original input, then the padded input
	// once padInput has run.
	input      backends.Buffer
	inputShape shapes.Shape

	// origShape is the original, unpadded input shape.
	origShape shapes.Shape

	// pads is the applied padding, interleaved per spatial axis:
	// [begin_1, end_1, begin_2, end_2, ...]. All zeros until padInput runs.
	pads []int

	// reducedDims is the shape of the dilation-reduced tensor,
	// [batch, L_1, ..., L_R, channels]. Set by reduceDilations.
	reducedDims []int
}

func newPoolState(p *PoolBuilder) *poolState {
	shape := p.resolveInputShape()
	return &poolState{
		backend:    p.backend,
		input:      p.x,
		inputShape: shape,
		origShape:  shape,
		pads:       make([]int, 2*p.numSpatialDims()),
	}
}

func (s *poolState) hasPadding() bool {
	for _, pad := range s.pads {
		if pad != 0 {
			return true
		}
	}
	return false
}

// effectiveKernelSize is the input span of a dilated window along one axis.
func effectiveKernelSize(kernel, dilation int) int {
	return (kernel-1)*dilation + 1
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// calcSamePads returns the interleaved SAME padding for the given spatial
// sizes: the total per axis brings the output size to ceil(in/stride), and
// an odd total leans to the end (upper) or the beginning (lower).
func (p *PoolBuilder) calcSamePads(spatial []int) []int {
	pads := make([]int, 2*len(spatial))
	for axis, inSize := range spatial {
		filterSize := effectiveKernelSize(p.kernelShape[axis], p.dilations[axis])
		outSize := ceilDiv(inSize, p.strides[axis])
		total := (outSize-1)*p.strides[axis] + filterSize - inSize
		if total < 0 {
			total = 0
		}
		begin := total / 2
		if p.padding == padSameLower {
			begin = (total + 1) / 2
		}
		pads[2*axis] = begin
		pads[2*axis+1] = total - begin
	}
	return pads
}

// calcCeilModePads returns the extra trailing padding that makes the output
// size round up instead of down, given the spatial sizes after any other
// padding. When (in - filterSize) divides the stride evenly there is nothing
// to round; otherwise one full extra stride at the end yields exactly one
// more window position.
func (p *PoolBuilder) calcCeilModePads(spatial []int) []int {
	pads := make([]int, 2*len(spatial))
	for axis, inSize := range spatial {
		filterSize := effectiveKernelSize(p.kernelShape[axis], p.dilations[axis])
		if (inSize-filterSize)%p.strides[axis] != 0 {
			pads[2*axis+1] = p.strides[axis]
		}
	}
	return pads
}

// calcPads returns the full interleaved padding for the configured policy,
// including the ceil-mode extension where it applies.
func (p *PoolBuilder) calcPads(spatial []int) []int {
	numSpatialDims := len(spatial)
	var pads []int
	switch p.padding {
	case padSameUpper, padSameLower:
		pads = p.calcSamePads(spatial)
	case padExplicit:
		pads = make([]int, 2*numSpatialDims)
		for axis := range spatial {
			pads[2*axis] = p.explicitPads[axis]
			pads[2*axis+1] = p.explicitPads[numSpatialDims+axis]
		}
	default:
		pads = make([]int, 2*numSpatialDims)
	}
	// SAME output sizes are derived from the stride alone, so they are
	// already "ceiled"; only VALID and explicit padding need the extension.
	if p.ceilMode && p.padding != padSameUpper && p.padding != padSameLower {
		padded := make([]int, numSpatialDims)
		for axis, inSize := range spatial {
			padded[axis] = inSize + pads[2*axis] + pads[2*axis+1]
		}
		for axis, extra := range p.calcCeilModePads(padded) {
			pads[axis] += extra
		}
	}
	return pads
}

// padInput materializes the configured padding: it pads the spatial axes of
// the working buffer with -inf and records the amounts, so later stages can
// run with VALID padding and argmax indices can be shifted back. It is a
// no-op when the configuration implies no padding.
func (s *poolState) padInput(p *PoolBuilder) {
	if !p.ceilMode {
		switch p.padding {
		case padValid:
			return
		case padExplicit:
			if !s.anyNonZero(p.explicitPads) {
				return
			}
		}
	}
	numSpatialDims := p.numSpatialDims()
	pads := p.calcPads(s.inputShape.Dimensions[1 : 1+numSpatialDims])
	if !s.anyNonZero(pads) {
		return
	}
	rank := s.inputShape.Rank()
	padLow := make([]int, rank)
	padHigh := make([]int, rank)
	for axis := 0; axis < numSpatialDims; axis++ {
		padLow[1+axis] = pads[2*axis]
		padHigh[1+axis] = pads[2*axis+1]
	}
	padded, err := s.backend.Pad(s.input, padLow, padHigh, math.Inf(-1))
	if err != nil {
		panic(errors.Wrap(err, "DilatedMaxPool: padding input"))
	}
	s.input = padded
	s.pads = pads
	shape := s.origShape.Clone()
	for axis := 0; axis < rank; axis++ {
		shape.Dimensions[axis] += padLow[axis] + padHigh[axis]
	}
	s.inputShape = shape
}

func (s *poolState) anyNonZero(values []int) bool {
	for _, v := range values {
		if v != 0 {
			return true
		}
	}
	return false
}
