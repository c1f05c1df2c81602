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
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/maartenvds/onnx-tensorflow/types/shapes"
	"github.com/stretchr/testify/assert"
)

func TestRemapPaddedArgmax(t *testing.T) {
	backend := testBackend()
	// A 3x3 input padded by 1 at the top and left becomes 4x4; the argmax
	// indices below address the padded tensor.
	state := &poolState{
		backend:    backend,
		inputShape: shapes.Make(dtypes.Float32, 1, 4, 4, 1),
		origShape:  shapes.Make(dtypes.Float32, 1, 3, 3, 1),
		pads:       []int{1, 0, 1, 0},
	}
	argmax := must.M1(backend.BufferFromFlatData(
		[]int64{5, 7, 13, 15}, shapes.Make(dtypes.Int64, 1, 2, 2, 1)))

	remapped := state.remapPaddedArgmax(argmax)
	assert.Equal(t, []int64{0, 2, 6, 8}, flatI64(t, backend, remapped))
}

func TestRemapReducedArgmax(t *testing.T) {
	backend := testBackend()
	// Pooling a 4x4 input with kernel 2, stride 2, dilation 2 reduces it to
	// 2x2 holding positions (0,0), (0,2), (2,0), (2,2). The single pooled
	// maximum sits at reduced position (1,1), flat index 3.
	p := DilatedMaxPool(backend, nil).KernelShape(2, 2).Strides(2, 2).Dilations(2, 2)
	p.validate()
	state := &poolState{
		backend:     backend,
		inputShape:  shapes.Make(dtypes.Float32, 1, 4, 4, 1),
		origShape:   shapes.Make(dtypes.Float32, 1, 4, 4, 1),
		pads:        []int{0, 0, 0, 0},
		reducedDims: []int{1, 2, 2, 1},
	}
	argmax := must.M1(backend.BufferFromFlatData(
		[]int64{3}, shapes.Make(dtypes.Int64, 1, 1, 1, 1)))

	remapped := state.remapReducedArgmax(p, argmax)
	// Reduced (1,1) maps to input (2,2): flat index 10.
	assert.Equal(t, []int64{10}, flatI64(t, backend, remapped))
}

func TestRemapReducedArgmaxWithPadding(t *testing.T) {
	backend := testBackend()
	// Same geometry, but the input was padded by 1 at the top and left
	// before the reduction: indices shift back by the padding.
	p := DilatedMaxPool(backend, nil).KernelShape(2, 2).Strides(2, 2).Dilations(2, 2)
	p.validate()
	state := &poolState{
		backend:     backend,
		inputShape:  shapes.Make(dtypes.Float32, 1, 5, 5, 1),
		origShape:   shapes.Make(dtypes.Float32, 1, 4, 4, 1),
		pads:        []int{1, 0, 1, 0},
		reducedDims: []int{1, 4, 4, 1},
	}
	// Reduced (2, 2) is padded position (2, 2): calcInputIndex(2) = 2.
	argmax := must.M1(backend.BufferFromFlatData(
		[]int64{10}, shapes.Make(dtypes.Int64, 1, 1, 1, 1)))

	remapped := state.remapReducedArgmax(p, argmax)
	// Padded (2, 2) is original (1, 1): flat index 5.
	assert.Equal(t, []int64{5}, flatI64(t, backend, remapped))
}
