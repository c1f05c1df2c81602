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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcInputIndex(t *testing.T) {
	// Kernel 2, stride 1, dilation 2: windows {0, 2}, {1, 3}, ...
	got := make([]int64, 4)
	for ind := range got {
		got[ind] = calcInputIndex(int64(ind), 2, 1, 2)
	}
	assert.Equal(t, []int64{0, 2, 1, 3}, got)

	// Kernel 3, stride 2, no dilation: windows {0, 1, 2}, {2, 3, 4}, ...
	got = make([]int64, 6)
	for ind := range got {
		got[ind] = calcInputIndex(int64(ind), 3, 2, 1)
	}
	assert.Equal(t, []int64{0, 1, 2, 2, 3, 4}, got)
}

func TestReducedAxisSize(t *testing.T) {
	// 4 elements, kernel 2, stride 1, dilation 2: windows start at 0 and 1.
	assert.Equal(t, 4, reducedAxisSize(4, 2, 1, 2))
	// Stride 2 leaves a single window.
	assert.Equal(t, 2, reducedAxisSize(4, 2, 2, 2))
	// No dilation, stride = kernel: the reduction is the identity.
	assert.Equal(t, 4, reducedAxisSize(4, 2, 2, 1))
}

func TestReduceDilations(t *testing.T) {
	backend := testBackend()
	x := iotaInput(t, backend, 1, 4, 4, 1)

	p := DilatedMaxPool(backend, x).KernelShape(2, 2).Strides(1, 1).Dilations(2, 2)
	p.validate()
	state := newPoolState(p)
	reduced := state.reduceDilations(p)

	// Per axis the gather order is [0, 2, 1, 3]: each dilated window becomes
	// a contiguous 2x2 block.
	assert.Equal(t, []int{1, 4, 4, 1}, state.reducedDims)
	want := []float32{
		0, 2, 1, 3,
		8, 10, 9, 11,
		4, 6, 5, 7,
		12, 14, 13, 15,
	}
	assert.Equal(t, want, flatF32(t, backend, reduced))
}

func TestReduceDilationsIdentity(t *testing.T) {
	backend := testBackend()
	// Batch of 2 with 2 channels. With stride = kernel and no dilation every
	// element is gathered exactly once, in order.
	x := iotaInput(t, backend, 2, 2, 2, 2)

	p := DilatedMaxPool(backend, x).KernelShape(2, 2).Strides(2, 2)
	p.validate()
	state := newPoolState(p)
	reduced := state.reduceDilations(p)

	assert.Equal(t, []int{2, 2, 2, 2}, state.reducedDims)
	assert.Equal(t, flatF32(t, backend, x), flatF32(t, backend, reduced))
}

func TestReduceDilationsWindowTooLarge(t *testing.T) {
	backend := testBackend()
	x := iotaInput(t, backend, 1, 2, 2, 1)

	p := DilatedMaxPool(backend, x).KernelShape(2, 2).Strides(1, 1).Dilations(2, 2)
	p.validate()
	state := newPoolState(p)
	// Effective window of 3 does not fit a spatial dimension of 2.
	require.Panics(t, func() { state.reduceDilations(p) })
}
