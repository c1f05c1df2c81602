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
)

// padsConfig builds a validated builder for pad calculations only; no
// backend or buffer involved.
func padsConfig(t *testing.T, configure func(*PoolBuilder) *PoolBuilder) *PoolBuilder {
	t.Helper()
	p := configure(DilatedMaxPool(nil, nil))
	p.validate()
	return p
}

func TestCalcSamePads(t *testing.T) {
	// Odd total padding of 1: upper puts it at the end, lower at the beginning.
	upper := padsConfig(t, func(p *PoolBuilder) *PoolBuilder {
		return p.KernelShape(2, 2).Strides(2, 2).PadSameUpper()
	})
	assert.Equal(t, []int{0, 1, 0, 1}, upper.calcSamePads([]int{3, 3}))

	lower := padsConfig(t, func(p *PoolBuilder) *PoolBuilder {
		return p.KernelShape(2, 2).Strides(2, 2).PadSameLower()
	})
	assert.Equal(t, []int{1, 0, 1, 0}, lower.calcSamePads([]int{3, 3}))

	// Dilations stretch the effective window: kernel 3 with dilation 2 spans
	// 5 elements, so 5 inputs at stride 2 need 4 units of padding.
	dilated := padsConfig(t, func(p *PoolBuilder) *PoolBuilder {
		return p.KernelShape(3, 3).Strides(2, 2).Dilations(2, 2).PadSameUpper()
	})
	assert.Equal(t, []int{2, 2, 2, 2}, dilated.calcSamePads([]int{5, 5}))

	// Input already a multiple of the stride with a fitting window: no padding.
	exact := padsConfig(t, func(p *PoolBuilder) *PoolBuilder {
		return p.KernelShape(2, 2).Strides(2, 2).PadSameUpper()
	})
	assert.Equal(t, []int{0, 0, 0, 0}, exact.calcSamePads([]int{4, 4}))
}

func TestCalcCeilModePads(t *testing.T) {
	p := padsConfig(t, func(p *PoolBuilder) *PoolBuilder {
		return p.KernelShape(2, 2).Strides(2, 2).CeilMode(true)
	})
	// 5 elements leave a remainder window; 4 divide evenly.
	assert.Equal(t, []int{0, 2, 0, 0}, p.calcCeilModePads([]int{5, 4}))
}

func TestCalcPadsExplicitWithCeilMode(t *testing.T) {
	p := padsConfig(t, func(p *PoolBuilder) *PoolBuilder {
		return p.KernelShape(2, 2).Strides(2, 2).PaddingPerAxis(1, 0, 0, 0).CeilMode(true)
	})
	// Axis 0 is padded to 6, which divides evenly; axis 1 stays at 5 and
	// needs the ceil-mode extension at the end.
	assert.Equal(t, []int{1, 0, 0, 2}, p.calcPads([]int{5, 5}))
}

func TestCalcPadsSameIgnoresCeilMode(t *testing.T) {
	p := padsConfig(t, func(p *PoolBuilder) *PoolBuilder {
		return p.KernelShape(2, 2).Strides(2, 2).PadSameUpper().CeilMode(true)
	})
	// SAME output sizes are already ceil(in/stride); ceil-mode adds nothing.
	assert.Equal(t, []int{0, 1, 0, 1}, p.calcPads([]int{3, 3}))
}
