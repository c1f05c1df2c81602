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

// Package pooling implements N-dimensional dilated (atrous) max pooling on
// top of a host tensor engine (see package backends), including
// VALID/SAME_UPPER/SAME_LOWER/explicit padding, ceil-mode output sizing and,
// for the 2D case, argmax indices remapped to the original unpadded input.
//
// The host engines this was written against (TensorFlow-style primitives)
// support pooling that is either strided or dilated, but not both at once.
// When a configuration needs both, the engine rewrites the problem: it
// gathers exactly the elements each dilated window touches into a larger
// tensor laid out so that a plain pooling with stride = kernel size
// reproduces the dilated result (see reduce.go).
//
// Usage follows the builder pattern:
//
//	pooled := pooling.DilatedMaxPool(backend, x).
//		KernelShape(3, 3).Strides(2, 2).Dilations(2, 2).
//		PadSameUpper().Done()
//
// Input tensors are shaped [batch, <spatial_dimensions...>, channels]
// (channels-last). The input buffer is only read, never modified.
package pooling

import (
	"github.com/gomlx/exceptions"
	"github.com/maartenvds/onnx-tensorflow/backends"
	"github.com/maartenvds/onnx-tensorflow/types/shapes"
	"github.com/maartenvds/onnx-tensorflow/types/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// padKind is the padding policy of a pooling configuration.
type padKind int

const (
	// padValid applies no padding.
	padValid padKind = iota
	// padSameUpper pads to output size ceil(in/stride); an odd total pad puts
	// the extra unit at the end of the axis.
	padSameUpper
	// padSameLower is like padSameUpper, but an odd total pad puts the extra
	// unit at the beginning of the axis.
	padSameLower
	// padExplicit uses caller-provided per-axis amounts.
	padExplicit
)

// PoolBuilder configures a dilated max pooling. Create it with
// DilatedMaxPool, set the desired parameters, and call Done (or
// DoneWithArgmax for the 2D argmax variant).
type PoolBuilder struct {
	backend       backends.Backend
	x             backends.Buffer
	declaredShape shapes.Shape

	kernelShape []int
	strides     []int
	dilations   []int

	padding      padKind
	explicitPads []int // ONNX order: R begin values, then R end values.
	ceilMode     bool
	forceCustom  bool
}

// DilatedMaxPool prepares a dilated max pooling of x, shaped
// [batch, <spatial_dimensions...>, channels], for an arbitrary number of
// spatial dimensions.
//
// The kernel shape must be set with KernelShape; it defines the number of
// spatial dimensions. Everything else has defaults: strides and dilations of
// 1 on every axis, no padding, no ceil-mode.
func DilatedMaxPool(backend backends.Backend, x backends.Buffer) *PoolBuilder {
	return &PoolBuilder{
		backend: backend,
		x:       x,
		padding: padValid,
	}
}

// DeclaredShape sets the declared shape of the input, which may have
// undefined dimensions (shapes.UndefinedDim) for axes only known at
// execution time, the way ONNX models declare symbolic axes.
//
// If not set, or not fully defined, the shape is resolved from the buffer at
// execution time. It returns the modified builder, so calls can be cascaded.
func (p *PoolBuilder) DeclaredShape(shape shapes.Shape) *PoolBuilder {
	p.declaredShape = shape
	return p
}

// KernelShape sets the pooling window size per spatial axis. It is required,
// and its length defines the number of spatial dimensions.
func (p *PoolBuilder) KernelShape(sizes ...int) *PoolBuilder {
	p.kernelShape = xslices.Copy(sizes)
	return p
}

// Strides sets the stride per spatial axis. Give either one value per
// spatial axis, or a single value used for every axis. The default is 1.
func (p *PoolBuilder) Strides(strides ...int) *PoolBuilder {
	p.strides = xslices.Copy(strides)
	return p
}

// Dilations sets the dilation rate per spatial axis. Give either one value
// per spatial axis, or a single value used for every axis. The default is 1.
func (p *PoolBuilder) Dilations(dilations ...int) *PoolBuilder {
	p.dilations = xslices.Copy(dilations)
	return p
}

// NoPadding configures VALID padding: windows are only placed where they
// fully fit in the input. This is the default.
func (p *PoolBuilder) NoPadding() *PoolBuilder {
	p.padding = padValid
	p.explicitPads = nil
	return p
}

// PadSameUpper pads so that the output spatial size is ceil(in/stride); when
// the total padding of an axis is odd, the extra unit goes to the end of the
// axis (ONNX SAME_UPPER, TensorFlow "SAME").
func (p *PoolBuilder) PadSameUpper() *PoolBuilder {
	p.padding = padSameUpper
	p.explicitPads = nil
	return p
}

// PadSameLower is like PadSameUpper, but the extra unit of an odd total
// padding goes to the beginning of the axis (ONNX SAME_LOWER).
func (p *PoolBuilder) PadSameLower() *PoolBuilder {
	p.padding = padSameLower
	p.explicitPads = nil
	return p
}

// PaddingPerAxis sets explicit padding amounts, in ONNX order: the begin
// value of every spatial axis, then the end value of every spatial axis --
// 2*R values in total.
func (p *PoolBuilder) PaddingPerAxis(pads ...int) *PoolBuilder {
	p.padding = padExplicit
	p.explicitPads = xslices.Copy(pads)
	return p
}

// CeilMode sets the output-size rounding policy: when true, output sizes
// round up instead of down, by padding the end of the axes just enough for
// the extra window position. It only affects VALID and explicit padding --
// SAME sizes are already stride-derived and unaffected.
func (p *PoolBuilder) CeilMode(ceilMode bool) *PoolBuilder {
	p.ceilMode = ceilMode
	return p
}

// ForceCustom forces the dilation-reduction implementation even where a
// native primitive could be used. Mostly useful to exercise the custom path
// in tests.
func (p *PoolBuilder) ForceCustom() *PoolBuilder {
	p.forceCustom = true
	return p
}

// numSpatialDims is defined by the kernel shape.
func (p *PoolBuilder) numSpatialDims() int { return len(p.kernelShape) }

// validate checks the configuration and normalizes strides/dilations to one
// value per spatial axis.
func (p *PoolBuilder) validate() {
	numSpatialDims := p.numSpatialDims()
	if numSpatialDims < 1 {
		exceptions.Panicf("pooling: kernel shape required but not configured -- use KernelShape()")
	}
	for _, size := range p.kernelShape {
		if size < 1 {
			exceptions.Panicf("pooling: kernel sizes must be >= 1, got %v", p.kernelShape)
		}
	}
	p.strides = normalizePerAxis("Strides", p.strides, numSpatialDims)
	p.dilations = normalizePerAxis("Dilations", p.dilations, numSpatialDims)
	if p.padding == padExplicit {
		if len(p.explicitPads) != 2*numSpatialDims {
			exceptions.Panicf("pooling: explicit padding requires %d values (begin and end per spatial axis), got %v",
				2*numSpatialDims, p.explicitPads)
		}
		for _, pad := range p.explicitPads {
			if pad < 0 {
				exceptions.Panicf("pooling: explicit padding values must be >= 0, got %v", p.explicitPads)
			}
		}
	}
}

func normalizePerAxis(name string, values []int, numSpatialDims int) []int {
	switch len(values) {
	case 0:
		return xslices.SliceWithValue(numSpatialDims, 1)
	case 1:
		return xslices.SliceWithValue(numSpatialDims, values[0])
	case numSpatialDims:
		for _, v := range values {
			if v < 1 {
				exceptions.Panicf("pooling: %s values must be >= 1, got %v", name, values)
			}
		}
		return values
	}
	exceptions.Panicf("pooling: %s requires 1 or %d values (one per spatial dimension), but %d were given",
		name, numSpatialDims, len(values))
	return nil
}

// resolveInputShape returns the concrete input shape: the declared static
// shape when fully defined, otherwise the buffer's runtime shape. This is
// the single point where dynamic shapes become plain integers; all the
// shape and index arithmetic downstream runs on ints.
func (p *PoolBuilder) resolveInputShape() shapes.Shape {
	shape := p.declaredShape
	if !shape.Ok() || !shape.IsFullyDefined() {
		var err error
		shape, err = p.backend.BufferShape(p.x)
		if err != nil {
			panic(errors.Wrap(err, "pooling: resolving input shape"))
		}
	}
	if shape.Rank() != p.numSpatialDims()+2 {
		exceptions.Panicf("pooling: input must be shaped [batch, spatial..., channels] with %d spatial dimensions (kernel shape %v), got %s",
			p.numSpatialDims(), p.kernelShape, shape)
	}
	return shape
}

func allOnes(values []int) bool {
	for _, v := range values {
		if v != 1 {
			return false
		}
	}
	return true
}

// Done runs the configured dilated max pooling and returns the pooled
// tensor. It panics on invalid configurations or backend failures.
func (p *PoolBuilder) Done() backends.Buffer {
	p.validate()
	state := newPoolState(p)

	// Explicit and SAME_LOWER padding are applied up-front, after which the
	// native primitives run with VALID padding. SAME_UPPER maps directly to
	// the native "SAME". Ceil-mode needs its trailing padding applied
	// up-front too -- SAME output sizes are already ceil-consistent.
	mode := backends.PadValid
	switch p.padding {
	case padExplicit, padSameLower:
		state.padInput(p)
	case padSameUpper:
		mode = backends.PadSame
	case padValid:
		if p.ceilMode {
			state.padInput(p)
		}
	default:
		exceptions.Panicf("pooling: unknown padding mode %d", p.padding)
	}

	var pooled backends.Buffer
	var err error
	switch {
	case p.numSpatialDims() == 2 && !p.forceCustom:
		// The native 2D morphological dilation with a zero filter is exactly
		// a dilated max pooling, and supports strides and rates together.
		klog.V(2).Infof("DilatedMaxPool(%s): native 2D dilation", state.inputShape)
		filter, zerosErr := p.backend.Zeros(shapes.Make(state.inputShape.DType,
			p.kernelShape[0], p.kernelShape[1], state.inputShape.Dim(-1)))
		if zerosErr != nil {
			panic(errors.Wrap(zerosErr, "DilatedMaxPool: creating structuring filter"))
		}
		pooled, err = p.backend.Dilation2D(state.input, filter, p.strides, p.dilations, mode)
	case allOnes(p.strides) || (allOnes(p.dilations) && !p.forceCustom):
		// The native N-D pooling supports non-trivial strides or dilations,
		// but not both at once.
		klog.V(2).Infof("DilatedMaxPool(%s): native N-D pool", state.inputShape)
		pooled, err = p.backend.Pool(state.input, p.kernelShape, p.strides, p.dilations, mode)
	default:
		// General case: reduce the dilations away, then pool the reduced
		// tensor with stride = kernel and no padding.
		klog.V(2).Infof("DilatedMaxPool(%s): custom dilation reduction", state.inputShape)
		if mode == backends.PadSame {
			state.padInput(p)
		}
		reduced := state.reduceDilations(p)
		pooled, err = p.backend.Pool(reduced, p.kernelShape, p.kernelShape, nil, backends.PadValid)
	}
	if err != nil {
		panic(errors.Wrap(err, "DilatedMaxPool: backend pooling failed"))
	}
	return pooled
}

// DoneWithArgmax runs the configured dilated max pooling and returns the
// pooled tensor plus an Int64 tensor of the same shape with, for every
// pooled value, its flat position in the original (unpadded) input:
// (row*width + col)*channels + channel, per batch element.
//
// The underlying argmax primitive only supports 2 spatial dimensions, so
// the kernel shape must have exactly 2 values. It panics otherwise.
func (p *PoolBuilder) DoneWithArgmax() (pooled, argmax backends.Buffer) {
	p.validate()
	if p.numSpatialDims() != 2 {
		exceptions.Panicf("DilatedMaxPoolWithArgmax only supports 2 spatial dimensions, got kernel shape %v", p.kernelShape)
	}
	state := newPoolState(p)

	var err error
	if !allOnes(p.dilations) || p.forceCustom {
		// Dilated case: pad, reduce the dilations away, pool the reduced
		// tensor with argmax, and map the indices back through the
		// reduction gather and the padding.
		klog.V(2).Infof("DilatedMaxPoolWithArgmax(%s): custom dilation reduction", state.inputShape)
		state.padInput(p)
		reduced := state.reduceDilations(p)
		pooled, argmax, err = p.backend.MaxPoolWithArgmax(reduced, p.kernelShape, p.kernelShape, backends.PadValid)
		if err != nil {
			panic(errors.Wrap(err, "DilatedMaxPoolWithArgmax: backend pooling failed"))
		}
		argmax = state.remapReducedArgmax(p, argmax)
		return
	}

	klog.V(2).Infof("DilatedMaxPoolWithArgmax(%s): native argmax pool", state.inputShape)
	mode := backends.PadValid
	switch p.padding {
	case padExplicit, padSameLower:
		state.padInput(p)
	case padSameUpper:
		mode = backends.PadSame
	case padValid:
		if p.ceilMode {
			state.padInput(p)
		}
	}
	pooled, argmax, err = p.backend.MaxPoolWithArgmax(state.input, p.kernelShape, p.strides, mode)
	if err != nil {
		panic(errors.Wrap(err, "DilatedMaxPoolWithArgmax: backend pooling failed"))
	}
	// If the input was explicitly padded the returned indices address the
	// padded tensor and must be shifted back; with the native SAME mode the
	// padding is virtual and the indices are already correct.
	if state.hasPadding() {
		argmax = state.remapPaddedArgmax(argmax)
	}
	return
}
