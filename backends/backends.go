// Package backends defines the interface the pooling engine requires from a
// host tensor engine: constant padding, plain (non-dilated or non-strided)
// pooling, 2D pooling with argmax, morphological dilation, batched
// multi-index gather and a few data-movement helpers.
//
// The interface is an arm's-length contract: the engine only does index and
// shape arithmetic, and delegates all array work to a registered Backend.
// A pure Go reference implementation lives in
// github.com/maartenvds/onnx-tensorflow/backends/simplego.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/maartenvds/onnx-tensorflow/types/shapes"
)

// Buffer represents a dense tensor held by a backend.
//
// It is opaque from the engine's perspective: only the backend that created
// it knows its layout. Use Backend.BufferShape and Backend.BufferToFlatData
// to inspect it.
type Buffer any

// PadMode is the padding policy of the native pooling primitives.
type PadMode int

const (
	// PadValid applies no padding: windows must fit entirely inside the input.
	PadValid PadMode = iota

	// PadSame pads so that the output spatial size is ceil(inputSize/stride).
	// When the total padding of an axis is odd, the extra unit goes to the
	// end of the axis (TensorFlow's convention, aka. SAME_UPPER). Padding is
	// "virtual": it never wins a max and argmax indices refer to the
	// unpadded coordinates.
	PadSame
)

// String implements fmt.Stringer.
func (m PadMode) String() string {
	switch m {
	case PadValid:
		return "VALID"
	case PadSame:
		return "SAME"
	}
	return "INVALID"
}

// Backend is the API a host tensor engine needs to implement to be used by
// the pooling engine.
//
// All tensors are laid out as [batch, <spatial_dimensions...>, channels]
// (channels-last). Per-spatial-axis parameters (window, strides, dilations,
// paddings) have one value per spatial axis, so length rank-2.
//
// Methods never mutate their inputs; every result is a freshly allocated
// buffer.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the pure Go backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// BufferFromFlatData creates a buffer from data given as a flat slice --
	// of the Go type corresponding to shape.DType. The shape must be fully
	// defined. The flat data is copied.
	BufferFromFlatData(flat any, shape shapes.Shape) (Buffer, error)

	// BufferToFlatData transfers the flat values of buffer to the Go flat array.
	// The slice flat must have the exact number of elements required to store
	// the buffer shape.
	BufferToFlatData(buffer Buffer, flat any) error

	// BufferShape returns the shape for the buffer. Buffers hold concrete
	// data, so the returned shape is always fully defined -- this is how
	// dynamic (partially declared) shapes are resolved at execution time.
	BufferShape(buffer Buffer) (shapes.Shape, error)

	// Zeros returns a buffer of the given (fully defined) shape filled with zeros.
	Zeros(shape shapes.Shape) (Buffer, error)

	// Pad pads every axis of x with padLow[axis] leading and padHigh[axis]
	// trailing copies of the constant value (converted to x's dtype;
	// math.Inf(-1) yields the dtype's negative infinity).
	Pad(x Buffer, padLow, padHigh []int, value float64) (Buffer, error)

	// Reshape returns x reshaped to the given dimensions; the total size must
	// not change.
	Reshape(x Buffer, dimensions ...int) (Buffer, error)

	// Tile repeats x multiples[axis] times along each axis.
	Tile(x Buffer, multiples ...int) (Buffer, error)

	// GatherND gathers slices of x at the given integer multi-indices, with
	// the leading batchDims axes of x and indices matched pairwise
	// (TensorFlow gather_nd semantics). The last axis of indices holds the
	// multi-index; when it is shorter than the rank of x (minus batchDims),
	// whole trailing slices are gathered.
	GatherND(x, indices Buffer, batchDims int) (Buffer, error)

	// Pool computes a MAX pooling of x over the given window. It supports
	// non-trivial strides or non-trivial dilations, but not both at the same
	// time -- it returns an error if both are given.
	//
	// strides and dilations may be nil, meaning all 1.
	Pool(x Buffer, window, strides, dilations []int, padding PadMode) (Buffer, error)

	// MaxPoolWithArgmax computes a 2D MAX pooling and also returns, for each
	// pooled value, its source position as an Int64 buffer of the same shape.
	// Indices are per-batch flat positions (row*width+col)*channels+channel
	// into the input it was given; with PadSame the padding is virtual and
	// indices refer to the unpadded coordinates.
	//
	// It only supports 2 spatial dimensions (input rank 4).
	MaxPoolWithArgmax(x Buffer, window, strides []int, padding PadMode) (pooled, argmax Buffer, err error)

	// Dilation2D computes a 2D morphological dilation of x with the given
	// structuring filter, shaped [windowRows, windowCols, channels]: the max
	// of x+filter over each (dilated by rates) window. With a zero-valued
	// filter it is exactly a dilated max pooling.
	Dilation2D(x, filter Buffer, strides, rates []int, padding PadMode) (Buffer, error)
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
const ConfigEnvVar = "ONNXTF_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment ONNXTF_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates a Backend from a configuration string formatted as
// "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends -- maybe import the default pure Go one with import _ "github.com/maartenvds/onnx-tensorflow/backends/simplego"?`)
	}
	backendName := config
	backendConfig := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
