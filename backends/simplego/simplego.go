// Package simplego implements a simple, and not very fast, but very portable
// pure Go backend for the pooling engine.
//
// It implements the most popular dtypes (Float32, Float64, Float16 and Int64)
// and executes everything eagerly on flat slices.
package simplego

import (
	"github.com/maartenvds/onnx-tensorflow/backends"
)

// BackendName to be used in ONNXTF_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
// There are no configurations, the string is simply ignored.
func New(_ string) backends.Backend {
	return &Backend{}
}

// Backend implements the backends.Backend interface.
type Backend struct{}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "SimpleGo (go)"
}

// String implement fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go Portable Backend"
}
