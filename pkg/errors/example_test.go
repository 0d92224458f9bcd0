// Package errors provides examples of structured error handling in Tessera.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := errors.New(errors.ErrorTypeTargetLocked, "target is locked")

	// Add context details
	err = err.WithDetail("lock", "t.cube.lock").
		WithDetail("pid", 4321)

	// Print the error
	fmt.Println(err.Error())

	// Output:
	// target_locked: target is locked
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	// Simulate an underlying error
	originalErr := io.EOF

	// Wrap the error with context
	err := errors.Wrap(originalErr, errors.ErrorTypeIO, "failed to read chunk").
		WithDetail("path", "t.cube/v/0.0.0").
		WithDetail("op", "read")

	// Check the error type
	if errors.IsType(err, errors.ErrorTypeIO) {
		fmt.Println("This is an io error")
	}

	fmt.Println(err.Error())

	// Output:
	// This is an io error
	// io: failed to read chunk: EOF
}

// ExampleAttachNotes shows how rollback failures ride along with the
// original transaction error.
func ExampleAttachNotes() {
	cause := errors.New(errors.ErrorTypeSliceShape, "append-axis size 2, expected 1")

	err := errors.AttachNotes(cause, "rollback: failed to delete t.cube/v/2.0.0")

	fmt.Println(err.Error())

	// Output:
	// slice_shape: append-axis size 2, expected 1
	//   note: rollback: failed to delete t.cube/v/2.0.0
}
