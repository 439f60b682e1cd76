package tensor

import (
	"fmt"
	"slices"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ID identifies a tensor handle within a Memory.
type ID int64

type DType string

const (
	Float32 DType = "float32"
	Int32   DType = "int32"
	Bool    DType = "bool"
)

func ParseDType(s string) (DType, error) {
	switch DType(s) {
	case Float32, Int32, Bool:
		return DType(s), nil
	default:
		return "", status.Errorf(codes.InvalidArgument, "unknown dtype %q", s)
	}
}

// Tensor is an opaque handle to tensor storage.
// Handles are compared by identity; two tensors with equal contents are still distinct.
type Tensor struct {
	id     ID
	dtype  DType
	shape  []int
	values []float32

	memory   *Memory
	disposed atomic.Bool
}

func (t *Tensor) ID() ID {
	return t.id
}

func (t *Tensor) DType() DType {
	return t.dtype
}

// Shape returns a copy of the tensor dimensions.
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Size is the number of elements.
func (t *Tensor) Size() int {
	return NumElements(t.shape)
}

// Values returns the element storage, in row-major order.
// The returned slice must not be modified.
func (t *Tensor) Values() ([]float32, error) {
	if t.disposed.Load() {
		return nil, status.Errorf(codes.FailedPrecondition, "tensor %d is disposed", t.id)
	}
	return t.values, nil
}

// Scalar returns the single value of a tensor with exactly one element.
func (t *Tensor) Scalar() (float32, error) {
	values, err := t.Values()
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, status.Errorf(codes.InvalidArgument, "tensor %d with shape %v is not a scalar", t.id, t.shape)
	}
	return values[0], nil
}

// Dispose releases the tensor storage.
// Disposing a tensor that is already disposed has no effect.
func (t *Tensor) Dispose() {
	if t.disposed.Swap(true) {
		return
	}
	t.values = nil
	if t.memory != nil {
		t.memory.release(t)
	}
}

func (t *Tensor) IsDisposed() bool {
	return t.disposed.Load()
}

func (t *Tensor) String() string {
	if t.disposed.Load() {
		return fmt.Sprintf("Tensor(%d, %s, %v, disposed)", t.id, t.dtype, t.shape)
	}
	return fmt.Sprintf("Tensor(%d, %s, %v)", t.id, t.dtype, t.shape)
}

func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
