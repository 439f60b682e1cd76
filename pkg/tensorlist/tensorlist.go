package tensorlist

import (
	"fmt"
	"slices"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

type Config struct {
	Size  int
	DType tensor.DType

	// ElementShape, when set, is the shape every element must have.
	ElementShape []int

	// DynamicSize lets writes past the end grow the list.
	DynamicSize bool

	// ClearAfterRead releases a slot once it has been read.
	ClearAfterRead bool

	// IdenticalElementShapes requires all elements to share the shape of the first one written.
	IdenticalElementShapes bool

	Name string
}

// TensorList is an indexed, growable list of tensors that flows through loop iterations.
type TensorList struct {
	config Config
	slots  []slot
	closed bool

	// dropped holds handles the list stopped referencing since the last Dropped call.
	dropped []*tensor.Tensor
}

type slot struct {
	tensor  *tensor.Tensor
	cleared bool
}

func New(config Config) (*TensorList, error) {
	if config.Size < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "tensor list %q: size must be non-negative, got %d", config.Name, config.Size)
	}
	if config.DType == "" {
		config.DType = tensor.Float32
	}
	config.ElementShape = slices.Clone(config.ElementShape)
	return &TensorList{
		config: config,
		slots:  make([]slot, config.Size),
	}, nil
}

func (l *TensorList) Name() string {
	return l.config.Name
}

func (l *TensorList) DType() tensor.DType {
	return l.config.DType
}

func (l *TensorList) Size() int {
	return len(l.slots)
}

func (l *TensorList) String() string {
	return fmt.Sprintf("TensorList(%q, %s, size=%d)", l.config.Name, l.config.DType, len(l.slots))
}

// Write stores t at index, growing the list when DynamicSize is set.
// The list holds the handle; it does not copy the data.
func (l *TensorList) Write(index int, t *tensor.Tensor) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if index < 0 {
		return status.Errorf(codes.OutOfRange, "tensor list %q: index %d is negative", l.config.Name, index)
	}
	if index >= len(l.slots) {
		if !l.config.DynamicSize {
			return status.Errorf(codes.OutOfRange, "tensor list %q: write index %d is beyond size %d and the list does not grow", l.config.Name, index, len(l.slots))
		}
		l.slots = append(l.slots, make([]slot, index+1-len(l.slots))...)
	}
	if err := l.checkElement(t); err != nil {
		return err
	}
	if old := l.slots[index].tensor; old != nil && old != t {
		l.dropped = append(l.dropped, old)
	}
	l.slots[index] = slot{tensor: t}
	return nil
}

// Read returns the tensor at index.
func (l *TensorList) Read(index int) (*tensor.Tensor, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	t, err := l.peek(index)
	if err != nil {
		return nil, err
	}
	l.clear(index)
	return t, nil
}

func (l *TensorList) peek(index int) (*tensor.Tensor, error) {
	if index < 0 || index >= len(l.slots) {
		return nil, status.Errorf(codes.OutOfRange, "tensor list %q: read index %d is out of range [0, %d)", l.config.Name, index, len(l.slots))
	}
	s := l.slots[index]
	if s.cleared {
		return nil, status.Errorf(codes.FailedPrecondition, "tensor list %q: slot %d was already read and cleared", l.config.Name, index)
	}
	if s.tensor == nil {
		return nil, status.Errorf(codes.FailedPrecondition, "tensor list %q: unset slot %d", l.config.Name, index)
	}
	return s.tensor, nil
}

// clear empties a slot that has been read, when the list is clear-after-read.
func (l *TensorList) clear(index int) {
	if !l.config.ClearAfterRead {
		return
	}
	s := &l.slots[index]
	l.dropped = append(l.dropped, s.tensor)
	s.tensor = nil
	s.cleared = true
}

// Stack concatenates every element along a new leading axis.
func (l *TensorList) Stack(alloc tensor.Allocator) (*tensor.Tensor, error) {
	indices := make([]int, len(l.slots))
	for i := range indices {
		indices[i] = i
	}
	return l.Gather(alloc, indices)
}

// Gather stacks the elements at indices along a new leading axis.
func (l *TensorList) Gather(alloc tensor.Allocator, indices []int) (*tensor.Tensor, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	// Every element is checked before any slot is cleared.
	elementShape := l.config.ElementShape
	elements := make([]*tensor.Tensor, len(indices))
	seen := make(map[int]bool, len(indices))
	for i, index := range indices {
		t, err := l.peek(index)
		if err != nil {
			return nil, err
		}
		if l.config.ClearAfterRead && seen[index] {
			return nil, status.Errorf(codes.FailedPrecondition, "tensor list %q: slot %d is read twice but is cleared after the first read", l.config.Name, index)
		}
		seen[index] = true
		if i == 0 && elementShape == nil {
			elementShape = t.Shape()
		}
		if !slices.Equal(elementShape, t.Shape()) {
			return nil, status.Errorf(codes.InvalidArgument, "tensor list %q: element %d has shape %v, expected %v", l.config.Name, index, t.Shape(), elementShape)
		}
		elements[i] = t
	}

	var values []float32
	for _, t := range elements {
		v, err := t.Values()
		if err != nil {
			return nil, err
		}
		values = append(values, v...)
	}

	shape := append([]int{len(indices)}, elementShape...)
	stacked, err := alloc.New(l.config.DType, shape, values)
	if err != nil {
		return nil, err
	}
	for _, index := range indices {
		l.clear(index)
	}
	return stacked, nil
}

// Unstack splits t along its leading axis into slots 0..n-1.
func (l *TensorList) Unstack(alloc tensor.Allocator, t *tensor.Tensor) error {
	if t.Rank() == 0 {
		return status.Errorf(codes.InvalidArgument, "tensor list %q: cannot unstack a scalar", l.config.Name)
	}
	indices := make([]int, t.Shape()[0])
	for i := range indices {
		indices[i] = i
	}
	return l.Scatter(alloc, indices, t)
}

// Scatter splits t along its leading axis, writing row i to slot indices[i].
func (l *TensorList) Scatter(alloc tensor.Allocator, indices []int, t *tensor.Tensor) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if t.DType() != l.config.DType {
		return status.Errorf(codes.InvalidArgument, "tensor list %q: dtype %s does not match %s", l.config.Name, t.DType(), l.config.DType)
	}
	shape := t.Shape()
	if len(shape) == 0 || shape[0] != len(indices) {
		return status.Errorf(codes.InvalidArgument, "tensor list %q: tensor with shape %v cannot be split into %d elements", l.config.Name, shape, len(indices))
	}
	for _, index := range indices {
		if index >= len(l.slots) && !l.config.DynamicSize {
			return status.Errorf(codes.OutOfRange, "tensor list %q: index %d is beyond size %d and the list does not grow", l.config.Name, index, len(l.slots))
		}
	}

	values, err := t.Values()
	if err != nil {
		return err
	}
	elementShape := shape[1:]
	stride := tensor.NumElements(elementShape)
	for i, index := range indices {
		element, err := alloc.New(t.DType(), elementShape, values[i*stride:(i+1)*stride])
		if err != nil {
			return err
		}
		if err := l.Write(index, element); err != nil {
			element.Dispose()
			return err
		}
	}
	return nil
}

// Tensors returns the handles currently held by the list.
func (l *TensorList) Tensors() []*tensor.Tensor {
	var tensors []*tensor.Tensor
	for _, s := range l.slots {
		if s.tensor != nil {
			tensors = append(tensors, s.tensor)
		}
	}
	return tensors
}

// Close drops every held handle without disposing them.
func (l *TensorList) Close() {
	l.dropped = append(l.dropped, l.Tensors()...)
	l.slots = nil
	l.closed = true
}

// Dropped returns the handles the list has stopped referencing, through overwrites,
// clear-after-read or Close, since the previous call. The handles are not disposed.
func (l *TensorList) Dropped() []*tensor.Tensor {
	dropped := l.dropped
	l.dropped = nil
	return dropped
}

func (l *TensorList) checkOpen() error {
	if l.closed {
		return status.Errorf(codes.FailedPrecondition, "tensor list %q is closed", l.config.Name)
	}
	return nil
}

func (l *TensorList) checkElement(t *tensor.Tensor) error {
	if t.DType() != l.config.DType {
		return status.Errorf(codes.InvalidArgument, "tensor list %q: dtype %s does not match %s", l.config.Name, t.DType(), l.config.DType)
	}
	if l.config.ElementShape != nil && !slices.Equal(l.config.ElementShape, t.Shape()) {
		return status.Errorf(codes.InvalidArgument, "tensor list %q: element shape %v does not match %v", l.config.Name, t.Shape(), l.config.ElementShape)
	}
	if l.config.IdenticalElementShapes {
		for _, s := range l.slots {
			if s.tensor != nil && !slices.Equal(s.tensor.Shape(), t.Shape()) {
				return status.Errorf(codes.InvalidArgument, "tensor list %q: element shape %v differs from %v", l.config.Name, t.Shape(), s.tensor.Shape())
			}
		}
	}
	return nil
}
