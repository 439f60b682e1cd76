package tensor

import (
	"io"
	"slices"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Allocator creates tensors.
type Allocator interface {
	New(dtype DType, shape []int, values []float32) (*Tensor, error)
}

// Memory owns tensor storage and tracks which handles are live.
type Memory struct {
	mutex  sync.Mutex
	nextID ID
	live   map[ID]*Tensor
}

var _ Allocator = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		live: make(map[ID]*Tensor),
	}
}

// New allocates a tensor holding a copy of values.
func (m *Memory) New(dtype DType, shape []int, values []float32) (*Tensor, error) {
	if len(values) != NumElements(shape) {
		return nil, status.Errorf(codes.InvalidArgument, "shape %v needs %d values, got %d", shape, NumElements(shape), len(values))
	}
	for _, d := range shape {
		if d < 0 {
			return nil, status.Errorf(codes.InvalidArgument, "shape %v has a negative dimension", shape)
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.nextID++
	t := &Tensor{
		id:     m.nextID,
		dtype:  dtype,
		shape:  slices.Clone(shape),
		values: slices.Clone(values),
		memory: m,
	}
	if t.values == nil {
		t.values = []float32{}
	}
	m.live[t.id] = t
	return t, nil
}

// Scalar allocates a rank-0 tensor.
func (m *Memory) Scalar(dtype DType, value float32) (*Tensor, error) {
	return m.New(dtype, nil, []float32{value})
}

func (m *Memory) release(t *Tensor) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.live, t.id)
}

// NumLive is the number of tensors allocated and not yet disposed.
func (m *Memory) NumLive() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.live)
}

func (m *Memory) IsLive(t *Tensor) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, found := m.live[t.id]
	return found
}

// Scope records every tensor allocated through it, so they can be released together.
type Scope struct {
	memory *Memory

	mutex     sync.Mutex
	allocated []*Tensor
	closed    bool
}

var _ Allocator = (*Scope)(nil)
var _ io.Closer = (*Scope)(nil)

func (m *Memory) NewScope() *Scope {
	return &Scope{memory: m}
}

func (s *Scope) New(dtype DType, shape []int, values []float32) (*Tensor, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, status.Errorf(codes.FailedPrecondition, "allocating from a closed scope")
	}

	t, err := s.memory.New(dtype, shape, values)
	if err != nil {
		return nil, err
	}
	s.allocated = append(s.allocated, t)
	return t, nil
}

func (s *Scope) Scalar(dtype DType, value float32) (*Tensor, error) {
	return s.New(dtype, nil, []float32{value})
}

// Keep disposes every tensor allocated in the scope except those in keep, and closes the scope.
// It returns the number of tensors disposed.
func (s *Scope) Keep(keep ...*Tensor) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := make(map[*Tensor]bool, len(keep))
	for _, t := range keep {
		kept[t] = true
	}

	disposed := 0
	for _, t := range s.allocated {
		if kept[t] || t.IsDisposed() {
			continue
		}
		t.Dispose()
		disposed++
	}
	s.allocated = nil
	s.closed = true
	return disposed
}

// Close disposes every tensor allocated in the scope.
func (s *Scope) Close() error {
	s.Keep()
	return nil
}
