package engine

import (
	"context"
	"fmt"

	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
	"k8s.io/examples/AI/graphexec/pkg/tensorlist"
)

// Value is what flows along a graph edge: either a tensor or a tensor list.
// The zero Value means the producer did not emit anything on that output.
type Value struct {
	Tensor *tensor.Tensor
	List   *tensorlist.TensorList
}

func TensorValue(t *tensor.Tensor) Value {
	return Value{Tensor: t}
}

func ListValue(l *tensorlist.TensorList) Value {
	return Value{List: l}
}

func (v Value) IsZero() bool {
	return v.Tensor == nil && v.List == nil
}

func (v Value) String() string {
	switch {
	case v.Tensor != nil:
		return v.Tensor.String()
	case v.List != nil:
		return v.List.String()
	default:
		return "<none>"
	}
}

// Key addresses a node's outputs within one frame.
type Key struct {
	Name  string
	Frame FrameID
}

// TensorMap holds the outputs of every executed node, keyed by node and frame.
type TensorMap map[Key][]Value

// OpRegistry runs the operations the executor does not handle itself.
type OpRegistry interface {
	// Invoke runs call.Node. Unknown operation kinds fail with codes.Unimplemented.
	Invoke(ctx context.Context, call *Call) (Result, error)
}

// Call is one invocation of an operation.
type Call struct {
	Node *graph.Node

	// Inputs are the resolved data inputs, aligned with Node.DataInputs().
	Inputs []*tensor.Tensor

	// Alloc must be used for every tensor the operation creates.
	Alloc tensor.Allocator

	// Frame is the frame the node executes in.
	Frame *Frame

	params params
}

func (c *Call) Input(i int) (*tensor.Tensor, error) {
	if i < 0 || i >= len(c.Inputs) || c.Inputs[i] == nil {
		return nil, invalidArgument("missing input %d", i)
	}
	return c.Inputs[i], nil
}

// Tensor returns the tensor argument name.
func (c *Call) Tensor(name string) (*tensor.Tensor, error) {
	return c.params.tensor(name)
}

func (c *Call) Number(name string) (float64, error) {
	return c.params.number(name)
}

func (c *Call) Bool(name string) (bool, error) {
	return c.params.boolean(name)
}

func (c *Call) Text(name string) (string, error) {
	return c.params.str(name)
}

func (c *Call) Shape(name string) ([]int, error) {
	return c.params.shape(name)
}

func (c *Call) DType(name string) (tensor.DType, error) {
	return c.params.dtype(name)
}

// Has reports whether the node declares the argument name.
func (c *Call) Has(name string) bool {
	return c.params.has(name)
}

// Result is the outcome of an operation, which may still be in progress.
type Result struct {
	tensors []*tensor.Tensor
	pending <-chan outcome
}

type outcome struct {
	tensors []*tensor.Tensor
	err     error
}

// Ready is a result that is already available.
func Ready(tensors ...*tensor.Tensor) Result {
	return Result{tensors: tensors}
}

// Async runs fn in the background; the executor waits for it before moving on.
func Async(fn func() ([]*tensor.Tensor, error)) Result {
	ch := make(chan outcome, 1)
	go func() {
		tensors, err := fn()
		ch <- outcome{tensors: tensors, err: err}
	}()
	return Result{pending: ch}
}

func (r Result) IsAsync() bool {
	return r.pending != nil
}

// Await waits for the result. If ctx is done first, tensors produced later are disposed.
func (r Result) Await(ctx context.Context) ([]*tensor.Tensor, error) {
	if r.pending == nil {
		return r.tensors, nil
	}
	select {
	case o := <-r.pending:
		return o.tensors, o.err
	case <-ctx.Done():
		r.discard()
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// discard drops a pending result, disposing its tensors once they arrive.
func (r Result) discard() {
	if r.pending == nil {
		return
	}
	go func() {
		o := <-r.pending
		for _, t := range o.tensors {
			t.Dispose()
		}
	}()
}

func describe(node *graph.Node) string {
	return fmt.Sprintf("node %q (%s)", node.Name, node.Op)
}
