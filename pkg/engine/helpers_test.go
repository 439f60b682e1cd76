package engine

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

type kernel func(call *Call) (Result, error)

// testRegistry implements a handful of elementwise operations.
type testRegistry map[string]kernel

func (r testRegistry) Invoke(ctx context.Context, call *Call) (Result, error) {
	k, found := r[call.Node.Op]
	if !found {
		return Result{}, status.Errorf(codes.Unimplemented, "operation %q is not implemented", call.Node.Op)
	}
	return k(call)
}

func binary(fn func(a, b float32) float32) kernel {
	return func(call *Call) (Result, error) {
		a, err := call.Input(0)
		if err != nil {
			return Result{}, err
		}
		b, err := call.Input(1)
		if err != nil {
			return Result{}, err
		}
		av, err := a.Values()
		if err != nil {
			return Result{}, err
		}
		bv, err := b.Values()
		if err != nil {
			return Result{}, err
		}
		out := make([]float32, len(av))
		for i := range av {
			if len(bv) == 1 {
				out[i] = fn(av[i], bv[0])
			} else {
				out[i] = fn(av[i], bv[i])
			}
		}
		t, err := call.Alloc.New(a.DType(), a.Shape(), out)
		if err != nil {
			return Result{}, err
		}
		return Ready(t), nil
	}
}

func newTestRegistry() testRegistry {
	return testRegistry{
		"add": binary(func(a, b float32) float32 { return a + b }),
		"mul": binary(func(a, b float32) float32 { return a * b }),
		"less": binary(func(a, b float32) float32 {
			if a < b {
				return 1
			}
			return 0
		}),
		"identity": func(call *Call) (Result, error) {
			x, err := call.Input(0)
			if err != nil {
				return Result{}, err
			}
			return Ready(x), nil
		},
		"asyncDouble": func(call *Call) (Result, error) {
			x, err := call.Input(0)
			if err != nil {
				return Result{}, err
			}
			return Async(func() ([]*tensor.Tensor, error) {
				values, err := x.Values()
				if err != nil {
					return nil, err
				}
				out := make([]float32, len(values))
				for i, v := range values {
					out[i] = 2 * v
				}
				t, err := call.Alloc.New(x.DType(), x.Shape(), out)
				if err != nil {
					return nil, err
				}
				return []*tensor.Tensor{t}, nil
			}), nil
		},
		"fail": func(call *Call) (Result, error) {
			return Result{}, status.Errorf(codes.Internal, "kernel failed")
		},
	}
}

func mustTensor(t *testing.T, alloc tensor.Allocator, dtype tensor.DType, shape []int, values ...float32) *tensor.Tensor {
	t.Helper()
	x, err := alloc.New(dtype, shape, values)
	if err != nil {
		t.Fatalf("failed to allocate tensor: %v", err)
	}
	return x
}

func mustValues(t *testing.T, v Value) []float32 {
	t.Helper()
	if v.Tensor == nil {
		t.Fatalf("expected a tensor value, got %v", v)
	}
	values, err := v.Tensor.Values()
	if err != nil {
		t.Fatalf("reading values: %v", err)
	}
	return values
}

func expectValues(t *testing.T, want []float32, v Value) {
	t.Helper()
	if diff := cmp.Diff(want, mustValues(t, v)); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func expectCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Errorf("expected error code %v, got %v (%v)", want, got, err)
	}
}
