package ops

import (
	"slices"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

// Unstack splits x along axis into shape[axis] tensors of rank-1.
// A negative axis counts from the end.
func Unstack(alloc tensor.Allocator, x *tensor.Tensor, axis int) ([]*tensor.Tensor, error) {
	shape := x.Shape()
	rank := len(shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, status.Errorf(codes.InvalidArgument, "axis %d is out of range for tensor of rank %d", axis, rank)
	}

	values, err := x.Values()
	if err != nil {
		return nil, err
	}

	outer := tensor.NumElements(shape[:axis])
	inner := tensor.NumElements(shape[axis+1:])
	n := shape[axis]
	outShape := slices.Delete(slices.Clone(shape), axis, axis+1)

	results := make([]*tensor.Tensor, 0, n)
	for i := 0; i < n; i++ {
		part := make([]float32, 0, outer*inner)
		for o := 0; o < outer; o++ {
			start := (o*n + i) * inner
			part = append(part, values[start:start+inner]...)
		}
		t, err := alloc.New(x.DType(), outShape, part)
		if err != nil {
			for _, r := range results {
				r.Dispose()
			}
			return nil, err
		}
		results = append(results, t)
	}
	return results, nil
}
