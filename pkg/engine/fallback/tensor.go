package fallback

import (
	"context"
	"fmt"
	"math"
	"slices"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

// operands reads two inputs that either have the same shape or where one side is a single element.
func operands(call *engine.Call) (a, b *tensor.Tensor, av, bv []float32, shape []int, err error) {
	if a, err = call.Input(0); err != nil {
		return
	}
	if b, err = call.Input(1); err != nil {
		return
	}
	if av, err = a.Values(); err != nil {
		return
	}
	if bv, err = b.Values(); err != nil {
		return
	}
	switch {
	case slices.Equal(a.Shape(), b.Shape()):
		shape = a.Shape()
	case len(bv) == 1:
		shape = a.Shape()
	case len(av) == 1:
		shape = b.Shape()
	default:
		err = status.Errorf(codes.InvalidArgument, "shapes %v and %v are not compatible", a.Shape(), b.Shape())
	}
	return
}

func broadcast(av, bv []float32, n int, fn func(a, b float64) float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		x, y := av[0], bv[0]
		if len(av) > 1 {
			x = av[i]
		}
		if len(bv) > 1 {
			y = bv[i]
		}
		out[i] = fn(float64(x), float64(y))
	}
	return out
}

func binary(fn func(a, b float64) float64) Kernel {
	return func(ctx context.Context, call *engine.Call) (engine.Result, error) {
		a, b, av, bv, shape, err := operands(call)
		if err != nil {
			return engine.Result{}, err
		}
		if a.DType() != b.DType() {
			return engine.Result{}, status.Errorf(codes.InvalidArgument, "dtypes %s and %s do not match", a.DType(), b.DType())
		}
		out := broadcast(av, bv, tensor.NumElements(shape), func(x, y float64) float32 {
			return float32(fn(x, y))
		})
		return newResult(call, a.DType(), shape, out)
	}
}

func compare(fn func(a, b float64) bool) Kernel {
	return func(ctx context.Context, call *engine.Call) (engine.Result, error) {
		_, _, av, bv, shape, err := operands(call)
		if err != nil {
			return engine.Result{}, err
		}
		out := broadcast(av, bv, tensor.NumElements(shape), func(x, y float64) float32 {
			if fn(x, y) {
				return 1
			}
			return 0
		})
		return newResult(call, tensor.Bool, shape, out)
	}
}

func divide(ctx context.Context, call *engine.Call) (engine.Result, error) {
	a, b, av, bv, shape, err := operands(call)
	if err != nil {
		return engine.Result{}, err
	}
	if a.DType() != b.DType() {
		return engine.Result{}, status.Errorf(codes.InvalidArgument, "dtypes %s and %s do not match", a.DType(), b.DType())
	}
	integer := a.DType() == tensor.Int32
	if integer && slices.Contains(bv, 0) {
		return engine.Result{}, status.Errorf(codes.InvalidArgument, "integer division by zero")
	}
	out := broadcast(av, bv, tensor.NumElements(shape), func(x, y float64) float32 {
		if integer {
			return float32(math.Trunc(x / y))
		}
		return float32(x / y)
	})
	return newResult(call, a.DType(), shape, out)
}

// identity returns its input handle unchanged.
func identity(ctx context.Context, call *engine.Call) (engine.Result, error) {
	x, err := call.Input(0)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Ready(x), nil
}

func cast(ctx context.Context, call *engine.Call) (engine.Result, error) {
	x, err := call.Input(0)
	if err != nil {
		return engine.Result{}, err
	}
	dtype, err := call.DType("dtype")
	if err != nil {
		return engine.Result{}, err
	}
	values, err := x.Values()
	if err != nil {
		return engine.Result{}, err
	}
	out := make([]float32, len(values))
	for i, v := range values {
		switch dtype {
		case tensor.Int32:
			out[i] = float32(math.Trunc(float64(v)))
		case tensor.Bool:
			if v != 0 {
				out[i] = 1
			}
		default:
			out[i] = v
		}
	}
	return newResult(call, dtype, x.Shape(), out)
}

// reshape takes the new shape from its second input, or from the "shape" attribute.
// One dimension may be -1, in which case it is inferred.
func reshape(ctx context.Context, call *engine.Call) (engine.Result, error) {
	x, err := call.Input(0)
	if err != nil {
		return engine.Result{}, err
	}

	var shape []int
	if len(call.Inputs) > 1 {
		dims, err := call.Input(1)
		if err != nil {
			return engine.Result{}, err
		}
		values, err := dims.Values()
		if err != nil {
			return engine.Result{}, err
		}
		for _, v := range values {
			shape = append(shape, int(v))
		}
	} else {
		if shape, err = call.Shape("shape"); err != nil {
			return engine.Result{}, err
		}
	}

	shape, err = inferShape(shape, x.Size())
	if err != nil {
		return engine.Result{}, err
	}
	values, err := x.Values()
	if err != nil {
		return engine.Result{}, err
	}
	return newResult(call, x.DType(), shape, values)
}

func inferShape(shape []int, size int) ([]int, error) {
	shape = slices.Clone(shape)
	unknown := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && unknown == -1:
			unknown = i
		case d < 0:
			return nil, status.Errorf(codes.InvalidArgument, "invalid shape %v", shape)
		default:
			known *= d
		}
	}
	if unknown >= 0 {
		if known == 0 || size%known != 0 {
			return nil, status.Errorf(codes.InvalidArgument, "cannot reshape %d elements into %v", size, shape)
		}
		shape[unknown] = size / known
	}
	if tensor.NumElements(shape) != size {
		return nil, status.Errorf(codes.InvalidArgument, "cannot reshape %d elements into %v", size, shape)
	}
	return shape, nil
}

// squeeze drops the dimensions of size 1, or only the one named by the "axis" attribute.
func squeeze(ctx context.Context, call *engine.Call) (engine.Result, error) {
	x, err := call.Input(0)
	if err != nil {
		return engine.Result{}, err
	}
	shape := x.Shape()

	var out []int
	if call.Has("axis") {
		axisValue, err := call.Number("axis")
		if err != nil {
			return engine.Result{}, err
		}
		axis := int(axisValue)
		if axis < 0 {
			axis += len(shape)
		}
		if axis < 0 || axis >= len(shape) || shape[axis] != 1 {
			return engine.Result{}, status.Errorf(codes.InvalidArgument, "cannot squeeze axis %d of shape %v", int(axisValue), shape)
		}
		out = slices.Delete(shape, axis, axis+1)
	} else {
		for _, d := range shape {
			if d != 1 {
				out = append(out, d)
			}
		}
	}

	values, err := x.Values()
	if err != nil {
		return engine.Result{}, err
	}
	return newResult(call, x.DType(), out, values)
}

// rmsNorm scales x by the reciprocal of its root mean square.
func rmsNorm(ctx context.Context, call *engine.Call) (engine.Result, error) {
	x, err := call.Input(0)
	if err != nil {
		return engine.Result{}, err
	}
	epsilon := float32(1e-5)
	if call.Has("epsilon") {
		v, err := call.Number("epsilon")
		if err != nil {
			return engine.Result{}, err
		}
		if v != 0 {
			epsilon = float32(v)
		}
	}

	values, err := x.Values()
	if err != nil {
		return engine.Result{}, err
	}
	if len(values) == 0 {
		return engine.Result{}, status.Errorf(codes.InvalidArgument, "rmsNorm of an empty tensor")
	}
	sum_x2 := float32(0)
	for _, v := range values {
		sum_x2 += v * v
	}
	mean := sum_x2 / float32(len(values))
	rms := float32(1.0 / math.Sqrt(float64(mean)+float64(epsilon)))
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = v * rms
	}
	return newResult(call, x.DType(), x.Shape(), out)
}

func linearScale(ctx context.Context, call *engine.Call) (engine.Result, error) {
	x, err := call.Input(0)
	if err != nil {
		return engine.Result{}, err
	}
	scale, err := call.Number("scale")
	if err != nil {
		return engine.Result{}, err
	}
	values, err := x.Values()
	if err != nil {
		return engine.Result{}, err
	}
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = v * float32(scale)
	}
	return newResult(call, x.DType(), x.Shape(), out)
}

func newResult(call *engine.Call, dtype tensor.DType, shape []int, values []float32) (engine.Result, error) {
	t, err := call.Alloc.New(dtype, shape, values)
	if err != nil {
		return engine.Result{}, fmt.Errorf("allocating output of %s: %w", call.Node.Name, err)
	}
	return engine.Ready(t), nil
}
