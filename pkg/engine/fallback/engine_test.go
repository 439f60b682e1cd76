package fallback

import (
	"context"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

// run executes a single-node graph whose inputs are placeholders a, b, ...
func run(t *testing.T, op string, params map[string]*graph.Param, inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	t.Helper()
	b := graph.NewBuilder()
	feed := make(map[string]*tensor.Tensor)
	var names []string
	for i, x := range inputs {
		name := string(rune('a' + i))
		b.Add(name, graph.OpPlaceholder)
		names = append(names, name)
		feed[name] = x
	}
	node := b.Add("out", op, names...)
	for k, p := range params {
		node.Param(k, p)
	}
	g, err := b.Build("out")
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}
	e := engine.NewGraphExecutor(g, NewRegistry(), engine.Options{})
	results, err := e.Execute(context.Background(), feed)
	if err != nil {
		return nil, err
	}
	return results["out"].Tensor, nil
}

func newTensor(t *testing.T, dtype tensor.DType, shape []int, values ...float32) *tensor.Tensor {
	t.Helper()
	x, err := tensor.NewMemory().New(dtype, shape, values)
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	return x
}

func TestKernels(t *testing.T) {
	vector := func(values ...float32) *tensor.Tensor {
		return newTensor(t, tensor.Float32, []int{len(values)}, values...)
	}
	scalar := func(v float32) *tensor.Tensor {
		return newTensor(t, tensor.Float32, nil, v)
	}

	tests := []struct {
		name       string
		op         string
		params     map[string]*graph.Param
		inputs     []*tensor.Tensor
		wantDType  tensor.DType
		wantShape  []int
		wantValues []float32
	}{
		{name: "add", op: "add", inputs: []*tensor.Tensor{vector(1, 2), vector(3, 4)}, wantDType: tensor.Float32, wantShape: []int{2}, wantValues: []float32{4, 6}},
		{name: "sub scalar", op: "sub", inputs: []*tensor.Tensor{vector(1, 2), scalar(1)}, wantDType: tensor.Float32, wantShape: []int{2}, wantValues: []float32{0, 1}},
		{name: "mul scalar first", op: "mul", inputs: []*tensor.Tensor{scalar(2), vector(3, 4)}, wantDType: tensor.Float32, wantShape: []int{2}, wantValues: []float32{6, 8}},
		{name: "div", op: "div", inputs: []*tensor.Tensor{vector(1, 3), scalar(2)}, wantDType: tensor.Float32, wantShape: []int{2}, wantValues: []float32{0.5, 1.5}},
		{
			name:       "integer div truncates",
			op:         "div",
			inputs:     []*tensor.Tensor{newTensor(t, tensor.Int32, []int{2}, 7, -7), newTensor(t, tensor.Int32, nil, 2)},
			wantDType:  tensor.Int32,
			wantShape:  []int{2},
			wantValues: []float32{3, -3},
		},
		{name: "maximum", op: "maximum", inputs: []*tensor.Tensor{vector(1, 5), vector(3, 4)}, wantDType: tensor.Float32, wantShape: []int{2}, wantValues: []float32{3, 5}},
		{name: "minimum", op: "minimum", inputs: []*tensor.Tensor{vector(1, 5), vector(3, 4)}, wantDType: tensor.Float32, wantShape: []int{2}, wantValues: []float32{1, 4}},
		{name: "less", op: "less", inputs: []*tensor.Tensor{vector(1, 5), scalar(3)}, wantDType: tensor.Bool, wantShape: []int{2}, wantValues: []float32{1, 0}},
		{name: "greater", op: "greater", inputs: []*tensor.Tensor{vector(1, 5), scalar(3)}, wantDType: tensor.Bool, wantShape: []int{2}, wantValues: []float32{0, 1}},
		{name: "equal", op: "equal", inputs: []*tensor.Tensor{vector(3, 5), scalar(3)}, wantDType: tensor.Bool, wantShape: []int{2}, wantValues: []float32{1, 0}},
		{
			name:       "cast to int32",
			op:         "cast",
			params:     map[string]*graph.Param{"dtype": graph.AttrParam(graph.TypeDType, "int32")},
			inputs:     []*tensor.Tensor{vector(1.7, -1.7)},
			wantDType:  tensor.Int32,
			wantShape:  []int{2},
			wantValues: []float32{1, -1},
		},
		{
			name:       "reshape from attribute",
			op:         "reshape",
			params:     map[string]*graph.Param{"shape": graph.AttrParam(graph.TypeShape, []int{-1, 2})},
			inputs:     []*tensor.Tensor{vector(1, 2, 3, 4)},
			wantDType:  tensor.Float32,
			wantShape:  []int{2, 2},
			wantValues: []float32{1, 2, 3, 4},
		},
		{
			name:       "reshape from input",
			op:         "reshape",
			inputs:     []*tensor.Tensor{vector(1, 2, 3, 4), newTensor(t, tensor.Int32, []int{2}, 4, 1)},
			wantDType:  tensor.Float32,
			wantShape:  []int{4, 1},
			wantValues: []float32{1, 2, 3, 4},
		},
		{
			name:       "squeeze",
			op:         "squeeze",
			inputs:     []*tensor.Tensor{newTensor(t, tensor.Float32, []int{1, 2, 1}, 1, 2)},
			wantDType:  tensor.Float32,
			wantShape:  []int{2},
			wantValues: []float32{1, 2},
		},
		{
			name:       "squeeze axis",
			op:         "squeeze",
			params:     map[string]*graph.Param{"axis": graph.AttrParam(graph.TypeNumber, -1)},
			inputs:     []*tensor.Tensor{newTensor(t, tensor.Float32, []int{1, 2, 1}, 1, 2)},
			wantDType:  tensor.Float32,
			wantShape:  []int{1, 2},
			wantValues: []float32{1, 2},
		},
		{
			name:       "linear scale",
			op:         "linearScale",
			params:     map[string]*graph.Param{"scale": graph.AttrParam(graph.TypeNumber, 0.5)},
			inputs:     []*tensor.Tensor{vector(2, 4)},
			wantDType:  tensor.Float32,
			wantShape:  []int{2},
			wantValues: []float32{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.op, tt.params, tt.inputs...)
			if err != nil {
				t.Fatalf("%s failed: %v", tt.op, err)
			}
			if got.DType() != tt.wantDType {
				t.Errorf("expected dtype %s, got %s", tt.wantDType, got.DType())
			}
			if diff := cmp.Diff(tt.wantShape, got.Shape(), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("shape mismatch (-want +got):\n%s", diff)
			}
			values, err := got.Values()
			if err != nil {
				t.Fatalf("reading values: %v", err)
			}
			if diff := cmp.Diff(tt.wantValues, values, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKernelErrors(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		params map[string]*graph.Param
		inputs []*tensor.Tensor
		want   codes.Code
	}{
		{
			name:   "incompatible shapes",
			op:     "add",
			inputs: []*tensor.Tensor{newTensor(t, tensor.Float32, []int{2}, 1, 2), newTensor(t, tensor.Float32, []int{3}, 1, 2, 3)},
			want:   codes.InvalidArgument,
		},
		{
			name:   "mismatched dtypes",
			op:     "mul",
			inputs: []*tensor.Tensor{newTensor(t, tensor.Float32, nil, 1), newTensor(t, tensor.Int32, nil, 1)},
			want:   codes.InvalidArgument,
		},
		{
			name:   "integer division by zero",
			op:     "div",
			inputs: []*tensor.Tensor{newTensor(t, tensor.Int32, nil, 1), newTensor(t, tensor.Int32, nil, 0)},
			want:   codes.InvalidArgument,
		},
		{
			name:   "reshape size mismatch",
			op:     "reshape",
			params: map[string]*graph.Param{"shape": graph.AttrParam(graph.TypeShape, []int{3})},
			inputs: []*tensor.Tensor{newTensor(t, tensor.Float32, []int{2}, 1, 2)},
			want:   codes.InvalidArgument,
		},
		{
			name:   "squeeze non-unit axis",
			op:     "squeeze",
			params: map[string]*graph.Param{"axis": graph.AttrParam(graph.TypeNumber, 0)},
			inputs: []*tensor.Tensor{newTensor(t, tensor.Float32, []int{2}, 1, 2)},
			want:   codes.InvalidArgument,
		},
		{
			name:   "unknown operation",
			op:     "conv2d",
			inputs: []*tensor.Tensor{newTensor(t, tensor.Float32, nil, 1)},
			want:   codes.Unimplemented,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.op, tt.params, tt.inputs...)
			if got := status.Code(err); got != tt.want {
				t.Errorf("expected %v, got %v (%v)", tt.want, got, err)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	r.Register("negate", func(ctx context.Context, call *engine.Call) (engine.Result, error) {
		return linearScale(ctx, call)
	})
	got, err := func() (*tensor.Tensor, error) {
		b := graph.NewBuilder()
		b.Add("x", graph.OpPlaceholder)
		b.Add("y", "negate", "x").Param("scale", graph.AttrParam(graph.TypeNumber, -1))
		g, err := b.Build("y")
		if err != nil {
			return nil, err
		}
		e := engine.NewGraphExecutor(g, r, engine.Options{})
		results, err := e.Execute(context.Background(), map[string]*tensor.Tensor{"x": newTensor(t, tensor.Float32, nil, 3)})
		if err != nil {
			return nil, err
		}
		return results["y"].Tensor, nil
	}()
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	if v, _ := got.Scalar(); v != -3 {
		t.Errorf("expected -3, got %v", v)
	}
	if !slices.Contains(r.Ops(), "negate") {
		t.Errorf("expected negate in %v", r.Ops())
	}
}
