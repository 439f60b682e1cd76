package engine

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
	"k8s.io/examples/AI/graphexec/pkg/tensorlist"
)

// params resolves named operation arguments for one node.
type params struct {
	node *graph.Node

	// inputs are aligned with node.DataInputs(); unresolved entries are zero.
	inputs []Value

	// defaults apply when the node does not declare an argument.
	defaults map[string]*graph.Param
}

func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func (p params) lookup(name string) (*graph.Param, bool) {
	if param, found := p.node.Params[name]; found {
		return param, true
	}
	param, found := p.defaults[name]
	return param, found
}

func (p params) has(name string) bool {
	_, found := p.lookup(name)
	return found
}

// input returns the data input at position i.
func (p params) input(i int) (Value, error) {
	if i < 0 || i >= len(p.inputs) {
		return Value{}, invalidArgument("missing input %d", i)
	}
	if p.inputs[i].IsZero() {
		return Value{}, invalidArgument("input %q has no value", p.node.DataInputs()[i])
	}
	return p.inputs[i], nil
}

func (p params) value(name string) (Value, any, error) {
	param, found := p.lookup(name)
	if !found {
		return Value{}, nil, invalidArgument("missing argument %q", name)
	}
	if !param.FromInput {
		return Value{}, param.Value, nil
	}
	v, err := p.input(param.Input)
	if err != nil {
		return Value{}, nil, err
	}
	return v, nil, nil
}

func (p params) tensor(name string) (*tensor.Tensor, error) {
	v, attr, err := p.value(name)
	if err != nil {
		return nil, err
	}
	if t, ok := attr.(*tensor.Tensor); ok {
		return t, nil
	}
	if v.Tensor == nil {
		return nil, invalidArgument("argument %q is not a tensor", name)
	}
	return v.Tensor, nil
}

func (p params) list(name string) (*tensorlist.TensorList, error) {
	v, _, err := p.value(name)
	if err != nil {
		return nil, err
	}
	if v.List == nil {
		return nil, invalidArgument("argument %q is not a tensor list", name)
	}
	return v.List, nil
}

// numbers returns every element of a numeric argument.
func (p params) numbers(name string) ([]float64, error) {
	v, attr, err := p.value(name)
	if err != nil {
		return nil, err
	}
	if v.Tensor != nil {
		values, err := v.Tensor.Values()
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(values))
		for i, x := range values {
			out[i] = float64(x)
		}
		return out, nil
	}
	if v.List != nil {
		return nil, invalidArgument("argument %q is a tensor list, expected a number", name)
	}

	switch attr := attr.(type) {
	case []int:
		out := make([]float64, len(attr))
		for i, x := range attr {
			out[i] = float64(x)
		}
		return out, nil
	case []float64:
		return attr, nil
	case []float32:
		out := make([]float64, len(attr))
		for i, x := range attr {
			out[i] = float64(x)
		}
		return out, nil
	}
	if x, ok := toFloat(attr); ok {
		return []float64{x}, nil
	}
	return nil, invalidArgument("argument %q has non-numeric value %v", name, attr)
}

func (p params) number(name string) (float64, error) {
	values, err := p.numbers(name)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, invalidArgument("argument %q has %d values, expected one", name, len(values))
	}
	return values[0], nil
}

func (p params) integer(name string) (int, error) {
	x, err := p.number(name)
	if err != nil {
		return 0, err
	}
	return int(x), nil
}

func (p params) integers(name string) ([]int, error) {
	values, err := p.numbers(name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(values))
	for i, x := range values {
		out[i] = int(x)
	}
	return out, nil
}

func (p params) boolean(name string) (bool, error) {
	_, attr, err := p.value(name)
	if err != nil {
		return false, err
	}
	if b, ok := attr.(bool); ok {
		return b, nil
	}
	x, err := p.number(name)
	if err != nil {
		return false, err
	}
	return x != 0, nil
}

func (p params) str(name string) (string, error) {
	_, attr, err := p.value(name)
	if err != nil {
		return "", err
	}
	s, ok := attr.(string)
	if !ok {
		return "", invalidArgument("argument %q is not a string", name)
	}
	return s, nil
}

func (p params) dtype(name string) (tensor.DType, error) {
	_, attr, err := p.value(name)
	if err != nil {
		return "", err
	}
	switch attr := attr.(type) {
	case tensor.DType:
		return tensor.ParseDType(string(attr))
	case string:
		return tensor.ParseDType(attr)
	}
	return "", invalidArgument("argument %q is not a dtype", name)
}

// shape accepts either a shape attribute or a rank-1 tensor of dimensions.
// A nil attribute means the shape is unknown.
func (p params) shape(name string) ([]int, error) {
	_, attr, err := p.value(name)
	if err != nil {
		return nil, err
	}
	if attr == nil {
		param, _ := p.lookup(name)
		if !param.FromInput {
			return nil, nil
		}
	}
	return p.integers(name)
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
