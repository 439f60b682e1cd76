package v1alpha1

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
	"k8s.io/examples/AI/graphexec/pkg/tensorlist"
)

// EncodeTensor renders t as {dtype, shape, values}.
func EncodeTensor(t *tensor.Tensor) (*structpb.Value, error) {
	values, err := t.Values()
	if err != nil {
		return nil, err
	}
	shape := make([]any, 0, t.Rank())
	for _, d := range t.Shape() {
		shape = append(shape, float64(d))
	}
	data := make([]any, len(values))
	for i, v := range values {
		data[i] = float64(v)
	}
	s, err := structpb.NewStruct(map[string]any{
		"dtype":  string(t.DType()),
		"shape":  shape,
		"values": data,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding tensor: %v", err)
	}
	return structpb.NewStructValue(s), nil
}

// DecodeTensor allocates the tensor described by v.
func DecodeTensor(alloc tensor.Allocator, v *structpb.Value) (*tensor.Tensor, error) {
	s := v.GetStructValue()
	if s == nil {
		return nil, status.Errorf(codes.InvalidArgument, "tensor must be an object, got %v", v)
	}
	fields := s.GetFields()

	dtype := tensor.Float32
	if f, found := fields["dtype"]; found {
		parsed, err := tensor.ParseDType(f.GetStringValue())
		if err != nil {
			return nil, err
		}
		dtype = parsed
	}

	var shape []int
	for _, d := range fields["shape"].GetListValue().GetValues() {
		n := d.GetNumberValue()
		if n != float64(int(n)) {
			return nil, status.Errorf(codes.InvalidArgument, "shape dimension %v is not an integer", n)
		}
		shape = append(shape, int(n))
	}

	list := fields["values"].GetListValue().GetValues()
	values := make([]float32, len(list))
	for i, x := range list {
		if _, ok := x.GetKind().(*structpb.Value_NumberValue); !ok {
			return nil, status.Errorf(codes.InvalidArgument, "tensor value %d is not a number", i)
		}
		values[i] = float32(x.GetNumberValue())
	}
	return alloc.New(dtype, shape, values)
}

// EncodeValue renders a tensor, or a tensor list as {list: [tensor...]}.
func EncodeValue(v engine.Value) (*structpb.Value, error) {
	if v.Tensor != nil {
		return EncodeTensor(v.Tensor)
	}
	if v.List == nil {
		return structpb.NewNullValue(), nil
	}
	var items []*structpb.Value
	for _, t := range v.List.Tensors() {
		item, err := EncodeTensor(t)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"list": structpb.NewListValue(&structpb.ListValue{Values: items}),
	}}), nil
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(alloc tensor.Allocator, v *structpb.Value) (engine.Value, error) {
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return engine.Value{}, nil
	}
	items, isList := v.GetStructValue().GetFields()["list"]
	if !isList {
		t, err := DecodeTensor(alloc, v)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.TensorValue(t), nil
	}

	var tensors []*tensor.Tensor
	for _, item := range items.GetListValue().GetValues() {
		t, err := DecodeTensor(alloc, item)
		if err != nil {
			for _, t := range tensors {
				t.Dispose()
			}
			return engine.Value{}, err
		}
		tensors = append(tensors, t)
	}

	config := tensorlist.Config{Size: len(tensors), DType: tensor.Float32}
	if len(tensors) > 0 {
		config.DType = tensors[0].DType()
	}
	l, err := tensorlist.New(config)
	if err != nil {
		return engine.Value{}, err
	}
	for i, t := range tensors {
		if err := l.Write(i, t); err != nil {
			for _, t := range tensors {
				t.Dispose()
			}
			return engine.Value{}, err
		}
	}
	return engine.ListValue(l), nil
}
