package v1alpha1

import (
	"fmt"
	"sort"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

// ExecuteRequest asks the server to run the named graph.
//
// Wire form: {graph: string, inputs: {name: tensor}, outputs: [string]}.
type ExecuteRequest struct {
	Graph   string
	Inputs  map[string]*tensor.Tensor
	Outputs []string
}

// ExecuteResponse carries the requested outputs.
//
// Wire form: {outputs: {name: tensor | {list: [tensor]}}}.
type ExecuteResponse struct {
	Outputs map[string]engine.Value
}

func (r *ExecuteRequest) Marshal() (*structpb.Struct, error) {
	inputs := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(r.Inputs))}
	for name, t := range r.Inputs {
		v, err := EncodeTensor(t)
		if err != nil {
			return nil, err
		}
		inputs.Fields[name] = v
	}
	outputs := &structpb.ListValue{}
	for _, name := range r.Outputs {
		outputs.Values = append(outputs.Values, structpb.NewStringValue(name))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"graph":   structpb.NewStringValue(r.Graph),
		"inputs":  structpb.NewStructValue(inputs),
		"outputs": structpb.NewListValue(outputs),
	}}, nil
}

// UnmarshalExecuteRequest decodes s, allocating input tensors from alloc.
// On error, any tensors already allocated are disposed.
func UnmarshalExecuteRequest(alloc tensor.Allocator, s *structpb.Struct) (*ExecuteRequest, error) {
	fields := s.GetFields()
	r := &ExecuteRequest{
		Graph:  fields["graph"].GetStringValue(),
		Inputs: make(map[string]*tensor.Tensor),
	}
	if r.Graph == "" {
		return nil, status.Errorf(codes.InvalidArgument, "graph is required")
	}

	for _, v := range fields["outputs"].GetListValue().GetValues() {
		name, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "output names must be strings, got %v", v)
		}
		r.Outputs = append(r.Outputs, name.StringValue)
	}

	inputs := fields["inputs"].GetStructValue().GetFields()
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t, err := DecodeTensor(alloc, inputs[name])
		if err != nil {
			r.Dispose()
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		r.Inputs[name] = t
	}
	return r, nil
}

// Dispose releases the input tensors.
func (r *ExecuteRequest) Dispose() {
	for _, t := range r.Inputs {
		t.Dispose()
	}
}

func (r *ExecuteResponse) Marshal() (*structpb.Struct, error) {
	outputs := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(r.Outputs))}
	for name, v := range r.Outputs {
		encoded, err := EncodeValue(v)
		if err != nil {
			return nil, err
		}
		outputs.Fields[name] = encoded
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"outputs": structpb.NewStructValue(outputs),
	}}, nil
}

func UnmarshalExecuteResponse(alloc tensor.Allocator, s *structpb.Struct) (*ExecuteResponse, error) {
	r := &ExecuteResponse{Outputs: make(map[string]engine.Value)}
	for name, v := range s.GetFields()["outputs"].GetStructValue().GetFields() {
		decoded, err := DecodeValue(alloc, v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		r.Outputs[name] = decoded
	}
	return r, nil
}
