// Package weights stores graph weights as a protobuf-encoded structpb.Struct
// mapping each const node name to its list of tensors.
package weights

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	api "k8s.io/examples/AI/graphexec/api/v1alpha1"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

func Encode(weights map[string][]*tensor.Tensor) ([]byte, error) {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(weights))}
	for name, tensors := range weights {
		list := &structpb.ListValue{}
		for _, t := range tensors {
			v, err := api.EncodeTensor(t)
			if err != nil {
				return nil, fmt.Errorf("weight %q: %w", name, err)
			}
			list.Values = append(list.Values, v)
		}
		s.Fields[name] = structpb.NewListValue(list)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshalling weights: %v", err)
	}
	return b, nil
}

// Decode allocates every weight tensor in b from alloc.
// On error, tensors already allocated are disposed.
func Decode(alloc tensor.Allocator, b []byte) (map[string][]*tensor.Tensor, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, status.Errorf(codes.DataLoss, "unmarshalling weights: %v", err)
	}

	weights := make(map[string][]*tensor.Tensor, len(s.GetFields()))
	for name, v := range s.GetFields() {
		list := v.GetListValue()
		if list == nil {
			Dispose(weights)
			return nil, status.Errorf(codes.InvalidArgument, "weight %q must be a list of tensors", name)
		}
		for _, item := range list.GetValues() {
			t, err := api.DecodeTensor(alloc, item)
			if err != nil {
				Dispose(weights)
				return nil, fmt.Errorf("weight %q: %w", name, err)
			}
			weights[name] = append(weights[name], t)
		}
	}
	return weights, nil
}

// Hash is the blob key of an encoded weights blob.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func Dispose(weights map[string][]*tensor.Tensor) {
	for _, tensors := range weights {
		for _, t := range tensors {
			t.Dispose()
		}
	}
}
