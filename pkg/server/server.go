package server

import (
	"context"
	"slices"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	api "k8s.io/examples/AI/graphexec/api/v1alpha1"
	"k8s.io/examples/AI/graphexec/pkg/catalog"
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
	"k8s.io/klog/v2"
)

// Server runs the catalog graphs on behalf of GraphExecutor clients.
type Server struct {
	memory *tensor.Memory
	models map[string]*model
}

// model serializes calls, since a GraphExecutor runs one execution at a time.
type model struct {
	mutex    sync.Mutex
	executor *engine.GraphExecutor
}

var _ api.GraphExecutorServer = &Server{}

// New builds an executor with default weights for every catalog graph.
func New(registry engine.OpRegistry, opts engine.Options) (*Server, error) {
	if opts.Memory == nil {
		opts.Memory = tensor.NewMemory()
	}
	s := &Server{
		memory: opts.Memory,
		models: make(map[string]*model),
	}
	for _, name := range catalog.Names() {
		m, err := catalog.Get(name)
		if err != nil {
			return nil, err
		}
		g, err := m.Build()
		if err != nil {
			s.Close()
			return nil, status.Errorf(codes.Internal, "building graph %q: %v", name, err)
		}
		weights, err := m.DefaultWeights(s.memory)
		if err != nil {
			s.Close()
			return nil, err
		}
		e := engine.NewGraphExecutor(g, registry, opts)
		e.SetWeights(weights)
		s.models[name] = &model{executor: e}
	}
	return s, nil
}

// Memory is the allocator shared by every executor; weights passed to SetWeights must come from it.
func (s *Server) Memory() *tensor.Memory {
	return s.memory
}

// SetWeights replaces the weights of graph name, disposing the previous ones.
// Weights missing from the map keep their current value.
func (s *Server) SetWeights(name string, weights map[string][]*tensor.Tensor) error {
	m, found := s.models[name]
	if !found {
		return status.Errorf(codes.NotFound, "graph %q is not served", name)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	merged := make(map[string][]*tensor.Tensor)
	for k, v := range m.executor.Weights() {
		merged[k] = v
	}
	for k, v := range weights {
		for _, old := range merged[k] {
			if !slices.Contains(v, old) {
				old.Dispose()
			}
		}
		merged[k] = v
	}
	m.executor.SetWeights(merged)
	return nil
}

func (s *Server) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	log := klog.FromContext(ctx)
	startedAt := time.Now()

	request, err := api.UnmarshalExecuteRequest(s.memory, in)
	if err != nil {
		return nil, err
	}
	defer request.Dispose()

	m, found := s.models[request.Graph]
	if !found {
		return nil, status.Errorf(codes.NotFound, "graph %q is not served, available graphs are %v", request.Graph, catalog.Names())
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	outputs, err := m.executor.ExecuteAsync(ctx, request.Inputs, request.Outputs...)
	if err != nil {
		log.V(2).Info("execution failed", "graph", request.Graph, "err", err)
		return nil, err
	}
	defer s.release(m.executor, request, outputs)

	response, err := (&api.ExecuteResponse{Outputs: outputs}).Marshal()
	if err != nil {
		return nil, err
	}

	log.V(2).Info("executed graph", "graph", request.Graph, "outputs", len(outputs), "duration", time.Since(startedAt), "live", s.memory.NumLive())
	return response, nil
}

// release disposes the output tensors once they have been encoded, except those
// that are inputs (disposed with the request) or weights.
func (s *Server) release(e *engine.GraphExecutor, request *api.ExecuteRequest, outputs map[string]engine.Value) {
	keep := make(map[*tensor.Tensor]bool)
	for _, t := range request.Inputs {
		keep[t] = true
	}
	for _, tensors := range e.Weights() {
		for _, t := range tensors {
			keep[t] = true
		}
	}
	for _, v := range outputs {
		tensors := []*tensor.Tensor{v.Tensor}
		if v.List != nil {
			tensors = v.List.Tensors()
		}
		for _, t := range tensors {
			if t != nil && !keep[t] {
				t.Dispose()
			}
		}
	}
}

// Close disposes every weight.
func (s *Server) Close() {
	for _, m := range s.models {
		m.mutex.Lock()
		m.executor.Dispose()
		m.mutex.Unlock()
	}
}
