package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
	"k8s.io/examples/AI/graphexec/pkg/tensorlist"
	"k8s.io/klog/v2"
)

const DefaultMaxSteps = 1_000_000

type Options struct {
	// Memory allocates intermediate tensors. A new Memory is used if nil.
	Memory *tensor.Memory

	// MaxSteps bounds the node evaluations of one ExecuteAsync call.
	MaxSteps int
}

// GraphExecutor runs a graph against a set of weights.
// Concurrent calls on one executor are not supported.
type GraphExecutor struct {
	graph    *graph.Graph
	registry OpRegistry
	memory   *tensor.Memory
	maxSteps int

	compiledOrder []*graph.Node
	placeholders  []string
	outputs       []string

	weights   map[string][]*tensor.Tensor
	weightSet map[*tensor.Tensor]bool
}

// run is the state of one execution.
type run struct {
	tensors TensorMap
	context *ExecutionContext
	alloc   tensor.Allocator
	async   bool

	// retired holds tensors that tensor lists stopped referencing.
	retired []*tensor.Tensor
}

func NewGraphExecutor(g *graph.Graph, registry OpRegistry, opts Options) *GraphExecutor {
	e := &GraphExecutor{
		graph:     g,
		registry:  registry,
		memory:    opts.Memory,
		maxSteps:  opts.MaxSteps,
		weights:   make(map[string][]*tensor.Tensor),
		weightSet: make(map[*tensor.Tensor]bool),
	}
	if e.memory == nil {
		e.memory = tensor.NewMemory()
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultMaxSteps
	}
	for _, n := range g.Placeholders {
		e.placeholders = append(e.placeholders, n.Name)
	}
	for _, n := range g.Outputs {
		e.outputs = append(e.outputs, n.Name)
	}
	if !g.WithControlFlow {
		e.compiledOrder = BuildOrder(g)
	}
	return e
}

func (e *GraphExecutor) Memory() *tensor.Memory {
	return e.memory
}

func (e *GraphExecutor) InputNodes() []string {
	return slices.Clone(e.placeholders)
}

func (e *GraphExecutor) OutputNodes() []string {
	return slices.Clone(e.outputs)
}

func (e *GraphExecutor) IsControlFlowModel() bool {
	return e.graph.WithControlFlow
}

// SetWeights replaces the weight map. Weight tensors are never released by an execution.
func (e *GraphExecutor) SetWeights(weights map[string][]*tensor.Tensor) {
	e.weights = weights
	e.weightSet = make(map[*tensor.Tensor]bool)
	for _, tensors := range weights {
		for _, t := range tensors {
			e.weightSet[t] = true
		}
	}
}

func (e *GraphExecutor) Weights() map[string][]*tensor.Tensor {
	return e.weights
}

// Dispose releases every weight tensor.
func (e *GraphExecutor) Dispose() {
	for _, tensors := range e.weights {
		for _, t := range tensors {
			t.Dispose()
		}
	}
}

// Execute runs a graph without control flow in its precompiled order.
// Tensors created during the call are released, except the returned outputs.
// When outputs is empty the graph outputs are returned.
func (e *GraphExecutor) Execute(ctx context.Context, inputs map[string]*tensor.Tensor, outputs ...string) (map[string]Value, error) {
	log := klog.FromContext(ctx)

	if err := e.checkInputs(inputs); err != nil {
		return nil, err
	}
	if e.graph.WithControlFlow {
		return nil, status.Errorf(codes.FailedPrecondition, "graph contains control flow operations, use ExecuteAsync")
	}
	if len(outputs) == 0 {
		outputs = e.outputs
	}

	scope := e.memory.NewScope()
	r := e.newRun(inputs, scope, false)

	for _, node := range e.compiledOrder {
		values, err := e.evaluate(ctx, r, node)
		if err != nil {
			scope.Close()
			return nil, err
		}
		r.tensors[r.context.Key(node.Name)] = values
	}

	results, err := e.findOutputs(r, outputs)
	if err != nil {
		scope.Close()
		return nil, err
	}

	var keep []*tensor.Tensor
	for _, v := range results {
		keep = append(keep, valueTensors(v)...)
	}
	disposed := scope.Keep(keep...)
	log.V(2).Info("executed graph", "nodes", len(e.compiledOrder), "outputs", outputs, "disposed", disposed)
	return results, nil
}

// ExecuteAsync runs the graph, discovering the order at run time so that
// control flow and asynchronous operations are supported.
// Every intermediate tensor that is not an output, an input or a weight is released,
// whether or not the execution succeeds.
func (e *GraphExecutor) ExecuteAsync(ctx context.Context, inputs map[string]*tensor.Tensor, outputs ...string) (results map[string]Value, err error) {
	log := klog.FromContext(ctx)

	if err := e.checkInputs(inputs); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		outputs = e.outputs
	}

	r := e.newRun(inputs, e.memory, true)
	defer func() {
		disposed := e.disposeIntermediates(r, inputs, results)
		log.V(2).Info("released intermediate tensors", "disposed", disposed, "live", e.memory.NumLive())
	}()

	if err := e.runDynamic(ctx, r); err != nil {
		return nil, err
	}

	r.context.SetCurrent(r.context.Root())
	return e.findOutputs(r, outputs)
}

func (e *GraphExecutor) newRun(inputs map[string]*tensor.Tensor, alloc tensor.Allocator, async bool) *run {
	r := &run{
		tensors: make(TensorMap, len(e.weights)+len(inputs)),
		context: NewExecutionContext(),
		alloc:   alloc,
		async:   async,
	}
	for name, tensors := range e.weights {
		values := make([]Value, len(tensors))
		for i, t := range tensors {
			values[i] = TensorValue(t)
		}
		r.tensors[r.context.Key(name)] = values
	}
	for name, t := range inputs {
		r.tensors[r.context.Key(name)] = []Value{TensorValue(t)}
	}
	return r
}

// evaluate runs one node in the current frame and returns its outputs.
func (e *GraphExecutor) evaluate(ctx context.Context, r *run, node *graph.Node) ([]Value, error) {
	switch node.Op {
	case graph.OpConst:
		tensors, found := e.weights[node.Name]
		if !found {
			return nil, status.Errorf(codes.NotFound, "%s: weight %q has not been set", describe(node), node.Name)
		}
		values := make([]Value, len(tensors))
		for i, t := range tensors {
			values[i] = TensorValue(t)
		}
		return values, nil

	case graph.OpPlaceholder:
		values, found := r.tensors[Key{Name: node.Name, Frame: r.context.Root().ID()}]
		if !found {
			return nil, status.Errorf(codes.InvalidArgument, "%s: no input provided", describe(node))
		}
		return values, nil
	}

	refs := node.DataInputs()
	inputs := make([]Value, len(refs))
	for i, ref := range refs {
		inputs[i], _ = r.context.Lookup(r.tensors, ref)
	}

	if defaults, found := opDefs[node.Op]; found {
		values, err := e.dispatch(r, node, params{node: node, inputs: inputs, defaults: defaults})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", describe(node), err)
		}
		return values, nil
	}

	call := &Call{
		Node:   node,
		Inputs: make([]*tensor.Tensor, len(inputs)),
		Alloc:  r.alloc,
		Frame:  r.context.Current(),
		params: params{node: node, inputs: inputs},
	}
	for i, v := range inputs {
		if v.List != nil {
			return nil, invalidArgument("%s: input %q is a tensor list, which the operation does not accept", describe(node), refs[i])
		}
		call.Inputs[i] = v.Tensor
	}

	if e.registry == nil {
		return nil, status.Errorf(codes.Unimplemented, "%s: no operation registry configured", describe(node))
	}
	result, err := e.registry.Invoke(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", describe(node), err)
	}
	if result.IsAsync() && !r.async {
		result.discard()
		return nil, status.Errorf(codes.FailedPrecondition, "%s completes asynchronously, use ExecuteAsync", describe(node))
	}
	tensors, err := result.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", describe(node), err)
	}

	values := make([]Value, len(tensors))
	for i, t := range tensors {
		values[i] = TensorValue(t)
	}
	return values, nil
}

func (e *GraphExecutor) checkInputs(inputs map[string]*tensor.Tensor) error {
	expected := make(map[string]bool, len(e.placeholders))
	for _, name := range e.placeholders {
		expected[name] = true
	}

	var provided, missing, extra []string
	for name := range inputs {
		provided = append(provided, name)
		if !expected[name] {
			extra = append(extra, name)
		}
	}
	for _, name := range e.placeholders {
		if _, found := inputs[name]; !found {
			missing = append(missing, name)
		}
	}
	sort.Strings(provided)
	sort.Strings(extra)

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("the dict provided has the keys [%s], but is missing the required keys: [%s]",
			strings.Join(provided, ", "), strings.Join(missing, ", ")))
	}
	if len(extra) > 0 {
		problems = append(problems, fmt.Sprintf("the dict provided has unused keys: [%s]. Please provide only the following keys: [%s]",
			strings.Join(extra, ", "), strings.Join(e.placeholders, ", ")))
	}
	if len(problems) > 0 {
		return status.Error(codes.InvalidArgument, strings.Join(problems, "; "))
	}

	for _, node := range e.graph.Placeholders {
		if inputs[node.Name] == nil {
			return status.Errorf(codes.InvalidArgument, "input %q is nil", node.Name)
		}
		if err := checkPlaceholder(node, inputs[node.Name]); err != nil {
			return err
		}
	}
	return nil
}

// checkPlaceholder validates an input against the placeholder's declared dtype and shape.
// A dimension of -1 matches any size.
func checkPlaceholder(node *graph.Node, t *tensor.Tensor) error {
	p := params{node: node}
	if p.has("dtype") {
		dtype, err := p.dtype("dtype")
		if err != nil {
			return err
		}
		if t.DType() != dtype {
			return status.Errorf(codes.InvalidArgument, "input %q has dtype %s, expected %s", node.Name, t.DType(), dtype)
		}
	}
	if p.has("shape") {
		shape, err := p.shape("shape")
		if err != nil {
			return err
		}
		if shape == nil {
			return nil
		}
		got := t.Shape()
		matches := len(got) == len(shape)
		for i := 0; matches && i < len(shape); i++ {
			matches = shape[i] == -1 || shape[i] == got[i]
		}
		if !matches {
			return status.Errorf(codes.InvalidArgument, "input %q has shape %v, expected %v", node.Name, got, shape)
		}
	}
	return nil
}

// findOutputs resolves each requested name, optionally "name:slot", in the current frame.
func (e *GraphExecutor) findOutputs(r *run, names []string) (map[string]Value, error) {
	results := make(map[string]Value, len(names))
	for _, name := range names {
		v, found := r.context.Lookup(r.tensors, name)
		if !found {
			return nil, status.Errorf(codes.NotFound, "cannot find the output %q in the graph results", name)
		}
		results[name] = v
	}
	return results, nil
}

// disposeIntermediates releases every tensor reached from the tensor map whose identity
// is not an output, an input or a weight. It returns the number of tensors released.
func (e *GraphExecutor) disposeIntermediates(r *run, inputs map[string]*tensor.Tensor, results map[string]Value) int {
	keep := make(map[*tensor.Tensor]bool, len(e.weightSet)+len(inputs)+len(results))
	for t := range e.weightSet {
		keep[t] = true
	}
	for _, t := range inputs {
		keep[t] = true
	}
	keepLists := make(map[*tensorlist.TensorList]bool)
	for _, v := range results {
		for _, t := range valueTensors(v) {
			keep[t] = true
		}
		if v.List != nil {
			keepLists[v.List] = true
		}
	}

	disposed := 0
	release := func(t *tensor.Tensor) {
		if t == nil || keep[t] || t.IsDisposed() {
			return
		}
		t.Dispose()
		disposed++
	}

	for _, values := range r.tensors {
		for _, v := range values {
			release(v.Tensor)
			if v.List != nil && !keepLists[v.List] {
				for _, t := range v.List.Tensors() {
					release(t)
				}
			}
		}
	}
	for _, t := range r.retired {
		release(t)
	}
	return disposed
}

func valueTensors(v Value) []*tensor.Tensor {
	if v.Tensor != nil {
		return []*tensor.Tensor{v.Tensor}
	}
	if v.List != nil {
		return v.List.Tensors()
	}
	return nil
}
