package fallback

import (
	"context"
	"slices"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/klog/v2"
)

// Kernel implements one operation kind.
type Kernel func(ctx context.Context, call *engine.Call) (engine.Result, error)

// Registry is a pure-Go OpRegistry for elementwise and shape operations.
type Registry struct {
	mutex   sync.RWMutex
	kernels map[string]Kernel
}

var _ engine.OpRegistry = &Registry{}

// NewRegistry returns a registry with the built-in kernels.
func NewRegistry() *Registry {
	r := &Registry{kernels: make(map[string]Kernel)}

	r.Register("add", binary(func(a, b float64) float64 { return a + b }))
	r.Register("sub", binary(func(a, b float64) float64 { return a - b }))
	r.Register("mul", binary(func(a, b float64) float64 { return a * b }))
	r.Register("div", divide)
	r.Register("maximum", binary(func(a, b float64) float64 { return max(a, b) }))
	r.Register("minimum", binary(func(a, b float64) float64 { return min(a, b) }))
	r.Register("less", compare(func(a, b float64) bool { return a < b }))
	r.Register("greater", compare(func(a, b float64) bool { return a > b }))
	r.Register("equal", compare(func(a, b float64) bool { return a == b }))
	r.Register("identity", identity)
	r.Register("cast", cast)
	r.Register("reshape", reshape)
	r.Register("squeeze", squeeze)
	r.Register("rmsNorm", rmsNorm)
	r.Register("linearScale", linearScale)

	return r
}

// Register adds or replaces the kernel for op.
func (r *Registry) Register(op string, k Kernel) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.kernels[op] = k
}

// Ops returns the registered operation kinds, sorted.
func (r *Registry) Ops() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var ops []string
	for op := range r.kernels {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

func (r *Registry) Invoke(ctx context.Context, call *engine.Call) (engine.Result, error) {
	r.mutex.RLock()
	k, found := r.kernels[call.Node.Op]
	r.mutex.RUnlock()

	if !found {
		return engine.Result{}, status.Errorf(codes.Unimplemented, "operation %q is not supported", call.Node.Op)
	}

	klog.FromContext(ctx).V(4).Info("invoking kernel", "node", call.Node.Name, "op", call.Node.Op, "frame", call.Frame)
	return k(ctx, call)
}
