package engine

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/klog/v2"
)

// BuildOrder returns a topological order of every node reachable from the graph inputs.
// A node is emitted once all of its producers, including control inputs, have been emitted.
func BuildOrder(g *graph.Graph) []*graph.Node {
	order := make([]*graph.Node, 0, len(g.Nodes))
	visited := make(map[string]bool, len(g.Nodes))

	stack := make([]*graph.Node, len(g.Inputs))
	copy(stack, g.Inputs)

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node.Name] {
			continue
		}
		visited[node.Name] = true
		order = append(order, node)

		for _, child := range node.Children {
			if visited[child.Name] {
				continue
			}
			ready := true
			for _, input := range child.Inputs {
				if !visited[graph.ParseRef(input).Name] {
					ready = false
					break
				}
			}
			if ready {
				stack = append(stack, child)
			}
		}
	}

	return order
}

type scheduled struct {
	node  *graph.Node
	frame *Frame
}

// runDynamic discovers the execution order while executing, following values across frames.
// A node is scheduled once per frame: merge nodes when any input is available, others when all are.
func (e *GraphExecutor) runDynamic(ctx context.Context, r *run) error {
	log := klog.FromContext(ctx)

	stack := make([]scheduled, 0, len(e.graph.Inputs))
	for i := len(e.graph.Inputs) - 1; i >= 0; i-- {
		stack = append(stack, scheduled{node: e.graph.Inputs[i], frame: r.context.Root()})
	}
	added := make(map[Key]bool)

	steps := 0
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		steps++
		if steps > e.maxSteps {
			return status.Errorf(codes.ResourceExhausted, "execution exceeded %d node evaluations; the graph may not terminate", e.maxSteps)
		}

		r.context.SetCurrent(item.frame)
		log.V(4).Info("executing node", "node", item.node.Name, "op", item.node.Op, "frame", item.frame)

		values, err := e.evaluate(ctx, r, item.node)
		if err != nil {
			return err
		}
		storeKey, invariant := e.storageKey(r, item.node)
		r.tensors[storeKey] = values

		// A loop invariant may arrive after the loop has advanced; offer it to every iteration.
		frames := []*Frame{r.context.Current()}
		if invariant {
			frames = r.context.iterations(r.context.Current())
		}
		for i := len(frames) - 1; i >= 0; i-- {
			r.context.SetCurrent(frames[i])
			for _, child := range item.node.Children {
				key := r.context.Key(child.Name)
				if added[key] {
					continue
				}
				if !e.ready(r, child) {
					continue
				}
				added[key] = true
				stack = append(stack, scheduled{node: child, frame: frames[i]})
			}
		}
	}

	log.V(2).Info("dynamic execution finished", "steps", steps)
	return nil
}

func (e *GraphExecutor) ready(r *run, node *graph.Node) bool {
	available := func(input string) bool {
		ref := graph.ParseRef(input)
		if ref.Control {
			return r.context.Produced(r.tensors, ref.Name)
		}
		_, found := r.context.Lookup(r.tensors, input)
		return found
	}

	if node.Op == graph.OpMerge {
		for _, input := range node.Inputs {
			if available(input) {
				return true
			}
		}
		return false
	}
	for _, input := range node.Inputs {
		if !available(input) {
			return false
		}
	}
	return true
}

// storageKey is where the outputs of node go after it has run.
// Constant enter nodes store into the loop-invariant frame so every iteration sees them.
func (e *GraphExecutor) storageKey(r *run, node *graph.Node) (Key, bool) {
	if node.Op == graph.OpEnter {
		p := params{node: node, defaults: opDefs[graph.OpEnter]}
		if constant, err := p.boolean("isConstant"); err == nil && constant {
			return r.context.InvariantKey(node.Name), true
		}
	}
	return r.context.Key(node.Name), false
}
