package graph

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Builder assembles a Graph from nodes added in order.
type Builder struct {
	nodes  []*Node
	byName map[string]*Node
	err    error
}

func NewBuilder() *Builder {
	return &Builder{byName: make(map[string]*Node)}
}

// Add registers a node and returns it so params can be attached.
func (b *Builder) Add(name, op string, inputs ...string) *Node {
	n := &Node{
		Name:   name,
		Op:     op,
		Inputs: inputs,
		Params: make(map[string]*Param),
	}
	if _, found := b.byName[name]; found {
		if b.err == nil {
			b.err = status.Errorf(codes.InvalidArgument, "node %q already registered", name)
		}
		return n
	}
	b.byName[name] = n
	b.nodes = append(b.nodes, n)
	return n
}

// Param sets a named argument on the node.
func (n *Node) Param(name string, p *Param) *Node {
	if n.Params == nil {
		n.Params = make(map[string]*Param)
	}
	n.Params[name] = p
	return n
}

// Build links producers to consumers and classifies nodes.
func (b *Builder) Build(outputs ...string) (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}

	g := &Graph{Nodes: make(map[string]*Node, len(b.nodes))}
	for _, n := range b.nodes {
		g.Nodes[n.Name] = n
		n.Children = nil
	}

	for _, n := range b.nodes {
		linked := make(map[string]bool)
		for _, input := range n.Inputs {
			ref := ParseRef(input)
			producer, found := g.Nodes[ref.Name]
			if !found {
				return nil, status.Errorf(codes.InvalidArgument, "node %q has input %q from unknown node", n.Name, input)
			}
			if linked[producer.Name] {
				continue
			}
			linked[producer.Name] = true
			producer.Children = append(producer.Children, n)
		}

		for name, p := range n.Params {
			if p.FromInput && (p.Input < 0 || p.Input >= len(n.DataInputs())) {
				return nil, status.Errorf(codes.InvalidArgument, "node %q param %q reads input %d, but node has %d inputs", n.Name, name, p.Input, len(n.DataInputs()))
			}
		}

		if len(n.Inputs) == 0 {
			g.Inputs = append(g.Inputs, n)
		}
		if n.Op == OpPlaceholder {
			g.Placeholders = append(g.Placeholders, n)
		}
		if IsControlFlow(n.Op) {
			g.WithControlFlow = true
		}
	}

	for _, name := range outputs {
		n, found := g.Nodes[ParseRef(name).Name]
		if !found {
			return nil, status.Errorf(codes.InvalidArgument, "output %q is not a node in the graph", name)
		}
		g.Outputs = append(g.Outputs, n)
	}

	return g, nil
}
