package engine

import (
	"testing"

	"k8s.io/examples/AI/graphexec/pkg/graph"
)

func TestBuildOrder(t *testing.T) {
	b := graph.NewBuilder()
	b.Add("x", graph.OpPlaceholder)
	b.Add("w", graph.OpConst)
	b.Add("left", "add", "x", "w")
	b.Add("right", "mul", "x", "x")
	b.Add("join", "add", "left", "right")
	b.Add("after", "identity", "x", "^join")
	g, err := b.Build("after")
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}

	order := BuildOrder(g)
	if len(order) != len(g.Nodes) {
		t.Fatalf("expected %d nodes in order, got %d", len(g.Nodes), len(order))
	}

	position := make(map[string]int)
	for i, n := range order {
		if _, seen := position[n.Name]; seen {
			t.Fatalf("node %q appears twice in %v", n.Name, order)
		}
		position[n.Name] = i
	}
	for _, n := range order {
		for _, input := range n.Inputs {
			producer := graph.ParseRef(input).Name
			if position[producer] >= position[n.Name] {
				t.Errorf("node %q runs before its producer %q", n.Name, producer)
			}
		}
	}
}

func TestBuildOrderSkipsUnreachable(t *testing.T) {
	b := graph.NewBuilder()
	b.Add("x", graph.OpPlaceholder)
	b.Add("y", "identity", "x")
	b.Add("loopback", "identity", "y", "cycle")
	b.Add("cycle", "identity", "loopback")
	g, err := b.Build("y")
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}

	order := BuildOrder(g)
	var names []string
	for _, n := range order {
		names = append(names, n.Name)
	}
	if len(names) != 2 || names[0] != "x" || names[1] != "y" {
		t.Errorf("expected [x y], got %v", names)
	}
}
