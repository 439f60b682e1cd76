package graph

import (
	"strconv"
	"strings"
)

// Op kinds with meaning to the executor itself.
const (
	OpConst         = "const"
	OpPlaceholder   = "placeholder"
	OpEnter         = "enter"
	OpExit          = "exit"
	OpMerge         = "merge"
	OpSwitch        = "switch"
	OpNextIteration = "nextIteration"
	OpLoopCond      = "loopCond"
)

// IsControlFlow reports whether op moves values between frames or branches.
func IsControlFlow(op string) bool {
	switch op {
	case OpEnter, OpExit, OpMerge, OpSwitch, OpNextIteration, OpLoopCond:
		return true
	}
	return false
}

type Node struct {
	Name string
	Op   string

	// Inputs are references to producer outputs, see ParseRef.
	Inputs []string

	// Children are the nodes that consume an output of this node.
	Children []*Node

	Params map[string]*Param
}

// DataInputs returns the input references that carry values, skipping control inputs.
func (n *Node) DataInputs() []string {
	var refs []string
	for _, input := range n.Inputs {
		if !strings.HasPrefix(input, "^") {
			refs = append(refs, input)
		}
	}
	return refs
}

type Graph struct {
	Nodes map[string]*Node

	// Placeholders are the nodes fed by caller inputs.
	Placeholders []*Node

	// Inputs are the nodes without producers, where execution starts.
	Inputs []*Node

	Outputs []*Node

	WithControlFlow bool
}

// Ref is a parsed input reference.
type Ref struct {
	Name string
	Slot int

	// Control marks an ordering-only dependency, written "^name".
	Control bool
}

// ParseRef parses "name", "name:slot" or "^name".
func ParseRef(s string) Ref {
	ref := Ref{Name: s}
	if strings.HasPrefix(s, "^") {
		ref.Control = true
		ref.Name = s[1:]
		return ref
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if slot, err := strconv.Atoi(s[i+1:]); err == nil && slot >= 0 {
			ref.Name = s[:i]
			ref.Slot = slot
		}
	}
	return ref
}

func (r Ref) String() string {
	switch {
	case r.Control:
		return "^" + r.Name
	case r.Slot != 0:
		return r.Name + ":" + strconv.Itoa(r.Slot)
	default:
		return r.Name
	}
}
