package engine

import (
	"sort"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/graph"
)

// FrameID identifies a frame within one ExecutionContext.
type FrameID int

// invariantIteration marks the frame holding loop-invariant values of a loop.
const invariantIteration = -1

// Frame is one iteration of one loop, nested inside its parent frame.
// Frames are interned: the same (parent, name, iteration) always yields the same Frame.
type Frame struct {
	id        FrameID
	parent    *Frame
	name      string
	iteration int

	children map[frameStep]*Frame
}

type frameStep struct {
	name      string
	iteration int
}

func (f *Frame) ID() FrameID {
	return f.id
}

func (f *Frame) Name() string {
	return f.name
}

func (f *Frame) Iteration() int {
	return f.iteration
}

func (f *Frame) Parent() *Frame {
	return f.parent
}

func (f *Frame) IsRoot() bool {
	return f.parent == nil
}

// String renders the frame path, for example "root/while-0/inner-3".
func (f *Frame) String() string {
	if f.parent == nil {
		return "root"
	}
	var parts []string
	for x := f; x.parent != nil; x = x.parent {
		iteration := strconv.Itoa(x.iteration)
		if x.iteration == invariantIteration {
			iteration = "invariant"
		}
		parts = append(parts, x.name+"-"+iteration)
	}
	var b strings.Builder
	b.WriteString("root")
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(parts[i])
	}
	return b.String()
}

// invariant returns the loop-invariant sibling of f, if it has been created.
func (f *Frame) invariant() *Frame {
	if f.parent == nil || f.iteration == invariantIteration {
		return nil
	}
	return f.parent.children[frameStep{name: f.name, iteration: invariantIteration}]
}

// ExecutionContext tracks the frame the executor is currently in.
type ExecutionContext struct {
	root    *Frame
	current *Frame
	nextID  FrameID
}

func NewExecutionContext() *ExecutionContext {
	root := &Frame{id: 0}
	return &ExecutionContext{
		root:    root,
		current: root,
		nextID:  1,
	}
}

func (c *ExecutionContext) Root() *Frame {
	return c.root
}

func (c *ExecutionContext) Current() *Frame {
	return c.current
}

func (c *ExecutionContext) SetCurrent(f *Frame) {
	c.current = f
}

func (c *ExecutionContext) frame(parent *Frame, name string, iteration int) *Frame {
	step := frameStep{name: name, iteration: iteration}
	if f, found := parent.children[step]; found {
		return f
	}
	f := &Frame{
		id:        c.nextID,
		parent:    parent,
		name:      name,
		iteration: iteration,
	}
	c.nextID++
	if parent.children == nil {
		parent.children = make(map[frameStep]*Frame)
	}
	parent.children[step] = f
	return f
}

// EnterFrame moves into iteration 0 of the loop name, nested in the current frame.
func (c *ExecutionContext) EnterFrame(name string) {
	c.current = c.frame(c.current, name, 0)
}

// ExitFrame moves back to the enclosing frame.
func (c *ExecutionContext) ExitFrame() error {
	if c.current.parent == nil {
		return status.Errorf(codes.FailedPrecondition, "cannot exit the root frame")
	}
	c.current = c.current.parent
	return nil
}

// NextIteration moves to the following iteration of the current loop.
func (c *ExecutionContext) NextIteration() error {
	f := c.current
	if f.parent == nil {
		return status.Errorf(codes.FailedPrecondition, "cannot advance the iteration of the root frame")
	}
	c.current = c.frame(f.parent, f.name, f.iteration+1)
	return nil
}

// iterations returns the frames created so far for the loop f belongs to, in iteration order.
func (c *ExecutionContext) iterations(f *Frame) []*Frame {
	if f.parent == nil {
		return []*Frame{f}
	}
	var frames []*Frame
	for step, sibling := range f.parent.children {
		if step.name == f.name && step.iteration != invariantIteration {
			frames = append(frames, sibling)
		}
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].iteration < frames[j].iteration })
	return frames
}

// Key is where outputs of node name are stored in the current frame.
func (c *ExecutionContext) Key(name string) Key {
	return Key{Name: name, Frame: c.current.id}
}

// InvariantKey is where loop-invariant outputs of node name are stored,
// visible to every iteration of the current loop.
func (c *ExecutionContext) InvariantKey(name string) Key {
	f := c.current
	if f.parent == nil {
		return Key{Name: name, Frame: f.id}
	}
	return Key{Name: name, Frame: c.frame(f.parent, f.name, invariantIteration).id}
}

// Lookup resolves an input reference from the current frame outwards.
// Each frame is searched before its loop-invariant sibling, then the parent.
func (c *ExecutionContext) Lookup(m TensorMap, ref string) (Value, bool) {
	r := graph.ParseRef(ref)
	values, found := c.find(m, r.Name)
	if !found || r.Slot >= len(values) {
		return Value{}, false
	}
	v := values[r.Slot]
	return v, !v.IsZero()
}

// Produced reports whether node name has run in a frame visible from the current one.
func (c *ExecutionContext) Produced(m TensorMap, name string) bool {
	_, found := c.find(m, name)
	return found
}

func (c *ExecutionContext) find(m TensorMap, name string) ([]Value, bool) {
	for f := c.current; f != nil; f = f.parent {
		if values, found := m[Key{Name: name, Frame: f.id}]; found {
			return values, true
		}
		if inv := f.invariant(); inv != nil {
			if values, found := m[Key{Name: name, Frame: inv.id}]; found {
				return values, true
			}
		}
	}
	return nil, false
}
