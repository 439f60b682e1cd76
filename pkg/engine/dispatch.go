package engine

import (
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/ops"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
	"k8s.io/examples/AI/graphexec/pkg/tensorlist"
)

// dispatch runs a specialized operation: control flow, unpack, non-max-suppression and tensor lists.
func (e *GraphExecutor) dispatch(r *run, node *graph.Node, p params) ([]Value, error) {
	switch node.Op {
	case graph.OpLoopCond:
		v, _, err := p.value("pred")
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil

	case graph.OpSwitch:
		data, _, err := p.value("data")
		if err != nil {
			return nil, err
		}
		pred, err := p.boolean("pred")
		if err != nil {
			return nil, err
		}
		if pred {
			return []Value{{}, data}, nil
		}
		return []Value{data, {}}, nil

	case graph.OpMerge:
		for _, v := range p.inputs {
			if !v.IsZero() {
				return []Value{v}, nil
			}
		}
		return nil, status.Errorf(codes.FailedPrecondition, "none of the inputs is available")

	case graph.OpEnter:
		data, _, err := p.value("tensor")
		if err != nil {
			return nil, err
		}
		frameName, err := p.str("frameName")
		if err != nil {
			return nil, err
		}
		r.context.EnterFrame(frameName)
		return []Value{data}, nil

	case graph.OpExit:
		data, _, err := p.value("tensor")
		if err != nil {
			return nil, err
		}
		if err := r.context.ExitFrame(); err != nil {
			return nil, err
		}
		return []Value{data}, nil

	case graph.OpNextIteration:
		data, _, err := p.value("tensor")
		if err != nil {
			return nil, err
		}
		if err := r.context.NextIteration(); err != nil {
			return nil, err
		}
		return []Value{data}, nil

	case OpUnpack:
		x, err := p.tensor("tensor")
		if err != nil {
			return nil, err
		}
		axis, err := p.integer("axis")
		if err != nil {
			return nil, err
		}
		parts, err := ops.Unstack(r.alloc, x, axis)
		if err != nil {
			return nil, err
		}
		values := make([]Value, len(parts))
		for i, t := range parts {
			values[i] = TensorValue(t)
		}
		return values, nil

	case OpNonMaxSuppression:
		return e.nonMaxSuppression(r, node, p)

	case OpTensorArray, OpTensorArrayWrite, OpTensorArrayRead, OpTensorArrayGather, OpTensorArrayScatter,
		OpTensorArrayStack, OpTensorArrayUnstack, OpTensorArraySize, OpTensorArrayClose:
		return e.tensorArray(r, node, p)

	default:
		return nil, status.Errorf(codes.Unimplemented, "experimental node type %q is not implemented", node.Op)
	}
}

func (e *GraphExecutor) nonMaxSuppression(r *run, node *graph.Node, p params) ([]Value, error) {
	boxes, err := p.tensor("boxes")
	if err != nil {
		return nil, err
	}
	scores, err := p.tensor("scores")
	if err != nil {
		return nil, err
	}
	maxOutputSizes, err := p.numbers("maxOutputSize")
	if err != nil {
		return nil, err
	}
	if len(maxOutputSizes) == 0 {
		return nil, invalidArgument("maxOutputSize has no values")
	}
	maxOutputSize := math.Inf(1)
	for _, x := range maxOutputSizes {
		maxOutputSize = math.Min(maxOutputSize, x)
	}
	iouThreshold, err := p.number("iouThreshold")
	if err != nil {
		return nil, err
	}
	scoreThreshold := math.Inf(-1)
	if param, found := p.lookup("scoreThreshold"); found && (!param.FromInput || param.Input < len(p.inputs)) {
		scoreThreshold, err = p.number("scoreThreshold")
		if err != nil {
			return nil, err
		}
	}

	selected, err := ops.NonMaxSuppression(r.alloc, boxes, scores, int(maxOutputSize), iouThreshold, scoreThreshold)
	if err != nil {
		return nil, err
	}
	return []Value{TensorValue(selected)}, nil
}

func (e *GraphExecutor) tensorArray(r *run, node *graph.Node, p params) ([]Value, error) {
	if node.Op == OpTensorArray {
		config := tensorlist.Config{Name: node.Name}
		var err error
		if config.Size, err = p.integer("size"); err != nil {
			return nil, err
		}
		if config.DType, err = p.dtype("dtype"); err != nil {
			return nil, err
		}
		if config.ElementShape, err = p.shape("elementShape"); err != nil {
			return nil, err
		}
		if config.DynamicSize, err = p.boolean("dynamicSize"); err != nil {
			return nil, err
		}
		if config.ClearAfterRead, err = p.boolean("clearAfterRead"); err != nil {
			return nil, err
		}
		if config.IdenticalElementShapes, err = p.boolean("identicalElementShapes"); err != nil {
			return nil, err
		}
		if name, err := p.str("name"); err != nil {
			return nil, err
		} else if name != "" {
			config.Name = name
		}
		l, err := tensorlist.New(config)
		if err != nil {
			return nil, err
		}
		return []Value{ListValue(l)}, nil
	}

	l, err := p.list("tensorArray")
	if err != nil {
		return nil, err
	}
	// Handles the list lets go of are swept with the intermediates.
	defer func() {
		r.retired = append(r.retired, l.Dropped()...)
	}()

	switch node.Op {
	case OpTensorArrayWrite:
		index, err := p.integer("index")
		if err != nil {
			return nil, err
		}
		t, err := p.tensor("tensor")
		if err != nil {
			return nil, err
		}
		if err := l.Write(index, t); err != nil {
			return nil, err
		}
		return []Value{ListValue(l)}, nil

	case OpTensorArrayRead:
		index, err := p.integer("index")
		if err != nil {
			return nil, err
		}
		t, err := l.Read(index)
		if err != nil {
			return nil, err
		}
		return []Value{TensorValue(t)}, nil

	case OpTensorArrayGather:
		indices, err := p.integers("indices")
		if err != nil {
			return nil, err
		}
		t, err := l.Gather(r.alloc, indices)
		if err != nil {
			return nil, err
		}
		return []Value{TensorValue(t)}, nil

	case OpTensorArrayScatter:
		indices, err := p.integers("indices")
		if err != nil {
			return nil, err
		}
		t, err := p.tensor("tensor")
		if err != nil {
			return nil, err
		}
		if err := l.Scatter(r.alloc, indices, t); err != nil {
			return nil, err
		}
		return []Value{ListValue(l)}, nil

	case OpTensorArrayStack:
		t, err := l.Stack(r.alloc)
		if err != nil {
			return nil, err
		}
		return []Value{TensorValue(t)}, nil

	case OpTensorArrayUnstack:
		t, err := p.tensor("tensor")
		if err != nil {
			return nil, err
		}
		if err := l.Unstack(r.alloc, t); err != nil {
			return nil, err
		}
		return []Value{ListValue(l)}, nil

	case OpTensorArraySize:
		size, err := r.alloc.New(tensor.Int32, nil, []float32{float32(l.Size())})
		if err != nil {
			return nil, err
		}
		return []Value{TensorValue(size)}, nil

	case OpTensorArrayClose:
		l.Close()
		return []Value{}, nil
	}

	return nil, status.Errorf(codes.Unimplemented, "experimental node type %q is not implemented", node.Op)
}
