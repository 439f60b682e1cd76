package catalog

import (
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

const RunningSum = "running-sum"

// buildRunningSum computes the prefix sums of a vector:
//
//	in := unstack(x); out := list(len(in))
//	i, acc := 0, 0
//	while i < len(in) { acc += in[i]; out[i] = acc; i++ }
//
//	inputs:  x [n]
//	outputs: total (scalar), sums [n]
func buildRunningSum() (*graph.Graph, error) {
	frame := graph.AttrParam(graph.TypeString, "running-sum")
	constant := graph.AttrParam(graph.TypeBool, true)

	b := graph.NewBuilder()
	b.Add("x", graph.OpPlaceholder).
		Param("shape", graph.AttrParam(graph.TypeShape, []int{-1})).
		Param("dtype", graph.AttrParam(graph.TypeDType, "float32"))
	b.Add("zero", graph.OpConst)
	b.Add("one", graph.OpConst)

	b.Add("ta_in", engine.OpTensorArray).
		Param("size", graph.AttrParam(graph.TypeNumber, 0)).
		Param("dynamicSize", graph.AttrParam(graph.TypeBool, true)).
		Param("identicalElementShapes", graph.AttrParam(graph.TypeBool, true))
	b.Add("ta_in_filled", engine.OpTensorArrayUnstack, "ta_in", "x")
	b.Add("count", engine.OpTensorArraySize, "ta_in_filled")
	b.Add("ta_out", engine.OpTensorArray, "count")

	b.Add("enter_i", graph.OpEnter, "zero").Param("frameName", frame)
	b.Add("enter_acc", graph.OpEnter, "zero").Param("frameName", frame)
	b.Add("enter_out", graph.OpEnter, "ta_out").Param("frameName", frame)
	b.Add("enter_in", graph.OpEnter, "ta_in_filled").Param("frameName", frame).Param("isConstant", constant)
	b.Add("enter_count", graph.OpEnter, "count").Param("frameName", frame).Param("isConstant", constant)
	b.Add("enter_one", graph.OpEnter, "one").Param("frameName", frame).Param("isConstant", constant)

	b.Add("merge_i", graph.OpMerge, "enter_i", "next_i")
	b.Add("merge_acc", graph.OpMerge, "enter_acc", "next_acc")
	b.Add("merge_out", graph.OpMerge, "enter_out", "next_out")

	b.Add("less", "less", "merge_i", "enter_count")
	b.Add("cond", graph.OpLoopCond, "less")

	b.Add("switch_i", graph.OpSwitch, "merge_i", "cond")
	b.Add("switch_acc", graph.OpSwitch, "merge_acc", "cond")
	b.Add("switch_out", graph.OpSwitch, "merge_out", "cond")

	b.Add("element", engine.OpTensorArrayRead, "enter_in", "switch_i:1")
	b.Add("acc", "add", "switch_acc:1", "element")
	b.Add("written", engine.OpTensorArrayWrite, "switch_out:1", "switch_i:1", "acc")
	b.Add("i", "add", "switch_i:1", "enter_one")

	b.Add("next_i", graph.OpNextIteration, "i")
	b.Add("next_acc", graph.OpNextIteration, "acc")
	b.Add("next_out", graph.OpNextIteration, "written")

	b.Add("total", graph.OpExit, "switch_acc")
	b.Add("sums_list", graph.OpExit, "switch_out")
	b.Add("sums", engine.OpTensorArrayStack, "sums_list")

	return b.Build("total", "sums")
}

func runningSumWeights(alloc tensor.Allocator) (map[string][]*tensor.Tensor, error) {
	return scalars(alloc,
		map[string]tensor.DType{"zero": tensor.Float32, "one": tensor.Float32},
		map[string]float32{"zero": 0, "one": 1})
}
