package catalog

import (
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

const BoxFilter = "box-filter"

// buildBoxFilter selects boxes with non-max suppression.
//
//	inputs:  boxes [n,4], scores [n]
//	outputs: selected [k] int32
//
// The node "best" holds the highest scoring selected box. It is only produced
// when at least one box is selected, so it is not a default output.
func buildBoxFilter() (*graph.Graph, error) {
	b := graph.NewBuilder()
	b.Add("boxes", graph.OpPlaceholder).
		Param("shape", graph.AttrParam(graph.TypeShape, []int{-1, 4})).
		Param("dtype", graph.AttrParam(graph.TypeDType, "float32"))
	b.Add("scores", graph.OpPlaceholder).
		Param("shape", graph.AttrParam(graph.TypeShape, []int{-1})).
		Param("dtype", graph.AttrParam(graph.TypeDType, "float32"))
	b.Add("max_output_size", graph.OpConst)
	b.Add("iou_threshold", graph.OpConst)
	b.Add("score_threshold", graph.OpConst)

	b.Add("selected", engine.OpNonMaxSuppression, "boxes", "scores", "max_output_size", "iou_threshold", "score_threshold")

	// The best box is the first selected row.
	b.Add("rows", engine.OpTensorArray).
		Param("size", graph.AttrParam(graph.TypeNumber, 0)).
		Param("dynamicSize", graph.AttrParam(graph.TypeBool, true)).
		Param("elementShape", graph.AttrParam(graph.TypeShape, []int{4}))
	b.Add("rows_filled", engine.OpTensorArrayUnstack, "rows", "boxes")
	b.Add("first", engine.OpUnpack, "selected")
	b.Add("best", engine.OpTensorArrayRead, "rows_filled", "first")
	b.Add("rows_closed", engine.OpTensorArrayClose, "rows_filled", "^best")

	return b.Build("selected")
}

func boxFilterWeights(alloc tensor.Allocator) (map[string][]*tensor.Tensor, error) {
	return scalars(alloc,
		map[string]tensor.DType{
			"max_output_size": tensor.Int32,
			"iou_threshold":   tensor.Float32,
			"score_threshold": tensor.Float32,
		},
		map[string]float32{
			"max_output_size": 10,
			"iou_threshold":   0.5,
			"score_threshold": 0,
		})
}
