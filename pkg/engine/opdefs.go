package engine

import (
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

// Operation kinds handled by the executor's specialized dispatcher.
const (
	OpUnpack             = "unpack"
	OpNonMaxSuppression  = "nonMaxSuppression"
	OpTensorArray        = "tensorArray"
	OpTensorArrayWrite   = "tensorArrayWrite"
	OpTensorArrayRead    = "tensorArrayRead"
	OpTensorArrayGather  = "tensorArrayGather"
	OpTensorArrayScatter = "tensorArrayScatter"
	OpTensorArrayStack   = "tensorArrayStack"
	OpTensorArrayUnstack = "tensorArrayUnstack"
	OpTensorArraySize    = "tensorArraySize"
	OpTensorArrayClose   = "tensorArrayClose"
)

func in(i int, typ graph.ParamType) *graph.Param {
	return graph.InputParam(i, typ)
}

func attr(typ graph.ParamType, v any) *graph.Param {
	return graph.AttrParam(typ, v)
}

// opDefs lists the argument layout of each specialized operation.
// A node may override any entry through its own Params.
var opDefs = map[string]map[string]*graph.Param{
	graph.OpEnter: {
		"tensor":     in(0, graph.TypeTensor),
		"isConstant": attr(graph.TypeBool, false),
	},
	graph.OpExit:          {"tensor": in(0, graph.TypeTensor)},
	graph.OpNextIteration: {"tensor": in(0, graph.TypeTensor)},
	graph.OpLoopCond:      {"pred": in(0, graph.TypeTensor)},
	graph.OpSwitch: {
		"data": in(0, graph.TypeTensor),
		"pred": in(1, graph.TypeBool),
	},
	graph.OpMerge: {},

	OpUnpack: {
		"tensor": in(0, graph.TypeTensor),
		"axis":   attr(graph.TypeNumber, 0),
	},
	OpNonMaxSuppression: {
		"boxes":          in(0, graph.TypeTensor),
		"scores":         in(1, graph.TypeTensor),
		"maxOutputSize":  in(2, graph.TypeNumber),
		"iouThreshold":   in(3, graph.TypeNumber),
		"scoreThreshold": in(4, graph.TypeNumber),
	},

	OpTensorArray: {
		"size":                   in(0, graph.TypeNumber),
		"dtype":                  attr(graph.TypeDType, tensor.Float32),
		"elementShape":           attr(graph.TypeShape, nil),
		"dynamicSize":            attr(graph.TypeBool, false),
		"clearAfterRead":         attr(graph.TypeBool, false),
		"identicalElementShapes": attr(graph.TypeBool, false),
		"name":                   attr(graph.TypeString, ""),
	},
	OpTensorArrayWrite: {
		"tensorArray": in(0, graph.TypeTensor),
		"index":       in(1, graph.TypeNumber),
		"tensor":      in(2, graph.TypeTensor),
	},
	OpTensorArrayRead: {
		"tensorArray": in(0, graph.TypeTensor),
		"index":       in(1, graph.TypeNumber),
	},
	OpTensorArrayGather: {
		"tensorArray": in(0, graph.TypeTensor),
		"indices":     in(1, graph.TypeNumber),
	},
	OpTensorArrayScatter: {
		"tensorArray": in(0, graph.TypeTensor),
		"indices":     in(1, graph.TypeNumber),
		"tensor":      in(2, graph.TypeTensor),
	},
	OpTensorArrayStack:   {"tensorArray": in(0, graph.TypeTensor)},
	OpTensorArrayUnstack: {"tensorArray": in(0, graph.TypeTensor), "tensor": in(1, graph.TypeTensor)},
	OpTensorArraySize:    {"tensorArray": in(0, graph.TypeTensor)},
	OpTensorArrayClose:   {"tensorArray": in(0, graph.TypeTensor)},
}

// IsSpecialized reports whether op is run by the executor rather than the OpRegistry.
func IsSpecialized(op string) bool {
	_, found := opDefs[op]
	return found
}
