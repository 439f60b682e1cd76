// Package catalog holds the graphs served by tensorserver.
package catalog

import (
	"slices"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/graph"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

type Model struct {
	Name        string
	Description string

	// Build returns a fresh copy of the graph.
	Build func() (*graph.Graph, error)

	// DefaultWeights allocates the weights used when none are loaded.
	DefaultWeights func(alloc tensor.Allocator) (map[string][]*tensor.Tensor, error)
}

var models = map[string]Model{
	BoxFilter: {
		Name:           BoxFilter,
		Description:    "non-max suppression over [n,4] boxes and [n] scores",
		Build:          buildBoxFilter,
		DefaultWeights: boxFilterWeights,
	},
	RunningSum: {
		Name:           RunningSum,
		Description:    "cumulative sum of a vector, computed by a while loop over tensor lists",
		Build:          buildRunningSum,
		DefaultWeights: runningSumWeights,
	},
}

func Get(name string) (Model, error) {
	m, found := models[name]
	if !found {
		return Model{}, status.Errorf(codes.NotFound, "graph %q is not in the catalog, available graphs are %v", name, Names())
	}
	return m, nil
}

func Names() []string {
	var names []string
	for name := range models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// scalars allocates one scalar tensor per weight name.
func scalars(alloc tensor.Allocator, dtypes map[string]tensor.DType, values map[string]float32) (map[string][]*tensor.Tensor, error) {
	weights := make(map[string][]*tensor.Tensor, len(values))
	for name, v := range values {
		t, err := alloc.New(dtypes[name], nil, []float32{v})
		if err != nil {
			for _, tensors := range weights {
				tensors[0].Dispose()
			}
			return nil, err
		}
		weights[name] = []*tensor.Tensor{t}
	}
	return weights, nil
}
