package ops

import (
	"math"
	"sort"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

type candidate struct {
	score float64
	index int
}

// NonMaxSuppression selects a subset of boxes in descending score order,
// dropping boxes that overlap an already selected box by more than iouThreshold.
// boxes has shape [numBoxes, 4] with corners (y1, x1, y2, x2) in any order; scores has shape [numBoxes].
// The result is an int32 tensor of selected box indices.
func NonMaxSuppression(alloc tensor.Allocator, boxes, scores *tensor.Tensor, maxOutputSize int, iouThreshold, scoreThreshold float64) (*tensor.Tensor, error) {
	if !(iouThreshold >= 0 && iouThreshold <= 1) {
		return nil, status.Errorf(codes.InvalidArgument, "iouThreshold must be in [0, 1], got %v", iouThreshold)
	}
	boxesShape := boxes.Shape()
	if len(boxesShape) != 2 {
		return nil, status.Errorf(codes.InvalidArgument, "boxes must be a 2D tensor, got rank %d", len(boxesShape))
	}
	if boxesShape[1] != 4 {
		return nil, status.Errorf(codes.InvalidArgument, "boxes must have 4 columns, got %d", boxesShape[1])
	}
	numBoxes := boxesShape[0]
	scoresShape := scores.Shape()
	if len(scoresShape) != 1 {
		return nil, status.Errorf(codes.InvalidArgument, "scores must be a 1D tensor, got rank %d", len(scoresShape))
	}
	if scoresShape[0] != numBoxes {
		return nil, status.Errorf(codes.InvalidArgument, "scores has incompatible shape with boxes: expected %d, got %d", numBoxes, scoresShape[0])
	}
	if maxOutputSize < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "maxOutputSize must be non-negative, got %d", maxOutputSize)
	}

	boxValues, err := boxes.Values()
	if err != nil {
		return nil, err
	}
	scoreValues, err := scores.Values()
	if err != nil {
		return nil, err
	}

	selected := suppress(boxValues, scoreValues, min(maxOutputSize, numBoxes), iouThreshold, scoreThreshold)

	indices := make([]float32, len(selected))
	for i, index := range selected {
		indices[i] = float32(index)
	}
	return alloc.New(tensor.Int32, []int{len(indices)}, indices)
}

func suppress(boxes, scores []float32, outputSize int, iouThreshold, scoreThreshold float64) []int {
	var candidates []candidate
	for i, score := range scores {
		if float64(score) > scoreThreshold {
			candidates = append(candidates, candidate{score: float64(score), index: i})
		}
	}
	// Equal scores keep their original order, so the lower index wins.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var selected []int
	for _, c := range candidates {
		if len(selected) >= outputSize {
			break
		}
		originalScore := c.score

		for j := len(selected) - 1; j >= 0; j-- {
			iou := intersectionOverUnion(boxes, c.index, selected[j])
			if iou == 0 {
				continue
			}
			if iou > iouThreshold {
				c.score = 0
			}
			if c.score <= scoreThreshold {
				break
			}
		}

		if c.score == originalScore {
			selected = append(selected, c.index)
		}
	}
	return selected
}

func intersectionOverUnion(boxes []float32, i, j int) float64 {
	bi := boxes[4*i : 4*i+4]
	bj := boxes[4*j : 4*j+4]

	yminI := math.Min(float64(bi[0]), float64(bi[2]))
	xminI := math.Min(float64(bi[1]), float64(bi[3]))
	ymaxI := math.Max(float64(bi[0]), float64(bi[2]))
	xmaxI := math.Max(float64(bi[1]), float64(bi[3]))
	yminJ := math.Min(float64(bj[0]), float64(bj[2]))
	xminJ := math.Min(float64(bj[1]), float64(bj[3]))
	ymaxJ := math.Max(float64(bj[0]), float64(bj[2]))
	xmaxJ := math.Max(float64(bj[1]), float64(bj[3]))

	areaI := (ymaxI - yminI) * (xmaxI - xminI)
	areaJ := (ymaxJ - yminJ) * (xmaxJ - xminJ)
	if areaI <= 0 || areaJ <= 0 {
		return 0
	}

	intersectionYmin := math.Max(yminI, yminJ)
	intersectionXmin := math.Max(xminI, xminJ)
	intersectionYmax := math.Min(ymaxI, ymaxJ)
	intersectionXmax := math.Min(xmaxI, xmaxJ)
	intersectionArea := math.Max(intersectionYmax-intersectionYmin, 0) * math.Max(intersectionXmax-intersectionXmin, 0)
	return intersectionArea / (areaI + areaJ - intersectionArea)
}
