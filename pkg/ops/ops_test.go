package ops

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

func newTensor(t *testing.T, m *tensor.Memory, shape []int, values ...float32) *tensor.Tensor {
	t.Helper()
	x, err := m.New(tensor.Float32, shape, values)
	if err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	return x
}

func TestNonMaxSuppression(t *testing.T) {
	tests := []struct {
		name           string
		boxes          []float32
		scores         []float32
		maxOutputSize  int
		iouThreshold   float64
		scoreThreshold float64
		want           []float32
	}{
		{
			name:          "nested boxes",
			boxes:         []float32{0, 0, 1, 1, 0, 0, 0.9, 0.9, 0, 0, 0.5, 0.5},
			scores:        []float32{0.9, 0.75, 0.6},
			maxOutputSize: 3,
			iouThreshold:  0.5,
			want:          []float32{0, 2},
		},
		{
			name:          "flipped corners",
			boxes:         []float32{1, 1, 0, 0, 0.9, 0.9, 0, 0, 0.5, 0.5, 0, 0},
			scores:        []float32{0.9, 0.75, 0.6},
			maxOutputSize: 3,
			iouThreshold:  0.5,
			want:          []float32{0, 2},
		},
		{
			name:          "output size caps selection",
			boxes:         []float32{0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5},
			scores:        []float32{0.1, 0.3, 0.2},
			maxOutputSize: 2,
			iouThreshold:  0.5,
			want:          []float32{1, 2},
		},
		{
			name:           "score threshold filters candidates",
			boxes:          []float32{0, 0, 1, 1, 2, 2, 3, 3},
			scores:         []float32{0.4, 0.6},
			maxOutputSize:  5,
			iouThreshold:   0.5,
			scoreThreshold: 0.5,
			want:           []float32{1},
		},
		{
			name:          "ties keep lower index first",
			boxes:         []float32{0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5},
			scores:        []float32{0.5, 0.5, 0.5},
			maxOutputSize: 3,
			iouThreshold:  0.5,
			want:          []float32{0, 1, 2},
		},
		{
			name:          "degenerate box never suppresses",
			boxes:         []float32{0, 0, 1, 1, 0, 0, 0, 1},
			scores:        []float32{0.9, 0.8},
			maxOutputSize: 2,
			iouThreshold:  0,
			want:          []float32{0, 1},
		},
		{
			name:          "zero output size",
			boxes:         []float32{0, 0, 1, 1},
			scores:        []float32{0.9},
			maxOutputSize: 0,
			iouThreshold:  0.5,
			want:          []float32{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tensor.NewMemory()
			boxes := newTensor(t, m, []int{len(tt.scores), 4}, tt.boxes...)
			scores := newTensor(t, m, []int{len(tt.scores)}, tt.scores...)

			got, err := NonMaxSuppression(m, boxes, scores, tt.maxOutputSize, tt.iouThreshold, tt.scoreThreshold)
			if err != nil {
				t.Fatalf("NonMaxSuppression failed: %v", err)
			}
			if got.DType() != tensor.Int32 {
				t.Errorf("expected int32 result, got %s", got.DType())
			}
			values, err := got.Values()
			if err != nil {
				t.Fatalf("reading result: %v", err)
			}
			if diff := cmp.Diff(tt.want, values); diff != "" {
				t.Errorf("selected indices mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNonMaxSuppressionValidation(t *testing.T) {
	m := tensor.NewMemory()
	boxes := newTensor(t, m, []int{2, 4}, 0, 0, 1, 1, 0, 0, 2, 2)
	scores := newTensor(t, m, []int{2}, 0.5, 0.6)
	flat := newTensor(t, m, []int{8}, 0, 0, 1, 1, 0, 0, 2, 2)
	threeCols := newTensor(t, m, []int{2, 3}, 0, 0, 1, 0, 0, 2)
	shortScores := newTensor(t, m, []int{1}, 0.5)

	tests := []struct {
		name   string
		boxes  *tensor.Tensor
		scores *tensor.Tensor
		iou    float64
	}{
		{name: "iou above one", boxes: boxes, scores: scores, iou: 1.5},
		{name: "iou negative", boxes: boxes, scores: scores, iou: -0.1},
		{name: "iou NaN", boxes: boxes, scores: scores, iou: math.NaN()},
		{name: "boxes rank", boxes: flat, scores: scores, iou: 0.5},
		{name: "boxes columns", boxes: threeCols, scores: scores, iou: 0.5},
		{name: "scores length", boxes: boxes, scores: shortScores, iou: 0.5},
		{name: "scores rank", boxes: boxes, scores: boxes, iou: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NonMaxSuppression(m, tt.boxes, tt.scores, 2, tt.iou, 0)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestUnstack(t *testing.T) {
	m := tensor.NewMemory()
	x := newTensor(t, m, []int{2, 3}, 1, 2, 3, 4, 5, 6)

	tests := []struct {
		name  string
		axis  int
		shape []int
		want  [][]float32
	}{
		{name: "axis 0", axis: 0, shape: []int{3}, want: [][]float32{{1, 2, 3}, {4, 5, 6}}},
		{name: "axis 1", axis: 1, shape: []int{2}, want: [][]float32{{1, 4}, {2, 5}, {3, 6}}},
		{name: "negative axis", axis: -1, shape: []int{2}, want: [][]float32{{1, 4}, {2, 5}, {3, 6}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := Unstack(m, x, tt.axis)
			if err != nil {
				t.Fatalf("Unstack failed: %v", err)
			}
			var got [][]float32
			for _, p := range parts {
				if diff := cmp.Diff(tt.shape, p.Shape()); diff != "" {
					t.Errorf("shape mismatch (-want +got):\n%s", diff)
				}
				v, _ := p.Values()
				got = append(got, v)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := Unstack(m, x, 2); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for bad axis, got %v", err)
	}
}
