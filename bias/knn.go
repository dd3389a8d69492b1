package bias

import (
	"fmt"
	"sort"

	"github.com/tsawler/go-shapebias/internal/mathx"
)

// DistanceMatrix holds symmetric pairwise cosine distances between
// embeddings. It is read-only after construction.
type DistanceMatrix struct {
	n int
	d []float64
}

// NewDistanceMatrix computes 1 - cos(a, b) for every pair. All embeddings
// must share one dimension.
func NewDistanceMatrix(embeddings [][]float32) (*DistanceMatrix, error) {
	if err := checkDimensions(embeddings); err != nil {
		return nil, err
	}
	n := len(embeddings)
	m := &DistanceMatrix{n: n, d: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist := mathx.CosineDistance(embeddings[i], embeddings[j])
			m.d[i*n+j] = dist
			m.d[j*n+i] = dist
		}
	}
	return m, nil
}

func checkDimensions(embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	dim := len(embeddings[0])
	for i, e := range embeddings {
		if len(e) != dim {
			return &DimensionMismatchError{Index: i, Expected: dim, Got: len(e)}
		}
	}
	return nil
}

// Len returns the number of embeddings
func (m *DistanceMatrix) Len() int {
	return m.n
}

// At returns the distance between embeddings i and j
func (m *DistanceMatrix) At(i, j int) float64 {
	return m.d[i*m.n+j]
}

// Neighbors returns every index except i ordered by ascending distance to i,
// lower index first on equal distance.
func (m *DistanceMatrix) Neighbors(i int) []int {
	order := make([]int, 0, m.n-1)
	for j := 0; j < m.n; j++ {
		if j != i {
			order = append(order, j)
		}
	}
	row := m.d[i*m.n : (i+1)*m.n]
	sort.SliceStable(order, func(a, b int) bool {
		return row[order[a]] < row[order[b]]
	})
	return order
}

// Vote returns the majority label among the first k neighbors. On a tie the
// label whose nearest member comes first in neighbors wins.
func Vote(neighbors []int, labels []string, k int) string {
	counts := make(map[string]int, k)
	first := make(map[string]int, k)
	for pos, idx := range neighbors[:k] {
		l := labels[idx]
		if _, seen := first[l]; !seen {
			first[l] = pos
		}
		counts[l]++
	}

	best := ""
	for l, c := range counts {
		if best == "" || c > counts[best] || (c == counts[best] && first[l] < first[best]) {
			best = l
		}
	}
	return best
}

// LeaveOneOut predicts each sample's label from its k nearest other samples
// by cosine distance.
func LeaveOneOut(embeddings [][]float32, labels []string, k int) ([]string, error) {
	if len(embeddings) != len(labels) {
		return nil, fmt.Errorf("bias: %d embeddings but %d labels", len(embeddings), len(labels))
	}
	if k < 1 || k > len(embeddings)-1 {
		return nil, fmt.Errorf("%w: k=%d with %d samples", ErrTooFewSamples, k, len(embeddings))
	}
	m, err := NewDistanceMatrix(embeddings)
	if err != nil {
		return nil, err
	}
	preds := make([]string, len(embeddings))
	for i := range embeddings {
		preds[i] = Vote(m.Neighbors(i), labels, k)
	}
	return preds, nil
}
