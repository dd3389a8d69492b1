package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-shapebias/internal/mathx"
)

// SoftmaxCrossEntropy returns -log softmax(logits)[label] and its gradient
// with respect to the logits, softmax(logits) - onehot(label).
func SoftmaxCrossEntropy(logits []float32, label int) (float64, []float32, error) {
	if label < 0 || label >= len(logits) {
		return 0, nil, fmt.Errorf("label %d out of range [0, %d)", label, len(logits))
	}
	probs := mathx.Softmax(logits)
	p := math.Max(float64(probs[label]), 1e-12)
	grad := probs
	grad[label] -= 1
	return -math.Log(p), grad, nil
}

// BatchCrossEntropy averages SoftmaxCrossEntropy over a batch. Gradients are
// scaled by 1/batch so they match the mean loss.
func BatchCrossEntropy(logits [][]float32, labels []int32) (float64, [][]float32, error) {
	if len(logits) != len(labels) {
		return 0, nil, fmt.Errorf("%d outputs but %d labels", len(logits), len(labels))
	}
	if len(logits) == 0 {
		return 0, nil, fmt.Errorf("empty batch")
	}
	scale := 1 / float32(len(logits))
	grads := make([][]float32, len(logits))
	var total float64
	for i, l := range logits {
		loss, g, err := SoftmaxCrossEntropy(l, int(labels[i]))
		if err != nil {
			return 0, nil, fmt.Errorf("sample %d: %w", i, err)
		}
		for j := range g {
			g[j] *= scale
		}
		grads[i] = g
		total += loss
	}
	return total / float64(len(logits)), grads, nil
}
