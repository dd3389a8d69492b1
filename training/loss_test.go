package training

import (
	"math"
	"testing"
)

func TestSoftmaxCrossEntropy(t *testing.T) {
	loss, grad, err := SoftmaxCrossEntropy([]float32{0, 0}, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(loss-math.Log(2)) > 1e-6 {
		t.Errorf("Expected loss ln 2, got %f", loss)
	}
	if math.Abs(float64(grad[0]-0.5)) > 1e-6 || math.Abs(float64(grad[1]+0.5)) > 1e-6 {
		t.Errorf("Expected gradient [0.5 -0.5], got %v", grad)
	}

	if _, _, err := SoftmaxCrossEntropy([]float32{1, 2}, 2); err == nil {
		t.Error("Expected out-of-range label error")
	}
}

func TestSoftmaxCrossEntropyNumericalGradient(t *testing.T) {
	logits := []float32{0.3, -1.2, 2.0, 0.5}
	label := 2
	_, grad, _ := SoftmaxCrossEntropy(logits, label)

	const h = 1e-3
	for i := range logits {
		plus := append([]float32(nil), logits...)
		minus := append([]float32(nil), logits...)
		plus[i] += h
		minus[i] -= h
		lp, _, _ := SoftmaxCrossEntropy(plus, label)
		lm, _, _ := SoftmaxCrossEntropy(minus, label)
		numeric := (lp - lm) / (2 * h)
		if math.Abs(numeric-float64(grad[i])) > 1e-3 {
			t.Errorf("Logit %d: analytic %f, numeric %f", i, grad[i], numeric)
		}
	}
}

func TestBatchCrossEntropy(t *testing.T) {
	loss, grads, err := BatchCrossEntropy([][]float32{{0, 0}, {0, 0}}, []int32{0, 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(loss-math.Log(2)) > 1e-6 {
		t.Errorf("Expected mean loss ln 2, got %f", loss)
	}
	if math.Abs(float64(grads[0][0]+0.25)) > 1e-6 {
		t.Errorf("Expected scaled gradient -0.25, got %f", grads[0][0])
	}

	if _, _, err := BatchCrossEntropy(nil, nil); err == nil {
		t.Error("Expected empty batch error")
	}
	if _, _, err := BatchCrossEntropy([][]float32{{0}}, []int32{0, 1}); err == nil {
		t.Error("Expected length mismatch error")
	}
}
