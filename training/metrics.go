package training

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-shapebias/internal/mathx"
)

// MetricType represents the classification metrics a ConfusionMatrix reports
type MetricType int

const (
	Accuracy MetricType = iota
	MacroPrecision
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case Accuracy:
		return "Accuracy"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix accumulates argmax predictions against true labels.
// Matrix is indexed [true_class][predicted_class].
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int
	TotalSamples int

	cachedMetrics map[MetricType]float64
}

// NewConfusionMatrix creates an empty confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses:    numClasses,
		Matrix:        matrix,
		cachedMetrics: make(map[MetricType]float64),
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
	cm.cachedMetrics = make(map[MetricType]float64)
}

// UpdateFromPredictions adds one batch of output vectors. Each vector must
// have NumClasses entries; labels outside the class range are rejected.
func (cm *ConfusionMatrix) UpdateFromPredictions(outputs [][]float32, trueLabels []int32) error {
	if len(outputs) != len(trueLabels) {
		return fmt.Errorf("labels length mismatch: %d outputs, %d labels", len(outputs), len(trueLabels))
	}
	for i, out := range outputs {
		if len(out) != cm.NumClasses {
			return fmt.Errorf("output %d has %d classes, expected %d", i, len(out), cm.NumClasses)
		}
		trueClass := int(trueLabels[i])
		if trueClass < 0 || trueClass >= cm.NumClasses {
			return fmt.Errorf("label %d out of range [0, %d)", trueClass, cm.NumClasses)
		}
		cm.Matrix[trueClass][mathx.Argmax(out)]++
		cm.TotalSamples++
	}
	cm.cachedMetrics = make(map[MetricType]float64)
	return nil
}

// GetMetric calculates and caches a metric
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	if value, ok := cm.cachedMetrics[metric]; ok {
		return value
	}

	var result float64
	switch metric {
	case Accuracy:
		result = cm.GetAccuracy()
	case MacroPrecision:
		result = cm.macroAverage(cm.columnTotal)
	case MacroRecall:
		result = cm.macroAverage(cm.rowTotal)
	case MacroF1:
		result = harmonicMean(cm.GetMetric(MacroPrecision), cm.GetMetric(MacroRecall))
	case MicroPrecision, MicroRecall, MicroF1:
		// Every misclassification is one FP and one FN, so all three equal accuracy
		result = cm.GetAccuracy()
	default:
		return 0.0
	}

	cm.cachedMetrics[metric] = result
	return result
}

func (cm *ConfusionMatrix) rowTotal(class int) int {
	total := 0
	for _, v := range cm.Matrix[class] {
		total += v
	}
	return total
}

func (cm *ConfusionMatrix) columnTotal(class int) int {
	total := 0
	for i := range cm.Matrix {
		total += cm.Matrix[i][class]
	}
	return total
}

// macroAverage averages tp/denominator over classes with a non-zero denominator
func (cm *ConfusionMatrix) macroAverage(denominator func(int) int) float64 {
	sum := 0.0
	validClasses := 0
	for class := 0; class < cm.NumClasses; class++ {
		d := denominator(class)
		if d == 0 {
			continue
		}
		sum += float64(cm.Matrix[class][class]) / float64(d)
		validClasses++
	}
	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

func harmonicMean(a, b float64) float64 {
	if a+b == 0 {
		return 0.0
	}
	return 2 * a * b / (a + b)
}

// GetAccuracy returns the fraction of correctly classified samples
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

func (cm *ConfusionMatrix) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ConfusionMatrix: %d classes, %d samples, accuracy %.4f\n",
		cm.NumClasses, cm.TotalSamples, cm.GetAccuracy()))
	for i, row := range cm.Matrix {
		sb.WriteString(fmt.Sprintf("  %3d: %v\n", i, row))
	}
	return sb.String()
}
