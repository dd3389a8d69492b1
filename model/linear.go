package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-shapebias/checkpoints"
)

// Identity passes features through unchanged
type Identity struct {
	features int
}

// NewIdentity creates a pass-through head for features-dim inputs
func NewIdentity(features int) *Identity {
	return &Identity{features: features}
}

func (id *Identity) Forward(features []float32) ([]float32, error) {
	out := make([]float32, len(features))
	copy(out, features)
	return out, nil
}

func (id *Identity) InFeatures() int  { return id.features }
func (id *Identity) OutFeatures() int { return id.features }

// Linear is a dense layer y = Wx + b with W stored row-major as [out][in]
type Linear struct {
	In     int
	Out    int
	Weight []float32
	Bias   []float32
}

// NewLinear initializes weights and biases from U(-1/sqrt(in), 1/sqrt(in))
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: make([]float32, in*out),
		Bias:   make([]float32, out),
	}
	for i := range l.Weight {
		l.Weight[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	for i := range l.Bias {
		l.Bias[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return l
}

func (l *Linear) Forward(features []float32) ([]float32, error) {
	if len(features) != l.In {
		return nil, fmt.Errorf("linear head expects %d features, got %d", l.In, len(features))
	}
	out := make([]float32, l.Out)
	for o := 0; o < l.Out; o++ {
		row := l.Weight[o*l.In : (o+1)*l.In]
		sum := l.Bias[o]
		for i, x := range features {
			sum += row[i] * x
		}
		out[o] = sum
	}
	return out, nil
}

func (l *Linear) InFeatures() int  { return l.In }
func (l *Linear) OutFeatures() int { return l.Out }

// Clone returns a deep copy
func (l *Linear) Clone() Head {
	c := &Linear{
		In:     l.In,
		Out:    l.Out,
		Weight: make([]float32, len(l.Weight)),
		Bias:   make([]float32, len(l.Bias)),
	}
	copy(c.Weight, l.Weight)
	copy(c.Bias, l.Bias)
	return c
}

// Parameters returns the trainable buffers in optimizer order
func (l *Linear) Parameters() [][]float32 {
	return [][]float32{l.Weight, l.Bias}
}

// CheckpointWeights exports the layer for checkpointing
func (l *Linear) CheckpointWeights() []checkpoints.WeightTensor {
	return []checkpoints.WeightTensor{
		{Name: "head.weight", Shape: []int{l.Out, l.In}, Data: l.Weight, Layer: "head", Type: "weight"},
		{Name: "head.bias", Shape: []int{l.Out}, Data: l.Bias, Layer: "head", Type: "bias"},
	}
}

// LoadCheckpointWeights restores the layer from exported tensors
func (l *Linear) LoadCheckpointWeights(weights []checkpoints.WeightTensor) error {
	for _, w := range weights {
		switch w.Name {
		case "head.weight":
			if len(w.Data) != len(l.Weight) {
				return fmt.Errorf("head.weight: expected %d values, got %d", len(l.Weight), len(w.Data))
			}
			copy(l.Weight, w.Data)
		case "head.bias":
			if len(w.Data) != len(l.Bias) {
				return fmt.Errorf("head.bias: expected %d values, got %d", len(l.Bias), len(w.Data))
			}
			copy(l.Bias, w.Data)
		}
	}
	return nil
}

// LinearFromCheckpoint rebuilds a linear head from exported head.weight and
// head.bias tensors
func LinearFromCheckpoint(weights []checkpoints.WeightTensor) (*Linear, error) {
	for _, w := range weights {
		if w.Name != "head.weight" {
			continue
		}
		if len(w.Shape) != 2 || w.Shape[0] <= 0 || w.Shape[1] <= 0 {
			return nil, fmt.Errorf("head.weight: invalid shape %v", w.Shape)
		}
		l := &Linear{
			In:     w.Shape[1],
			Out:    w.Shape[0],
			Weight: make([]float32, w.Shape[0]*w.Shape[1]),
			Bias:   make([]float32, w.Shape[0]),
		}
		if err := l.LoadCheckpointWeights(weights); err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, fmt.Errorf("checkpoint has no head.weight tensor")
}
