package optimizer

import (
	"fmt"
	"math"
)

// AdamOptimizerState holds Adam hyperparameters and per-buffer moments
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float32 // L2 regularization coefficient

	MomentumBuffers [][]float32 // First moment for each weight buffer
	VarianceBuffers [][]float32 // Second moment for each weight buffer

	// Step tracking for bias correction
	StepCount uint64

	bufferSizes []int
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates an Adam optimizer for buffers of the given sizes
func NewAdamOptimizer(config AdamConfig, bufferSizes []int) (*AdamOptimizerState, error) {
	if len(bufferSizes) == 0 {
		return nil, fmt.Errorf("no buffer sizes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1): got %f, %f", config.Beta1, config.Beta2)
	}

	adam := &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		MomentumBuffers: make([][]float32, len(bufferSizes)),
		VarianceBuffers: make([][]float32, len(bufferSizes)),
		bufferSizes:     append([]int(nil), bufferSizes...),
	}
	for i, size := range bufferSizes {
		if size <= 0 {
			return nil, fmt.Errorf("buffer %d has invalid size %d", i, size)
		}
		adam.MomentumBuffers[i] = make([]float32, size)
		adam.VarianceBuffers[i] = make([]float32, size)
	}
	return adam, nil
}

// Step performs a single bias-corrected Adam update in place
func (adam *AdamOptimizerState) Step(params, grads [][]float32) error {
	if err := checkShapes(adam.bufferSizes, params, grads); err != nil {
		return err
	}

	adam.StepCount++
	t := float64(adam.StepCount)
	b1, b2 := float64(adam.Beta1), float64(adam.Beta2)
	biasCorrection1 := 1 - math.Pow(b1, t)
	biasCorrection2 := 1 - math.Pow(b2, t)
	lr := float64(adam.LearningRate)
	eps := float64(adam.Epsilon)
	wd := float64(adam.WeightDecay)

	for i := range params {
		w, g := params[i], grads[i]
		m, v := adam.MomentumBuffers[i], adam.VarianceBuffers[i]
		for j := range w {
			grad := float64(g[j])
			if wd != 0 {
				grad += wd * float64(w[j])
			}
			mj := b1*float64(m[j]) + (1-b1)*grad
			vj := b2*float64(v[j]) + (1-b2)*grad*grad
			m[j], v[j] = float32(mj), float32(vj)

			mHat := mj / biasCorrection1
			vHat := vj / biasCorrection2
			w[j] -= float32(lr * mHat / (math.Sqrt(vHat) + eps))
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

// GetStepCount returns the number of steps taken
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts the optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": float64(adam.LearningRate),
			"beta1":         float64(adam.Beta1),
			"beta2":         float64(adam.Beta2),
			"epsilon":       float64(adam.Epsilon),
			"weight_decay":  float64(adam.WeightDecay),
			"step_count":    float64(adam.StepCount),
		},
	}
	for i := range adam.bufferSizes {
		state.StateData = append(state.StateData,
			extractBufferState(adam.MomentumBuffers[i], fmt.Sprintf("momentum_%d", i), "momentum"),
			extractBufferState(adam.VarianceBuffers[i], fmt.Sprintf("variance_%d", i), "variance"))
	}
	return state, nil
}

// LoadState restores the optimizer state from a checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	for _, tensor := range state.StateData {
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 || idx >= len(adam.bufferSizes) {
			return fmt.Errorf("invalid buffer index in %s", tensor.Name)
		}
		var err error
		switch tensor.StateType {
		case "momentum":
			err = restoreBufferState(adam.MomentumBuffers[idx], tensor.Data, tensor.Name)
		case "variance":
			err = restoreBufferState(adam.VarianceBuffers[idx], tensor.Data, tensor.Name)
		default:
			err = fmt.Errorf("unknown state type %q for %s", tensor.StateType, tensor.Name)
		}
		if err != nil {
			return err
		}
	}

	adam.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)
	return nil
}
