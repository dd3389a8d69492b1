package optimizer

import (
	"fmt"
)

// SGDOptimizerState holds SGD hyperparameters and optional momentum buffers
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	MomentumBuffers [][]float32 // Only allocated when momentum > 0

	StepCount uint64

	bufferSizes []int
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates an SGD optimizer for buffers of the given sizes
func NewSGDOptimizer(config SGDConfig, bufferSizes []int) (*SGDOptimizerState, error) {
	if len(bufferSizes) == 0 {
		return nil, fmt.Errorf("no buffer sizes provided")
	}

	// Validate configuration parameters
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("Nesterov momentum requires momentum > 0")
	}

	sgd := &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		bufferSizes:  append([]int(nil), bufferSizes...),
	}
	if config.Momentum > 0 {
		sgd.MomentumBuffers = make([][]float32, len(bufferSizes))
		for i, size := range bufferSizes {
			sgd.MomentumBuffers[i] = make([]float32, size)
		}
	}
	return sgd, nil
}

// Step performs a single SGD update in place
func (sgd *SGDOptimizerState) Step(params, grads [][]float32) error {
	if err := checkShapes(sgd.bufferSizes, params, grads); err != nil {
		return err
	}

	sgd.StepCount++
	for i := range params {
		w, g := params[i], grads[i]
		for j := range w {
			grad := g[j] + sgd.WeightDecay*w[j]
			if sgd.Momentum > 0 {
				buf := sgd.MomentumBuffers[i]
				buf[j] = sgd.Momentum*buf[j] + grad
				if sgd.Nesterov {
					grad += sgd.Momentum * buf[j]
				} else {
					grad = buf[j]
				}
			}
			w[j] -= sgd.LearningRate * grad
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float32) {
	sgd.LearningRate = newLR
}

// GetStepCount returns the number of steps taken
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts the optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": float64(sgd.LearningRate),
			"momentum":      float64(sgd.Momentum),
			"weight_decay":  float64(sgd.WeightDecay),
			"nesterov":      sgd.Nesterov,
			"step_count":    float64(sgd.StepCount),
		},
	}
	for i, buf := range sgd.MomentumBuffers {
		state.StateData = append(state.StateData,
			extractBufferState(buf, fmt.Sprintf("momentum_%d", i), "momentum"))
	}
	return state, nil
}

// LoadState restores the optimizer state from a checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	for _, tensor := range state.StateData {
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 || idx >= len(sgd.MomentumBuffers) {
			return fmt.Errorf("invalid buffer index in %s", tensor.Name)
		}
		if err := restoreBufferState(sgd.MomentumBuffers[idx], tensor.Data, tensor.Name); err != nil {
			return err
		}
	}

	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)
	return nil
}
