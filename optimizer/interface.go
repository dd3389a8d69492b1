// Package optimizer implements first-order optimizers over flat float32
// parameter buffers, used to fit linear heads on frozen embeddings.
package optimizer

import (
	"fmt"

	"github.com/tsawler/go-shapebias/checkpoints"
)

// Optimizer updates parameter buffers in place from matching gradients and
// can save and restore its state through checkpoints.
type Optimizer interface {
	// Step applies one update. params and grads must pair up buffer by
	// buffer with the sizes given at construction.
	Step(params, grads [][]float32) error

	GetState() (*OptimizerState, error)
	LoadState(state *OptimizerState) error

	GetStepCount() uint64
	UpdateLearningRate(lr float32)
}

// OptimizerState is the serialized optimizer state stored in checkpoints
type OptimizerState = checkpoints.OptimizerState

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// checkShapes verifies that params and grads match the expected buffer sizes
func checkShapes(sizes []int, params, grads [][]float32) error {
	if len(params) != len(sizes) {
		return fmt.Errorf("expected %d parameter buffers, got %d", len(sizes), len(params))
	}
	if len(grads) != len(sizes) {
		return fmt.Errorf("expected %d gradient buffers, got %d", len(sizes), len(grads))
	}
	for i, size := range sizes {
		if len(params[i]) != size {
			return fmt.Errorf("parameter %d: expected %d elements, got %d", i, size, len(params[i]))
		}
		if len(grads[i]) != size {
			return fmt.Errorf("gradient %d: expected %d elements, got %d", i, size, len(grads[i]))
		}
	}
	return nil
}
