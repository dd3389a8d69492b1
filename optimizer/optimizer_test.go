package optimizer

import (
	"encoding/json"
	"math"
	"testing"
)

var (
	_ Optimizer = (*AdamOptimizerState)(nil)
	_ Optimizer = (*SGDOptimizerState)(nil)
)

func almostEqual(a, b, tol float32) bool {
	return float32(math.Abs(float64(a-b))) <= tol
}

// TestAdamConfig tests the Adam configuration
func TestAdamConfig(t *testing.T) {
	config := DefaultAdamConfig()

	if config.LearningRate != 0.001 {
		t.Errorf("Expected learning rate 0.001, got %f", config.LearningRate)
	}
	if config.Beta1 != 0.9 {
		t.Errorf("Expected beta1 0.9, got %f", config.Beta1)
	}
	if config.Beta2 != 0.999 {
		t.Errorf("Expected beta2 0.999, got %f", config.Beta2)
	}
	if config.Epsilon != 1e-8 {
		t.Errorf("Expected epsilon 1e-8, got %f", config.Epsilon)
	}
	if config.WeightDecay != 0.0 {
		t.Errorf("Expected weight decay 0.0, got %f", config.WeightDecay)
	}
}

func TestAdamStep(t *testing.T) {
	config := DefaultAdamConfig()
	config.LearningRate = 0.1
	adam, err := NewAdamOptimizer(config, []int{2, 1})
	if err != nil {
		t.Fatalf("Failed to create Adam: %v", err)
	}

	params := [][]float32{{1, -1}, {0}}
	grads := [][]float32{{2, -0.5}, {0}}
	if err := adam.Step(params, grads); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// The first bias-corrected step moves each weight by about lr * sign(g)
	if !almostEqual(params[0][0], 0.9, 1e-5) || !almostEqual(params[0][1], -0.9, 1e-5) {
		t.Errorf("Unexpected weights after one step: %v", params[0])
	}
	if params[1][0] != 0 {
		t.Errorf("Zero gradient should leave bias at 0, got %f", params[1][0])
	}
	if adam.GetStepCount() != 1 {
		t.Errorf("Expected step count 1, got %d", adam.GetStepCount())
	}
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	config := DefaultAdamConfig()
	config.LearningRate = 0.05
	adam, _ := NewAdamOptimizer(config, []int{1})

	// f(w) = (w - 3)^2
	params := [][]float32{{0}}
	for i := 0; i < 2000; i++ {
		grads := [][]float32{{2 * (params[0][0] - 3)}}
		if err := adam.Step(params, grads); err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
	}
	if !almostEqual(params[0][0], 3, 1e-2) {
		t.Errorf("Expected convergence to 3, got %f", params[0][0])
	}
}

func TestAdamValidation(t *testing.T) {
	tests := []struct {
		name   string
		config AdamConfig
		sizes  []int
	}{
		{"NoBuffers", DefaultAdamConfig(), nil},
		{"NegativeLR", AdamConfig{LearningRate: -1, Beta1: 0.9, Beta2: 0.999}, []int{1}},
		{"BetaOne", AdamConfig{LearningRate: 0.1, Beta1: 1, Beta2: 0.999}, []int{1}},
		{"ZeroSize", DefaultAdamConfig(), []int{2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAdamOptimizer(tt.config, tt.sizes); err == nil {
				t.Error("Expected error")
			}
		})
	}

	adam, _ := NewAdamOptimizer(DefaultAdamConfig(), []int{2})
	if err := adam.Step([][]float32{{1, 2}}, [][]float32{{1}}); err == nil {
		t.Error("Expected shape mismatch error")
	}
	if err := adam.Step([][]float32{{1, 2}, {3}}, [][]float32{{1, 1}, {1}}); err == nil {
		t.Error("Expected buffer count error")
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	config := DefaultAdamConfig()
	config.LearningRate = 0.01
	src, _ := NewAdamOptimizer(config, []int{3})
	params := [][]float32{{1, 2, 3}}
	for i := 0; i < 5; i++ {
		_ = src.Step(params, [][]float32{{0.1, -0.2, 0.3}})
	}

	state, err := src.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	// Go through JSON so parameters come back as float64
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded OptimizerState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	dst, _ := NewAdamOptimizer(DefaultAdamConfig(), []int{3})
	if err := dst.LoadState(&decoded); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if dst.GetStepCount() != 5 || dst.LearningRate != 0.01 {
		t.Errorf("Expected step 5 and lr 0.01, got %d and %f", dst.GetStepCount(), dst.LearningRate)
	}
	for j := range src.MomentumBuffers[0] {
		if src.MomentumBuffers[0][j] != dst.MomentumBuffers[0][j] || src.VarianceBuffers[0][j] != dst.VarianceBuffers[0][j] {
			t.Fatalf("Moments differ at %d", j)
		}
	}

	sgdState := &OptimizerState{Type: "SGD"}
	if err := dst.LoadState(sgdState); err == nil {
		t.Error("Expected type mismatch error")
	}

	wrongSize, _ := NewAdamOptimizer(DefaultAdamConfig(), []int{2})
	if err := wrongSize.LoadState(&decoded); err == nil {
		t.Error("Expected size mismatch error")
	}
}

func TestSGDStep(t *testing.T) {
	t.Run("Vanilla", func(t *testing.T) {
		sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1}, []int{1})
		if err != nil {
			t.Fatalf("Failed to create SGD: %v", err)
		}
		params := [][]float32{{1}}
		_ = sgd.Step(params, [][]float32{{0.5}})
		if !almostEqual(params[0][0], 0.95, 1e-6) {
			t.Errorf("Expected 0.95, got %f", params[0][0])
		}
	})

	t.Run("Momentum", func(t *testing.T) {
		sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, []int{1})
		params := [][]float32{{1}}
		_ = sgd.Step(params, [][]float32{{0.5}})
		_ = sgd.Step(params, [][]float32{{0.5}})
		if !almostEqual(params[0][0], 0.855, 1e-6) {
			t.Errorf("Expected 0.855, got %f", params[0][0])
		}
	})

	t.Run("WeightDecay", func(t *testing.T) {
		sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, WeightDecay: 0.5}, []int{1})
		params := [][]float32{{2}}
		_ = sgd.Step(params, [][]float32{{0}})
		if !almostEqual(params[0][0], 1.9, 1e-6) {
			t.Errorf("Expected 1.9, got %f", params[0][0])
		}
	})
}

func TestSGDValidation(t *testing.T) {
	tests := []struct {
		name   string
		config SGDConfig
	}{
		{"NegativeLR", SGDConfig{LearningRate: -0.1}},
		{"NegativeMomentum", SGDConfig{LearningRate: 0.1, Momentum: -0.5}},
		{"NegativeDecay", SGDConfig{LearningRate: 0.1, WeightDecay: -1}},
		{"NesterovWithoutMomentum", SGDConfig{LearningRate: 0.1, Nesterov: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSGDOptimizer(tt.config, []int{1}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	src, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true}, []int{2})
	params := [][]float32{{1, 1}}
	_ = src.Step(params, [][]float32{{1, -1}})

	state, _ := src.GetState()
	dst, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.5, Momentum: 0.9}, []int{2})
	if err := dst.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if !dst.Nesterov || dst.LearningRate != 0.1 || dst.GetStepCount() != 1 {
		t.Errorf("Hyperparameters not restored: %+v", dst)
	}
	if dst.MomentumBuffers[0][0] != 1 || dst.MomentumBuffers[0][1] != -1 {
		t.Errorf("Momentum not restored: %v", dst.MomentumBuffers[0])
	}
}

func TestExtractBufferIndex(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"momentum_0", 0},
		{"variance_12", 12},
		{"squared_grad_avg_3", 3},
		{"momentum", -1},
		{"momentum_x", -1},
	}
	for _, tt := range tests {
		if got := extractBufferIndex(tt.name); got != tt.want {
			t.Errorf("extractBufferIndex(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

// TestExtractFloat32Param tests the extractFloat32Param helper function
func TestExtractFloat32Param(t *testing.T) {
	tests := []struct {
		name         string
		params       map[string]interface{}
		key          string
		defaultValue float32
		expected     float32
	}{
		{"existing_float64_param", map[string]interface{}{"learning_rate": float64(0.01)}, "learning_rate", 0.001, 0.01},
		{"existing_float32_param", map[string]interface{}{"learning_rate": float32(0.02)}, "learning_rate", 0.001, 0.02},
		{"missing_param", map[string]interface{}{"beta1": float64(0.9)}, "learning_rate", 0.001, 0.001},
		{"wrong_type_param", map[string]interface{}{"learning_rate": "0.01"}, "learning_rate", 0.001, 0.001},
		{"zero_value", map[string]interface{}{"learning_rate": float64(0.0)}, "learning_rate", 0.001, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractFloat32Param(tt.params, tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("extractFloat32Param() = %v, want %v", result, tt.expected)
			}
		})
	}
}
