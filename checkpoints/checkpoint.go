package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint is the exported state of one model at one stage of an experiment
type Checkpoint struct {
	ModelName string         `json:"model_name"`
	Weights   []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias", ...
}

// TrainingState captures where in the experiment the checkpoint was taken
type TrainingState struct {
	Epoch    int     `json:"epoch"`
	Stage    string  `json:"stage"` // "pre" or "down"
	Accuracy float64 `json:"accuracy"`
}

// OptimizerState captures optimizer-specific state (moments, step count)
type OptimizerState struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents one optimizer state buffer
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", "momentum"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Stateful is implemented by models and heads that can export their weights
type Stateful interface {
	CheckpointWeights() []WeightTensor
}

// FileName returns the conventional checkpoint name for a model, epoch and stage,
// e.g. "resnet18_3_pre.json"
func FileName(modelName string, epoch int, stage string) string {
	return fmt.Sprintf("%s_%d_%s.json", modelName, epoch, stage)
}

// Save writes the checkpoint as indented JSON, creating parent directories
func Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-shapebias"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return nil
}

// Load reads a JSON checkpoint
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// Validate checks that every tensor's data matches its shape
func (c *Checkpoint) Validate() error {
	for _, w := range c.Weights {
		size := 1
		for _, dim := range w.Shape {
			if dim <= 0 {
				return fmt.Errorf("weight %s: invalid dimension %d", w.Name, dim)
			}
			size *= dim
		}
		if size != len(w.Data) {
			return fmt.Errorf("weight %s: shape %v needs %d values, got %d", w.Name, w.Shape, size, len(w.Data))
		}
	}
	return nil
}
