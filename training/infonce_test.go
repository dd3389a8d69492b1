package training

import (
	"context"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/vision/dataloader"
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

func TestInfoNCE(t *testing.T) {
	// Rows i and i+2 are views of the same sample
	z := [][]float32{{1, 0}, {0, 1}, {2, 0}, {0, 3}}
	loss, correct, err := InfoNCE(z, 0.5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if correct != 4 {
		t.Errorf("Expected every positive to rank first, got %d", correct)
	}
	// Positive similarity 1/0.5 against two orthogonal negatives
	want := -math.Log(math.Exp(2) / (math.Exp(2) + 2))
	if math.Abs(loss-want) > 1e-9 {
		t.Errorf("Expected loss %f, got %f", want, loss)
	}
}

func TestInfoNCEMismatchedPairs(t *testing.T) {
	// Each row's nearest neighbor is the wrong sample
	z := [][]float32{{1, 0}, {1, 0.1}, {0, 1}, {0.1, 1}}
	_, correct, err := InfoNCE(z, 0.5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if correct != 0 {
		t.Errorf("Expected no correct positives, got %d", correct)
	}
}

func TestInfoNCEErrors(t *testing.T) {
	tests := []struct {
		name string
		z    [][]float32
		temp float64
	}{
		{"odd rows", [][]float32{{1}, {1}, {1}}, 0.5},
		{"empty", nil, 0.5},
		{"zero temperature", [][]float32{{1}, {1}}, 0},
		{"ragged", [][]float32{{1, 0}, {1}}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := InfoNCE(tt.z, tt.temp); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestEvaluateContrastive(t *testing.T) {
	loader := newColorLoader(t, []color.RGBA{red, green, blue}, []int{0, 1, 2}, 3)
	views, err := dataloader.NewViewLoader(loader, preprocessing.Compose{}, 2, 1)
	if err != nil {
		t.Fatalf("Failed to create view loader: %v", err)
	}

	res, err := EvaluateContrastive(context.Background(), newMeanColorNet(), views, DefaultTemperature, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Accuracy != 100 {
		t.Errorf("Expected identical views to match, got %f%%", res.Accuracy)
	}
	if res.Samples != 3 {
		t.Errorf("Expected 3 samples, got %d", res.Samples)
	}
}

func TestEvaluateContrastiveRowCount(t *testing.T) {
	loader := newColorLoader(t, []color.RGBA{red, green, blue}, []int{0, 1, 2}, 3)
	views, err := dataloader.NewViewLoader(loader, preprocessing.Compose{}, 2, 1)
	if err != nil {
		t.Fatalf("Failed to create view loader: %v", err)
	}

	// Dropping a row would shift every positive pair by one
	short := model.ForwardFunc(func(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error) {
		out := make([][]float32, len(images)-1)
		for i := range out {
			out[i] = []float32{float32(i), 1}
		}
		return out, nil
	})
	_, err = EvaluateContrastive(context.Background(), short, views, DefaultTemperature, nil)
	if err == nil || !strings.Contains(err.Error(), "got 5 embeddings for 6 views") {
		t.Errorf("Expected a row count error, got %v", err)
	}
}
