package training

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/tsawler/go-shapebias/internal/mathx"
	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/vision/dataloader"
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// DefaultTemperature is the InfoNCE softmax temperature
const DefaultTemperature = 0.5

// InfoNCE computes the normalized-temperature cross entropy over 2B
// embeddings where rows i and i+B are two views of the same sample. Each row
// must pick its partner among the other 2B-1 rows by cosine similarity.
// It returns the mean loss and the number of rows whose partner ranked first.
func InfoNCE(embeddings [][]float32, temperature float64) (float64, int, error) {
	n := len(embeddings)
	if n < 2 || n%2 != 0 {
		return 0, 0, fmt.Errorf("infonce needs an even number of at least 2 embeddings, got %d", n)
	}
	if temperature <= 0 {
		return 0, 0, fmt.Errorf("temperature must be positive, got %f", temperature)
	}
	half := n / 2

	norms := make([]float64, n)
	for i, e := range embeddings {
		if len(e) != len(embeddings[0]) {
			return 0, 0, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(e), len(embeddings[0]))
		}
		norms[i] = mathx.Norm(e)
	}

	var loss float64
	correct := 0
	sims := make([]float64, n)
	for i := 0; i < n; i++ {
		positive := (i + half) % n
		maxSim := math.Inf(-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			var cos float64
			if norms[i] > 0 && norms[j] > 0 {
				cos = mathx.Dot(embeddings[i], embeddings[j]) / (norms[i] * norms[j])
			}
			sims[j] = cos / temperature
			maxSim = math.Max(maxSim, sims[j])
		}

		var sumExp float64
		best := -1
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			sumExp += math.Exp(sims[j] - maxSim)
			if best < 0 || sims[j] > sims[best] {
				best = j
			}
		}
		loss += -(sims[positive] - maxSim - math.Log(sumExp))
		if best == positive {
			correct++
		}
	}
	return loss / float64(n), correct, nil
}

// ContrastiveResult summarizes an InfoNCE pass
type ContrastiveResult struct {
	Loss     float64
	Accuracy float64 // percent of rows whose positive view ranked first
	Samples  int
}

// EvaluateContrastive runs the first two views of every batch through f and
// scores them with InfoNCE.
func EvaluateContrastive(ctx context.Context, f model.Forwarder, views *dataloader.ViewLoader, temperature float64, progress io.Writer) (ContrastiveResult, error) {
	views.Reset()
	defer views.Reset()

	pb := NewProgressBar(progress, "Contrastive", views.NumBatches())
	var lossSum float64
	var correct, rows, step int
	for {
		if err := ctx.Err(); err != nil {
			return ContrastiveResult{}, err
		}
		vb, err := views.NextBatch()
		if err != nil {
			return ContrastiveResult{}, err
		}
		if vb == nil {
			break
		}

		inputs := make([]*preprocessing.ProcessedImage, 0, 2*vb.Size())
		inputs = append(inputs, vb.Views[0]...)
		inputs = append(inputs, vb.Views[1]...)
		out, err := f.Forward(ctx, inputs)
		if err != nil {
			return ContrastiveResult{}, fmt.Errorf("forward pass: %w", err)
		}
		if len(out) != len(inputs) {
			return ContrastiveResult{}, fmt.Errorf("got %d embeddings for %d views", len(out), len(inputs))
		}
		if vb.Size() < 2 {
			// A lone pair has no negatives
			continue
		}
		loss, c, err := InfoNCE(out, temperature)
		if err != nil {
			return ContrastiveResult{}, err
		}
		lossSum += loss * float64(len(out))
		correct += c
		rows += len(out)

		step++
		pb.Update(step, map[string]float64{"loss": loss, "acc": 100 * float64(correct) / float64(rows)})
	}
	pb.Finish()

	if rows == 0 {
		return ContrastiveResult{}, ErrEmptyLoader
	}
	return ContrastiveResult{
		Loss:     lossSum / float64(rows),
		Accuracy: 100 * float64(correct) / float64(rows),
		Samples:  rows / 2,
	}, nil
}
