package training

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/vision/dataloader"
)

// ErrEmptyLoader is returned when an evaluation loader yields no samples
var ErrEmptyLoader = errors.New("training: loader yielded no samples")

// EvalResult summarizes a classification pass
type EvalResult struct {
	Accuracy float64 // percent
	Loss     float64 // mean cross entropy
	Samples  int
	Matrix   *ConfusionMatrix
}

// EvaluateClassifier runs f over every batch of loader and reports top-1
// accuracy in percent. The loader is reset before and after the pass.
func EvaluateClassifier(ctx context.Context, f model.Forwarder, loader *dataloader.DataLoader, progress io.Writer) (EvalResult, error) {
	loader.Reset()
	defer loader.Reset()

	pb := NewProgressBar(progress, "Evaluating", loader.NumBatches())

	var cm *ConfusionMatrix
	var lossSum float64
	step := 0
	for {
		if err := ctx.Err(); err != nil {
			return EvalResult{}, err
		}
		batch, err := loader.NextBatch()
		if err != nil {
			return EvalResult{}, err
		}
		if batch == nil {
			break
		}

		out, err := f.Forward(ctx, batch.Images)
		if err != nil {
			return EvalResult{}, fmt.Errorf("forward pass: %w", err)
		}
		if len(out) == 0 {
			continue
		}
		if cm == nil {
			cm = NewConfusionMatrix(len(out[0]))
		}
		if err := cm.UpdateFromPredictions(out, batch.Labels); err != nil {
			return EvalResult{}, err
		}
		loss, _, err := BatchCrossEntropy(out, batch.Labels)
		if err != nil {
			return EvalResult{}, err
		}
		lossSum += loss * float64(batch.Size())

		step++
		pb.Update(step, map[string]float64{"acc": 100 * cm.GetAccuracy()})
	}
	pb.Finish()

	if cm == nil || cm.TotalSamples == 0 {
		return EvalResult{}, ErrEmptyLoader
	}
	return EvalResult{
		Accuracy: 100 * cm.GetAccuracy(),
		Loss:     lossSum / float64(cm.TotalSamples),
		Samples:  cm.TotalSamples,
		Matrix:   cm,
	}, nil
}

// EvaluateDownstream scores net with head installed for the duration of the
// pass, so outputs are head(backbone(x)). The previous head is restored.
func EvaluateDownstream(ctx context.Context, net model.Network, head model.Head, loader *dataloader.DataLoader, progress io.Writer) (EvalResult, error) {
	var res EvalResult
	err := model.WithHead(net, head, func() error {
		var err error
		res, err = EvaluateClassifier(ctx, net, loader, progress)
		return err
	})
	return res, err
}
