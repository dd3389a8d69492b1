package training

import (
	"context"
	"fmt"

	"github.com/tsawler/go-shapebias/internal/mathx"
	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/vision/dataloader"
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// PairwiseViewDistance returns the mean Euclidean distance over the
// V(V-1)/2 unordered pairs of view embeddings of one sample
func PairwiseViewDistance(views [][]float32) (float64, error) {
	if len(views) < 2 {
		return 0, fmt.Errorf("need at least 2 views, got %d", len(views))
	}
	var sum float64
	pairs := 0
	for a := 0; a < len(views); a++ {
		for b := a + 1; b < len(views); b++ {
			if len(views[a]) != len(views[b]) {
				return 0, fmt.Errorf("view %d has dimension %d, view %d has %d", a, len(views[a]), b, len(views[b]))
			}
			sum += mathx.EuclideanDistance(views[a], views[b])
			pairs++
		}
	}
	return sum / float64(pairs), nil
}

// EvaluateEmbedDistance measures how compactly f embeds augmented views of
// the same image: the per-sample mean pairwise view distance, averaged over
// all samples. Callers wanting backbone embeddings should run it under
// model.WithIdentityHead.
func EvaluateEmbedDistance(ctx context.Context, f model.Forwarder, views *dataloader.ViewLoader) (float64, error) {
	views.Reset()
	defer views.Reset()

	var total float64
	samples := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		vb, err := views.NextBatch()
		if err != nil {
			return 0, err
		}
		if vb == nil {
			break
		}

		// All views of the batch go through the model in one call, view-major
		bs := vb.Size()
		inputs := make([]*preprocessing.ProcessedImage, 0, len(vb.Views)*bs)
		for _, v := range vb.Views {
			inputs = append(inputs, v...)
		}
		out, err := f.Forward(ctx, inputs)
		if err != nil {
			return 0, fmt.Errorf("forward pass: %w", err)
		}
		if len(out) != len(inputs) {
			return 0, fmt.Errorf("got %d embeddings for %d views", len(out), len(inputs))
		}

		for i := 0; i < bs; i++ {
			sampleViews := make([][]float32, len(vb.Views))
			for v := range vb.Views {
				sampleViews[v] = out[v*bs+i]
			}
			d, err := PairwiseViewDistance(sampleViews)
			if err != nil {
				return 0, err
			}
			total += d
			samples++
		}
	}

	if samples == 0 {
		return 0, ErrEmptyLoader
	}
	return total / float64(samples), nil
}
