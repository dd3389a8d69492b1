package bias

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/vision/dataloader"
	"github.com/tsawler/go-shapebias/vision/dataset"
)

// Classifier maps images to class scores
type Classifier = model.Forwarder

// Encoder maps images to embedding vectors
type Encoder = model.Forwarder

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc = model.ForwardFunc

// EncoderFunc adapts a function to Encoder
type EncoderFunc = model.ForwardFunc

// LoaderConfig controls how stimuli are streamed through a model
type LoaderConfig struct {
	BatchSize int
	ImageSize int // 0 keeps the native resolution
	Cache     *dataloader.CacheManager
}

func (c LoaderConfig) withDefaults() LoaderConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	return c
}

// forwardAll runs every stimulus through f in dataset order and checks that
// all outputs share one dimension.
func forwardAll(ctx context.Context, f model.Forwarder, ds *dataset.CueConflictDataset, cfg LoaderConfig, logger *slog.Logger) ([][]float32, error) {
	cfg = cfg.withDefaults()
	loader := dataloader.NewDataLoader(ds, dataloader.Config{
		BatchSize:    cfg.BatchSize,
		Shuffle:      false,
		ImageSize:    cfg.ImageSize,
		MaxCacheSize: ds.Len(),
		CacheManager: cfg.Cache,
	})
	defer loader.ClearCache()

	outputs := make([][]float32, 0, ds.Len())
	dim := -1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, _ := loader.Progress()
		batch, err := loader.NextBatch()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}

		out, err := f.Forward(ctx, batch.Images)
		if err != nil {
			return nil, fmt.Errorf("forward pass at sample %d: %w", start, err)
		}
		if len(out) != batch.Size() {
			return nil, fmt.Errorf("forward pass at sample %d: got %d outputs for %d images", start, len(out), batch.Size())
		}
		for i, v := range out {
			if dim < 0 {
				dim = len(v)
			}
			if len(v) != dim {
				idx := start + i
				return nil, &DimensionMismatchError{Index: idx, Path: ds.Sample(idx).Path, Expected: dim, Got: len(v)}
			}
		}
		outputs = append(outputs, out...)
	}

	logger.Debug("forward pass complete",
		slog.Int("data.samples", len(outputs)),
		slog.Int("output.dim", dim),
		slog.String("cache.stats", loader.Stats()))
	return outputs, nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
