package bias

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-shapebias/internal/mathx"
	"github.com/tsawler/go-shapebias/vision/dataset"
)

// KScore is the score of a single neighbor count
type KScore struct {
	K int
	ScoreResult
}

// EmbeddingResult is the mean score over k = 1..K with the per-k breakdown
type EmbeddingResult struct {
	ShapeBias float64
	Accuracy  float64
	PerK      []KScore
}

// EmbeddingEvaluator predicts shape and texture of each stimulus from its
// nearest neighbors in embedding space, leaving the stimulus itself out,
// and sweeps the neighbor count from 1 to MaxNeighbors.
type EmbeddingEvaluator struct {
	Encoder      Encoder
	MaxNeighbors int
	Workers      int // defaults to GOMAXPROCS
	Loader       LoaderConfig
	Logger       *slog.Logger
}

// Evaluate embeds ds once and scores every neighbor count. If any k has an
// undefined bias, the mean ShapeBias is NaN and the *UndefinedBiasError for
// the first such k is returned with the result.
func (e *EmbeddingEvaluator) Evaluate(ctx context.Context, ds *dataset.CueConflictDataset) (EmbeddingResult, error) {
	if e.Encoder == nil {
		return EmbeddingResult{}, errors.New("bias: embedding evaluator needs an encoder")
	}
	if e.MaxNeighbors < 1 {
		return EmbeddingResult{}, fmt.Errorf("bias: max neighbors must be positive, got %d", e.MaxNeighbors)
	}
	if e.MaxNeighbors > ds.Len()-1 {
		return EmbeddingResult{}, fmt.Errorf("%w: k up to %d with %d samples", ErrTooFewSamples, e.MaxNeighbors, ds.Len())
	}
	logger := loggerOrDefault(e.Logger)

	embeddings, err := forwardAll(ctx, e.Encoder, ds, e.Loader, logger)
	if err != nil {
		return EmbeddingResult{}, err
	}

	res, err := EvaluateEmbeddings(ctx, embeddings, ds.Samples(), e.MaxNeighbors, e.Workers)
	if err != nil {
		var undefined *UndefinedBiasError
		if !errors.As(err, &undefined) {
			return EmbeddingResult{}, err
		}
	}

	logger.Info("embedding bias evaluated",
		slog.String("eval.mode", "embedding"),
		slog.Int("data.samples", len(embeddings)),
		slog.Int("knn.max_k", e.MaxNeighbors),
		slog.Float64("bias.shape", res.ShapeBias),
		slog.Float64("bias.accuracy", res.Accuracy))
	return res, err
}

// EvaluateEmbeddings runs the leave-one-out sweep on precomputed embeddings.
// Neighbor orders are computed once per sample in parallel over a read-only
// distance matrix, then reused for every k.
func EvaluateEmbeddings(ctx context.Context, embeddings [][]float32, samples []dataset.CueConflictSample, maxK, workers int) (EmbeddingResult, error) {
	n := len(embeddings)
	if n != len(samples) {
		return EmbeddingResult{}, fmt.Errorf("bias: %d embeddings but %d samples", n, len(samples))
	}
	if n == 0 {
		return EmbeddingResult{}, ErrEmptyResults
	}
	if maxK < 1 || maxK > n-1 {
		return EmbeddingResult{}, fmt.Errorf("%w: k up to %d with %d samples", ErrTooFewSamples, maxK, n)
	}

	dist, err := NewDistanceMatrix(embeddings)
	if err != nil {
		return EmbeddingResult{}, err
	}

	shapes := make([]string, n)
	textures := make([]string, n)
	for i, s := range samples {
		shapes[i], textures[i] = s.Shape, s.Texture
	}

	// tables[k-1][i] is the prediction for sample i with k neighbors
	tables := make([]ResultsTable, maxK)
	for k := range tables {
		tables[k] = make(ResultsTable, n)
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			neighbors := dist.Neighbors(i)
			for k := 1; k <= maxK; k++ {
				tables[k-1][i] = BiasRecord{
					PredictedShape:   Vote(neighbors, shapes, k),
					PredictedTexture: Vote(neighbors, textures, k),
					Shape:            shapes[i],
					Texture:          textures[i],
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EmbeddingResult{}, err
	}

	res := EmbeddingResult{PerK: make([]KScore, maxK)}
	biases := make([]float64, maxK)
	accuracies := make([]float64, maxK)
	var undefined error
	for k := 1; k <= maxK; k++ {
		score, err := Score(tables[k-1])
		if err != nil {
			var ub *UndefinedBiasError
			if !errors.As(err, &ub) {
				return EmbeddingResult{}, err
			}
			ub.K = k
			if undefined == nil {
				undefined = ub
			}
		}
		res.PerK[k-1] = KScore{K: k, ScoreResult: score}
		biases[k-1] = score.ShapeBias
		accuracies[k-1] = score.Accuracy
	}

	res.ShapeBias = mathx.Mean(biases)
	res.Accuracy = mathx.Mean(accuracies)
	if undefined != nil {
		res.ShapeBias = math.NaN()
	}
	return res, undefined
}
