package bias

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tsawler/go-shapebias/internal/mathx"
	"github.com/tsawler/go-shapebias/vision/dataset"
)

// DirectEvaluator classifies every stimulus, maps the softmax output to a
// coarse category and checks that single decision against both cues.
type DirectEvaluator struct {
	Classifier Classifier
	Mapper     Mapper
	Loader     LoaderConfig
	Logger     *slog.Logger
}

// Evaluate scores one pass over ds. The model is only read. When the bias is
// undefined the score and table are returned with an *UndefinedBiasError.
func (e *DirectEvaluator) Evaluate(ctx context.Context, ds *dataset.CueConflictDataset) (ScoreResult, ResultsTable, error) {
	if e.Classifier == nil || e.Mapper == nil {
		return ScoreResult{}, nil, errors.New("bias: direct evaluator needs a classifier and a mapper")
	}
	logger := loggerOrDefault(e.Logger)

	scores, err := forwardAll(ctx, e.Classifier, ds, e.Loader, logger)
	if err != nil {
		return ScoreResult{}, nil, err
	}

	decisions := make([]string, len(scores))
	for i, s := range scores {
		decision, err := e.Mapper.Decision(mathx.Softmax(s))
		if err != nil {
			return ScoreResult{}, nil, fmt.Errorf("mapping %s: %w", ds.Sample(i).Path, err)
		}
		decisions[i] = decision
	}

	res, table, err := ScoreDecisions(ds.Samples(), decisions)
	logger.Info("direct bias evaluated",
		slog.String("eval.mode", "direct"),
		slog.Int("data.samples", res.Total),
		slog.Float64("bias.shape", res.ShapeBias),
		slog.Float64("bias.accuracy", res.Accuracy))
	return res, table, err
}

// ScoreDecisions scores one precomputed category decision per sample
func ScoreDecisions(samples []dataset.CueConflictSample, decisions []string) (ScoreResult, ResultsTable, error) {
	if len(samples) != len(decisions) {
		return ScoreResult{}, nil, fmt.Errorf("bias: %d samples but %d decisions", len(samples), len(decisions))
	}
	table := make(ResultsTable, len(samples))
	for i, s := range samples {
		table[i] = BiasRecord{
			PredictedShape:   decisions[i],
			PredictedTexture: decisions[i],
			Shape:            s.Shape,
			Texture:          s.Texture,
		}
	}
	res, err := Score(table)
	return res, table, err
}
