// Package experiment runs the shape bias study: pretext training of several
// models with periodic pretext, bias, downstream and embedding-distance
// evaluation, collected into a score table.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/go-shapebias/bias"
	"github.com/tsawler/go-shapebias/checkpoints"
	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/training"
	"github.com/tsawler/go-shapebias/vision/dataloader"
	"github.com/tsawler/go-shapebias/vision/dataset"
)

// PretextTrainer runs one epoch of pretext training on a network
type PretextTrainer interface {
	TrainEpoch(ctx context.Context, net model.Network, epoch int) error
}

// PretextTrainerFunc adapts a function to PretextTrainer
type PretextTrainerFunc func(ctx context.Context, net model.Network, epoch int) error

func (f PretextTrainerFunc) TrainEpoch(ctx context.Context, net model.Network, epoch int) error {
	return f(ctx, net, epoch)
}

// FrozenTrainer leaves networks untouched, for fixed encoders
type FrozenTrainer struct{}

func (FrozenTrainer) TrainEpoch(context.Context, model.Network, int) error { return nil }

// NamedModel is a network registered under the name used in the score table
type NamedModel struct {
	Name    string
	Network model.Network
}

// Data bundles the inputs of a run. PretextTest is used by supervised
// regimes, PretextViews by contrastive ones; neither is needed for the noise
// pretext dataset. DownTrain is only needed when finetuning.
type Data struct {
	CueConflict  *dataset.CueConflictDataset
	PretextTest  *dataloader.DataLoader
	PretextViews *dataloader.ViewLoader
	DownTrain    *dataloader.DataLoader
	DownTest     *dataloader.DataLoader
	DownViews    *dataloader.ViewLoader
	Cache        *dataloader.CacheManager // shared by the bias evaluators
}

// Driver orchestrates an experiment over several models
type Driver struct {
	Config  Config
	Trainer PretextTrainer
	Data    Data
	Mapper  bias.Mapper // direct bias mode; nil falls back to bias.VocabularyMapper

	Logger   *slog.Logger
	Progress io.Writer // progress bars, nil for none

	Plots   *training.VisualizationCollector // optional
	Plotter *training.PlottingService        // optional, sends Plots after the run

	runID string
}

// RunID returns the identifier of the last run
func (d *Driver) RunID() string { return d.runID }

func (d *Driver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Driver) validate(models []NamedModel) error {
	if err := d.Config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if d.Trainer == nil {
		return errors.New("experiment: no pretext trainer")
	}
	if len(models) == 0 {
		return errors.New("experiment: no models to compare")
	}
	seen := make(map[string]bool)
	for _, m := range models {
		if m.Name == "" || m.Network == nil {
			return errors.New("experiment: models need a name and a network")
		}
		if seen[m.Name] {
			return fmt.Errorf("experiment: duplicate model name %q", m.Name)
		}
		seen[m.Name] = true
	}

	if d.Data.CueConflict == nil {
		return errors.New("experiment: no cue-conflict stimuli")
	}
	if d.Mapper == nil && d.Config.ResolveBiasMode(false) == BiasDirect {
		for _, m := range models {
			if out := m.Network.Head().OutFeatures(); out != len(dataset.Vocabulary) {
				return fmt.Errorf("experiment: direct bias mode without a mapper needs %d outputs, model %q has %d",
					len(dataset.Vocabulary), m.Name, out)
			}
		}
	}
	if d.Data.DownTest == nil || d.Data.DownViews == nil {
		return errors.New("experiment: downstream test loaders are required")
	}
	if d.Config.Finetune && d.Data.DownTrain == nil {
		return errors.New("experiment: finetuning needs a downstream train loader")
	}
	if !d.Config.SkipsPretextTest() {
		if d.Config.Regime == Supervised && d.Data.PretextTest == nil {
			return errors.New("experiment: supervised pretext test needs a labeled loader")
		}
		if d.Config.Regime == Contrastive && d.Data.PretextViews == nil {
			return errors.New("experiment: contrastive pretext test needs a view loader")
		}
	}
	return nil
}

// Run trains and evaluates every model and returns the score table. Cells
// are keyed by 1-based epoch. Data defects abort the run; an undefined bias
// is logged and recorded as NaN.
func (d *Driver) Run(ctx context.Context, models []NamedModel) (*ScoreTable, error) {
	if err := d.validate(models); err != nil {
		return nil, err
	}
	d.runID = uuid.NewString()
	logger := d.logger().With(slog.String("run.id", d.runID))
	mode := d.Config.ResolveBiasMode(d.Mapper != nil)

	logger.Info("starting experiment",
		slog.String("experiment", d.Config.Name),
		slog.String("pretext.regime", string(d.Config.Regime)),
		slog.String("pretext.data", d.Config.PretextData),
		slog.String("eval.mode", string(mode)),
		slog.Int("models", len(models)),
		slog.Int("epochs", d.Config.Epochs))

	table := NewScoreTable()
	for _, m := range models {
		mlog := logger.With(slog.String("model.name", m.Name))
		for epoch := 0; epoch < d.Config.Epochs; epoch++ {
			if err := ctx.Err(); err != nil {
				return table, err
			}
			start := time.Now()
			if err := d.Trainer.TrainEpoch(ctx, m.Network, epoch); err != nil {
				return table, fmt.Errorf("model %s epoch %d: pretext training: %w", m.Name, epoch+1, err)
			}
			if d.Config.SaveCheckpoints {
				if err := d.saveCheckpoint(m, epoch+1, mlog); err != nil {
					return table, fmt.Errorf("model %s epoch %d: %w", m.Name, epoch+1, err)
				}
			}

			if epoch%d.Config.TestInterval != 0 {
				continue
			}
			cell, err := d.evaluate(ctx, m, epoch, mode, mlog)
			if err != nil {
				return table, fmt.Errorf("model %s epoch %d: %w", m.Name, epoch+1, err)
			}
			table.Set(m.Name, epoch+1, cell)
			d.recordPlots(m.Name, epoch+1, cell)

			mlog.Info("epoch evaluated",
				slog.Int("epoch", epoch+1),
				slog.Float64("score.pretext", cell.Pretext),
				slog.Float64("score.shape_bias", cell.ShapeBias),
				slog.Float64("score.bias_accuracy", cell.BiasAccuracy),
				slog.Float64("score.downstream", cell.Downstream),
				slog.Float64("score.embed_distance", cell.EmbedDistance),
				slog.Duration("elapsed", time.Since(start)))
		}
	}

	d.sendPlots(ctx, logger)
	return table, nil
}

// evaluate fills one score table cell
func (d *Driver) evaluate(ctx context.Context, m NamedModel, epoch int, mode BiasMode, logger *slog.Logger) (Cell, error) {
	cell := EmptyCell()
	net := m.Network
	var err error

	if !d.Config.SkipsPretextTest() {
		if cell.Pretext, err = d.pretextTest(ctx, net); err != nil {
			return cell, fmt.Errorf("pretext test: %w", err)
		}
	}

	if cell.ShapeBias, cell.BiasAccuracy, err = d.biasTest(ctx, m, mode, logger); err != nil {
		return cell, fmt.Errorf("bias evaluation: %w", err)
	}

	if cell.Downstream, err = d.downstreamTest(ctx, m, epoch, logger); err != nil {
		return cell, fmt.Errorf("downstream: %w", err)
	}

	err = model.WithIdentityHead(net, func() error {
		var err error
		cell.EmbedDistance, err = training.EvaluateEmbedDistance(ctx, net, d.Data.DownViews)
		return err
	})
	if err != nil {
		return cell, fmt.Errorf("embedding distance: %w", err)
	}
	return cell, nil
}

func (d *Driver) pretextTest(ctx context.Context, net model.Network) (float64, error) {
	if d.Config.Regime == Contrastive {
		res, err := training.EvaluateContrastive(ctx, net, d.Data.PretextViews, d.Config.Temperature, d.Progress)
		return res.Accuracy, err
	}
	res, err := training.EvaluateClassifier(ctx, net, d.Data.PretextTest, d.Progress)
	return res.Accuracy, err
}

// biasTest returns shape bias as a fraction and bias accuracy in percent
func (d *Driver) biasTest(ctx context.Context, m NamedModel, mode BiasMode, logger *slog.Logger) (float64, float64, error) {
	loader := bias.LoaderConfig{
		BatchSize: d.Config.BatchSize,
		ImageSize: d.Config.ImageSize,
		Cache:     d.Data.Cache,
	}

	var shapeBias, accuracy float64
	var err error
	if mode == BiasDirect {
		mapper := d.Mapper
		if mapper == nil {
			mapper = bias.VocabularyMapper
		}
		eval := &bias.DirectEvaluator{Classifier: m.Network, Mapper: mapper, Loader: loader, Logger: logger}
		var res bias.ScoreResult
		res, _, err = eval.Evaluate(ctx, d.Data.CueConflict)
		shapeBias, accuracy = res.ShapeBias, res.Accuracy
	} else {
		eval := &bias.EmbeddingEvaluator{
			Encoder:      m.Network,
			MaxNeighbors: d.Config.MaxNeighbors,
			Workers:      d.Config.Workers,
			Loader:       loader,
			Logger:       logger,
		}
		var res bias.EmbeddingResult
		err = model.WithIdentityHead(m.Network, func() error {
			var err error
			res, err = eval.Evaluate(ctx, d.Data.CueConflict)
			return err
		})
		shapeBias, accuracy = res.ShapeBias, res.Accuracy
		d.recordBiasByK(m.Name, res.PerK)
	}

	var undefined *bias.UndefinedBiasError
	if errors.As(err, &undefined) {
		logger.Warn("shape bias undefined", slog.String("error", err.Error()))
		return math.NaN(), 100 * accuracy, nil
	}
	if err != nil {
		return math.NaN(), math.NaN(), err
	}
	return shapeBias, 100 * accuracy, nil
}

// downstreamTest attaches a fresh linear head, optionally finetunes, and
// scores the downstream test set. The pretext head is restored afterwards.
func (d *Driver) downstreamTest(ctx context.Context, m NamedModel, epoch int, logger *slog.Logger) (float64, error) {
	net := m.Network
	rng := rand.New(rand.NewSource(d.Config.Seed + int64(epoch)))
	head := model.NewLinear(net.Head().InFeatures(), d.Config.DownClasses, rng)

	var accuracy float64
	err := model.WithHead(net, net.Head(), func() error {
		var probe *training.FinetuneResult
		if d.Config.Finetune {
			sched, err := training.NewScheduler(d.Config.FinetuneLRS, d.Config.FinetuneEpochs)
			if err != nil {
				return err
			}
			cfg := training.DefaultFinetuneConfig()
			cfg.Epochs = d.Config.FinetuneEpochs
			cfg.LearningRate = float32(d.Config.FinetuneLR)
			cfg.Optimizer = d.Config.FinetuneOpt
			cfg.Scheduler = sched
			cfg.Progress = d.Progress
			cfg.Logger = logger
			res, err := training.Finetune(ctx, net, head, d.Data.DownTrain, cfg)
			if err != nil {
				return fmt.Errorf("finetune: %w", err)
			}
			probe = &res
			if d.Plots != nil {
				d.Plots.RecordFinetuneEpoch(m.Name, epoch+1, res.Loss, res.Accuracy)
			}
		}

		res, err := training.EvaluateDownstream(ctx, net, head, d.Data.DownTest, d.Progress)
		if err != nil {
			return err
		}
		accuracy = res.Accuracy
		logger.Debug("downstream evaluated",
			slog.Int("epoch", epoch+1),
			slog.Int("data.samples", res.Samples),
			slog.Float64("score.downstream_loss", res.Loss),
			slog.Float64("score.downstream_macro_precision", res.Matrix.GetMetric(training.MacroPrecision)),
			slog.Float64("score.downstream_macro_recall", res.Matrix.GetMetric(training.MacroRecall)),
			slog.Float64("score.downstream_macro_f1", res.Matrix.GetMetric(training.MacroF1)))
		if d.Plots != nil {
			d.Plots.RecordConfusionMatrix(m.Name, res.Matrix.Matrix, nil)
		}
		if probe != nil && d.Config.SaveCheckpoints {
			return d.saveDownstreamCheckpoint(m.Name, epoch+1, head, accuracy, probe.Optimizer, logger)
		}
		return nil
	})
	return accuracy, err
}

// saveDownstreamCheckpoint writes <model>_<epoch>_down.json with the trained
// downstream head and its optimizer state
func (d *Driver) saveDownstreamCheckpoint(name string, epoch int, head *model.Linear, accuracy float64, opt *checkpoints.OptimizerState, logger *slog.Logger) error {
	cp := &checkpoints.Checkpoint{
		ModelName:      name,
		Weights:        head.CheckpointWeights(),
		TrainingState:  checkpoints.TrainingState{Epoch: epoch, Stage: "down", Accuracy: accuracy},
		OptimizerState: opt,
		Metadata: checkpoints.CheckpointMetadata{
			RunID:       d.runID,
			Description: d.Config.Name,
		},
	}
	path := filepath.Join(d.Config.CheckpointDir, checkpoints.FileName(name, epoch, "down"))
	if err := checkpoints.Save(cp, path); err != nil {
		return fmt.Errorf("saving downstream checkpoint: %w", err)
	}
	logger.Debug("checkpoint saved", slog.String("path", path))
	return nil
}

// saveCheckpoint writes <model>_<epoch>_pre.json when the network or its
// head can export weights
func (d *Driver) saveCheckpoint(m NamedModel, epoch int, logger *slog.Logger) error {
	var weights []checkpoints.WeightTensor
	if s, ok := m.Network.(checkpoints.Stateful); ok {
		weights = s.CheckpointWeights()
	} else if s, ok := m.Network.Head().(checkpoints.Stateful); ok {
		weights = s.CheckpointWeights()
	} else {
		logger.Debug("network has no exportable weights, checkpoint skipped", slog.Int("epoch", epoch))
		return nil
	}

	cp := &checkpoints.Checkpoint{
		ModelName:     m.Name,
		Weights:       weights,
		TrainingState: checkpoints.TrainingState{Epoch: epoch, Stage: "pre"},
		Metadata: checkpoints.CheckpointMetadata{
			RunID:       d.runID,
			Description: d.Config.Name,
		},
	}
	path := filepath.Join(d.Config.CheckpointDir, checkpoints.FileName(m.Name, epoch, "pre"))
	if err := checkpoints.Save(cp, path); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	logger.Debug("checkpoint saved", slog.String("path", path))
	return nil
}

func (d *Driver) recordBiasByK(name string, perK []bias.KScore) {
	if d.Plots == nil || len(perK) == 0 {
		return
	}
	ks := make([]int, len(perK))
	biases := make([]float64, len(perK))
	for i, s := range perK {
		ks[i], biases[i] = s.K, s.ShapeBias
	}
	d.Plots.RecordBiasByK(name, ks, biases)
}

func (d *Driver) recordPlots(name string, epoch int, c Cell) {
	if d.Plots == nil {
		return
	}
	d.Plots.RecordScore(name, "pretext", epoch, c.Pretext)
	d.Plots.RecordScore(name, "shape_bias", epoch, c.ShapeBias)
	d.Plots.RecordScore(name, "bias_accuracy", epoch, c.BiasAccuracy)
	d.Plots.RecordScore(name, "downstream", epoch, c.Downstream)
	d.Plots.RecordScore(name, "embed_distance", epoch, c.EmbedDistance)
}

// sendPlots posts the collected plots. Sidecar failures never fail a run.
func (d *Driver) sendPlots(ctx context.Context, logger *slog.Logger) {
	if d.Plots == nil || d.Plotter == nil || !d.Plotter.IsEnabled() {
		return
	}
	if err := d.Plotter.CheckHealth(ctx); err != nil {
		logger.Warn("plotting service unavailable", slog.String("error", err.Error()))
		return
	}
	resp, err := d.Plotter.SendAll(ctx, d.Plots)
	if err != nil {
		logger.Warn("failed to send plots", slog.String("error", err.Error()))
		return
	}
	if resp != nil {
		logger.Info("plots sent",
			slog.String("plot.batch_id", resp.BatchID),
			slog.Int("plot.count", resp.Summary.TotalPlots),
			slog.String("plot.dashboard", resp.DashboardURL))
	}
}
