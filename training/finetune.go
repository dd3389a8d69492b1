package training

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/optimizer"
	"github.com/tsawler/go-shapebias/vision/dataloader"
)

// FinetuneConfig controls downstream adaptation
type FinetuneConfig struct {
	Epochs       int
	LearningRate float32
	Optimizer    string      // "adam" (default) or "sgd"
	Scheduler    LRScheduler // nil keeps the rate constant

	// Resume warm-starts the optimizer from a checkpointed state
	Resume *optimizer.OptimizerState

	Progress io.Writer
	Logger   *slog.Logger
}

// DefaultFinetuneConfig returns 5 epochs of Adam at 1e-3
func DefaultFinetuneConfig() FinetuneConfig {
	return FinetuneConfig{
		Epochs:       5,
		LearningRate: 0.001,
		Optimizer:    "adam",
		Scheduler:    ConstantScheduler{},
	}
}

// FinetuneResult reports the last finetuning epoch
type FinetuneResult struct {
	Loss     float64
	Accuracy float64 // percent, on the training batches
	Steps    uint64

	// Optimizer is the final optimizer state of a linear probe, nil after
	// end-to-end finetuning
	Optimizer *optimizer.OptimizerState
}

type embeddedBatch struct {
	features [][]float32
	labels   []int32
}

// embedLoader computes backbone features for every batch of loader once, with
// the head of net swapped for identity.
func embedLoader(ctx context.Context, net model.Network, loader *dataloader.DataLoader) ([]embeddedBatch, error) {
	var batches []embeddedBatch
	err := model.WithIdentityHead(net, func() error {
		loader.Reset()
		defer loader.Reset()
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := loader.NextBatch()
			if err != nil {
				return err
			}
			if batch == nil {
				return nil
			}
			feats, err := net.Forward(ctx, batch.Images)
			if err != nil {
				return fmt.Errorf("embedding batch: %w", err)
			}
			batches = append(batches, embeddedBatch{features: feats, labels: batch.Labels})
		}
	})
	return batches, err
}

// NewOptimizer creates the named optimizer for buffers of the given sizes
func NewOptimizer(name string, learningRate float32, sizes []int) (optimizer.Optimizer, error) {
	switch name {
	case "", "adam":
		cfg := optimizer.DefaultAdamConfig()
		cfg.LearningRate = learningRate
		opt, err := optimizer.NewAdamOptimizer(cfg, sizes)
		if err != nil {
			return nil, err
		}
		return opt, nil
	case "sgd":
		cfg := optimizer.DefaultSGDConfig()
		cfg.LearningRate = learningRate
		cfg.Momentum = 0.9
		opt, err := optimizer.NewSGDOptimizer(cfg, sizes)
		if err != nil {
			return nil, err
		}
		return opt, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

// LinearProbe fits head on frozen backbone features of net with the
// configured optimizer and softmax cross entropy. The network itself is left unchanged.
func LinearProbe(ctx context.Context, net model.Network, head *model.Linear, loader *dataloader.DataLoader, cfg FinetuneConfig) (FinetuneResult, error) {
	if cfg.Epochs <= 0 {
		return FinetuneResult{}, fmt.Errorf("finetune epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = ConstantScheduler{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batches, err := embedLoader(ctx, net, loader)
	if err != nil {
		return FinetuneResult{}, err
	}
	if len(batches) == 0 {
		return FinetuneResult{}, ErrEmptyLoader
	}

	params := head.Parameters()
	sizes := make([]int, len(params))
	for i, p := range params {
		sizes[i] = len(p)
	}
	opt, err := NewOptimizer(cfg.Optimizer, cfg.LearningRate, sizes)
	if err != nil {
		return FinetuneResult{}, err
	}
	if cfg.Resume != nil {
		if err := opt.LoadState(cfg.Resume); err != nil {
			return FinetuneResult{}, fmt.Errorf("resuming optimizer: %w", err)
		}
	}

	var res FinetuneResult
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		opt.UpdateLearningRate(float32(cfg.Scheduler.GetLR(epoch, float64(cfg.LearningRate))))
		pb := NewProgressBar(cfg.Progress, fmt.Sprintf("Finetune %d/%d", epoch+1, cfg.Epochs), len(batches))
		cm := NewConfusionMatrix(head.Out)
		var lossSum float64
		var samples int

		for step, b := range batches {
			if err := ctx.Err(); err != nil {
				return FinetuneResult{}, err
			}
			logits := make([][]float32, len(b.features))
			for i, x := range b.features {
				if logits[i], err = head.Forward(x); err != nil {
					return FinetuneResult{}, err
				}
			}
			loss, dLogits, err := BatchCrossEntropy(logits, b.labels)
			if err != nil {
				return FinetuneResult{}, err
			}
			if err := cm.UpdateFromPredictions(logits, b.labels); err != nil {
				return FinetuneResult{}, err
			}
			if err := opt.Step(params, linearGradients(head, b.features, dLogits)); err != nil {
				return FinetuneResult{}, err
			}

			lossSum += loss * float64(len(b.labels))
			samples += len(b.labels)
			pb.Update(step+1, map[string]float64{"loss": loss, "acc": 100 * cm.GetAccuracy()})
		}
		pb.Finish()

		res.Loss = lossSum / float64(samples)
		res.Accuracy = 100 * cm.GetAccuracy()
		if plateau, ok := cfg.Scheduler.(*PlateauScheduler); ok {
			plateau.Observe(res.Loss)
		}
		logger.Debug("finetune epoch complete",
			slog.Int("finetune.epoch", epoch+1),
			slog.Float64("finetune.loss", res.Loss),
			slog.Float64("finetune.accuracy", res.Accuracy))
	}
	res.Steps = opt.GetStepCount()
	if res.Optimizer, err = opt.GetState(); err != nil {
		return FinetuneResult{}, err
	}
	return res, nil
}

// linearGradients back-propagates dL/dlogits through y = Wx + b
func linearGradients(head *model.Linear, inputs, dLogits [][]float32) [][]float32 {
	gw := make([]float32, len(head.Weight))
	gb := make([]float32, len(head.Bias))
	for n, x := range inputs {
		for o, g := range dLogits[n] {
			if g == 0 {
				continue
			}
			row := gw[o*head.In : (o+1)*head.In]
			for i, xi := range x {
				row[i] += g * xi
			}
			gb[o] += g
		}
	}
	return [][]float32{gw, gb}
}

// Finetune adapts net to a downstream task with head as the new final layer.
// Networks implementing model.Finetuner train end to end with head installed
// and keep it afterwards. Any other network gets a linear probe and keeps
// its current head, with head holding the fitted weights.
func Finetune(ctx context.Context, net model.Network, head *model.Linear, loader *dataloader.DataLoader, cfg FinetuneConfig) (FinetuneResult, error) {
	ft, ok := net.(model.Finetuner)
	if !ok {
		return LinearProbe(ctx, net, head, loader, cfg)
	}
	if cfg.Epochs <= 0 {
		return FinetuneResult{}, fmt.Errorf("finetune epochs must be positive, got %d", cfg.Epochs)
	}
	ft.SetHead(head)
	if err := ft.Finetune(ctx, loader, cfg.Epochs, cfg.LearningRate); err != nil {
		return FinetuneResult{}, fmt.Errorf("end-to-end finetune: %w", err)
	}
	res, err := EvaluateClassifier(ctx, ft, loader, nil)
	if err != nil {
		return FinetuneResult{}, err
	}
	return FinetuneResult{Loss: res.Loss, Accuracy: res.Accuracy}, nil
}
