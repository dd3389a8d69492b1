package experiment

import (
	"fmt"
	"net/url"
)

// Regime is the pretext training paradigm of the compared models
type Regime string

const (
	Supervised  Regime = "supervised"
	Contrastive Regime = "contrastive"
)

// BiasMode selects the shape bias evaluator
type BiasMode string

const (
	// BiasAuto picks direct for 1000-class pretext data or when a mapper is
	// supplied, embedding otherwise
	BiasAuto      BiasMode = ""
	BiasDirect    BiasMode = "direct"
	BiasEmbedding BiasMode = "embedding"
)

// NoiseDataset names the pretext dataset without a meaningful test split
const NoiseDataset = "noise"

// Config holds configuration for an experiment run
type Config struct {
	Name string `mapstructure:"name" json:"name"`

	Epochs         int    `mapstructure:"epochs" json:"epochs"`
	TestInterval   int    `mapstructure:"test_interval" json:"test_interval"`
	Regime         Regime `mapstructure:"regime" json:"regime"`
	PretextData    string `mapstructure:"pretext_data" json:"pretext_data"`
	PretextClasses int    `mapstructure:"pretext_classes" json:"pretext_classes"`

	BiasMode     BiasMode `mapstructure:"bias_mode" json:"bias_mode"`
	MaxNeighbors int      `mapstructure:"max_neighbors" json:"max_neighbors"`

	Finetune       bool    `mapstructure:"finetune" json:"finetune"`
	FinetuneEpochs int     `mapstructure:"finetune_epochs" json:"finetune_epochs"`
	FinetuneLR     float64 `mapstructure:"finetune_lr" json:"finetune_lr"`
	FinetuneOpt    string  `mapstructure:"finetune_optimizer" json:"finetune_optimizer"` // adam or sgd
	FinetuneLRS    string  `mapstructure:"finetune_schedule" json:"finetune_schedule"`   // constant, step, cosine or plateau
	DownClasses    int     `mapstructure:"down_classes" json:"down_classes"`

	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	NumViews    int     `mapstructure:"num_views" json:"num_views"`
	BatchSize   int     `mapstructure:"batch_size" json:"batch_size"`
	ImageSize   int     `mapstructure:"image_size" json:"image_size"`
	Workers     int     `mapstructure:"workers" json:"workers"` // 0 uses GOMAXPROCS
	Seed        int64   `mapstructure:"seed" json:"seed"`

	SaveCheckpoints bool   `mapstructure:"save_checkpoints" json:"save_checkpoints"`
	CheckpointDir   string `mapstructure:"checkpoint_dir" json:"checkpoint_dir"`
	OutputDir       string `mapstructure:"output_dir" json:"output_dir"`
	PlotURL         string `mapstructure:"plot_url" json:"plot_url"` // empty disables the plotting sidecar
}

// DefaultConfig mirrors the reference experiment: 10 supervised epochs on
// CIFAR10, tested every 5 epochs, 5 neighbors, 5 finetune epochs at 1e-3
func DefaultConfig() Config {
	return Config{
		Name:           "experiment",
		Epochs:         10,
		TestInterval:   5,
		Regime:         Supervised,
		PretextData:    "CIFAR10",
		PretextClasses: 10,
		BiasMode:       BiasAuto,
		MaxNeighbors:   5,
		FinetuneEpochs: 5,
		FinetuneLR:     0.001,
		FinetuneOpt:    "adam",
		FinetuneLRS:    "constant",
		DownClasses:    10,
		Temperature:    0.5,
		NumViews:       2,
		BatchSize:      32,
		CheckpointDir:  "checkpoints",
		OutputDir:      "scores",
	}
}

// Validate checks the configuration for values no run can use
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.TestInterval <= 0 {
		return fmt.Errorf("test interval must be positive, got %d", c.TestInterval)
	}
	switch c.Regime {
	case Supervised, Contrastive:
	default:
		return fmt.Errorf("unknown pretext regime %q", c.Regime)
	}
	switch c.BiasMode {
	case BiasAuto, BiasDirect, BiasEmbedding:
	default:
		return fmt.Errorf("unknown bias mode %q", c.BiasMode)
	}
	if c.MaxNeighbors < 1 {
		return fmt.Errorf("max neighbors must be positive, got %d", c.MaxNeighbors)
	}
	if c.DownClasses < 1 {
		return fmt.Errorf("downstream classes must be positive, got %d", c.DownClasses)
	}
	if c.Finetune {
		if c.FinetuneEpochs <= 0 {
			return fmt.Errorf("finetune epochs must be positive, got %d", c.FinetuneEpochs)
		}
		if c.FinetuneLR <= 0 {
			return fmt.Errorf("finetune learning rate must be positive, got %g", c.FinetuneLR)
		}
		switch c.FinetuneOpt {
		case "adam", "sgd":
		default:
			return fmt.Errorf("unknown finetune optimizer %q", c.FinetuneOpt)
		}
		switch c.FinetuneLRS {
		case "constant", "step", "cosine", "plateau":
		default:
			return fmt.Errorf("unknown finetune schedule %q", c.FinetuneLRS)
		}
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive, got %g", c.Temperature)
	}
	if c.NumViews < 2 {
		return fmt.Errorf("need at least 2 views, got %d", c.NumViews)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.SaveCheckpoints && c.CheckpointDir == "" {
		return fmt.Errorf("checkpoint directory required when saving checkpoints")
	}
	if c.PlotURL != "" {
		u, err := url.Parse(c.PlotURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid plot URL %q", c.PlotURL)
		}
	}
	return nil
}

// ResolveBiasMode returns the evaluator to use. Auto mode picks direct
// classification only when a mapper is configured, since a 1000-way output
// cannot be scored without one, and embedding KNN otherwise.
func (c Config) ResolveBiasMode(hasMapper bool) BiasMode {
	if c.BiasMode != BiasAuto {
		return c.BiasMode
	}
	if hasMapper {
		return BiasDirect
	}
	return BiasEmbedding
}

// SkipsPretextTest reports whether the pretext test is undefined for the
// configured pretext data
func (c Config) SkipsPretextTest() bool {
	return c.PretextData == NoiseDataset
}
