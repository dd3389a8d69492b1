package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-shapebias/bias"
	"github.com/tsawler/go-shapebias/experiment"
	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/training"
	"github.com/tsawler/go-shapebias/vision/dataloader"
	"github.com/tsawler/go-shapebias/vision/dataset"
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

type runOptions struct {
	downTrain   string
	downTest    string
	pretextTest string
	mapping     string
	downSplit   float64
	noProgress  bool
	cue         dataset.CueConflictOptions
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <stimuli-dir>",
		Short: "Compare the histogram encoder variants and write the score table",
		Long: `Runs the experiment driver over three training-free encoders (color and
orientation histograms, color only, orientation only). Downstream datasets are
image folders with one subdirectory per class. Without --pretext-test the
pretext dataset is treated as noise and the pretext test is skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bindFlags(cmd, map[string]string{
				"name":             "name",
				"epochs":           "epochs",
				"test-interval":    "test_interval",
				"bias-mode":        "bias_mode",
				"max-k":            "max_neighbors",
				"finetune":         "finetune",
				"finetune-epochs":  "finetune_epochs",
				"optimizer":        "finetune_optimizer",
				"schedule":         "finetune_schedule",
				"num-views":        "num_views",
				"batch-size":       "batch_size",
				"image-size":       "image_size",
				"workers":          "workers",
				"seed":             "seed",
				"save-checkpoints": "save_checkpoints",
				"checkpoint-dir":   "checkpoint_dir",
				"output-dir":       "output_dir",
				"plot-url":         "plot_url",
			}); err != nil {
				return err
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			return a.run(cmd, args[0], cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.downTest, "down-test", "", "downstream test image folder (required)")
	f.StringVar(&opts.downTrain, "down-train", "", "downstream train image folder")
	f.Float64Var(&opts.downSplit, "down-split", 0.8, "train fraction of --down-test when finetuning without --down-train")
	f.StringVar(&opts.pretextTest, "pretext-test", "", "pretext test image folder")
	f.StringVar(&opts.mapping, "mapping", "", "JSON category mapping for direct bias mode")
	f.BoolVar(&opts.noProgress, "no-progress", false, "hide progress bars")
	f.BoolVar(&opts.cue.ConflictOnly, "conflict-only", true, "drop stimuli whose shape and texture agree")

	f.String("name", "experiment", "experiment name, used for artifact file names")
	f.Int("epochs", 10, "pretext epochs")
	f.Int("test-interval", 5, "evaluate every n epochs")
	f.String("bias-mode", "", "bias evaluator: direct, embedding or empty for auto")
	f.Int("max-k", 5, "largest neighbor count of the embedding sweep")
	f.Bool("finetune", false, "train the downstream head before testing")
	f.Int("finetune-epochs", 5, "downstream training epochs")
	f.String("optimizer", "adam", "downstream probe optimizer: adam or sgd")
	f.String("schedule", "constant", "downstream learning rate schedule: constant, step, cosine or plateau")
	f.Int("num-views", 2, "views per sample for the embedding distance")
	f.Int("batch-size", 32, "images per batch")
	f.Int("image-size", 0, "resize images to this size (0 keeps native)")
	f.Int("workers", 0, "leave-one-out workers (0 uses GOMAXPROCS)")
	f.Int64("seed", 0, "random seed")
	f.Bool("save-checkpoints", false, "write checkpoints after every epoch")
	f.String("checkpoint-dir", "checkpoints", "checkpoint directory")
	f.String("output-dir", "scores", "score table directory")
	f.String("plot-url", "", "plotting sidecar base URL")

	cmd.MarkFlagRequired("down-test")
	return cmd
}

func (a *app) run(cmd *cobra.Command, stimuli string, cfg experiment.Config, opts runOptions) error {
	cue, err := dataset.LoadCueConflictDir(stimuli, opts.cue)
	if err != nil {
		return err
	}

	// Loaders over the same folder share one decoded-image cache
	shared := dataloader.GetGlobalSharedCache()
	var cacheNames []string
	cacheFor := func(kind, dir string, size int) *dataloader.CacheManager {
		name := kind + ":" + dir
		cacheNames = append(cacheNames, name)
		return shared.GetOrCreateCache(name, size)
	}
	defer func() {
		for _, name := range cacheNames {
			shared.RemoveCache(name)
		}
	}()

	loaderConfig := func(cache *dataloader.CacheManager) dataloader.Config {
		return dataloader.Config{BatchSize: cfg.BatchSize, ImageSize: cfg.ImageSize, Seed: cfg.Seed, CacheManager: cache}
	}

	downTest, err := dataset.NewImageFolderDataset(opts.downTest, nil)
	if err != nil {
		return fmt.Errorf("downstream test data: %w", err)
	}
	cfg.DownClasses = downTest.NumClasses()
	downCache := cacheFor("down-test", opts.downTest, downTest.Len())

	var downTrain *dataset.ImageFolderDataset
	switch {
	case opts.downTrain != "":
		if downTrain, err = dataset.NewImageFolderDataset(opts.downTrain, nil); err != nil {
			return fmt.Errorf("downstream train data: %w", err)
		}
		if downTrain.NumClasses() != cfg.DownClasses {
			return fmt.Errorf("downstream train has %d classes, test has %d", downTrain.NumClasses(), cfg.DownClasses)
		}
	case cfg.Finetune:
		if opts.downSplit <= 0 || opts.downSplit >= 1 {
			return fmt.Errorf("down split must be in (0, 1), got %g", opts.downSplit)
		}
		// Without a seed Split keeps the class-sorted order
		seed := cfg.Seed
		if seed == 0 {
			seed = 1
		}
		downTrain, downTest = downTest.Split(opts.downSplit, seed)
		if downTrain.Len() == 0 || downTest.Len() == 0 {
			return fmt.Errorf("down split %g leaves an empty part of %d images", opts.downSplit, downTrain.Len()+downTest.Len())
		}
		a.logger.Info("split downstream data",
			slog.Int("train", downTrain.Len()),
			slog.Int("test", downTest.Len()))
	}

	data := experiment.Data{
		CueConflict: cue,
		DownTest:    dataloader.NewDataLoader(downTest, loaderConfig(downCache)),
		Cache:       cacheFor("cue-conflict", stimuli, cue.Len()),
	}
	if data.DownViews, err = dataloader.NewViewLoader(
		dataloader.NewDataLoader(downTest, loaderConfig(downCache)),
		preprocessing.DefaultViewAugmenter(), cfg.NumViews, cfg.Seed); err != nil {
		return err
	}

	if downTrain != nil {
		trainConfig := loaderConfig(nil)
		trainConfig.Shuffle = true
		data.DownTrain = dataloader.NewDataLoader(downTrain, trainConfig)
	}

	if opts.pretextTest == "" {
		cfg.PretextData = experiment.NoiseDataset
	} else {
		pretext, err := dataset.NewImageFolderDataset(opts.pretextTest, nil)
		if err != nil {
			return fmt.Errorf("pretext test data: %w", err)
		}
		cfg.PretextClasses = pretext.NumClasses()
		pretextCache := cacheFor("pretext-test", opts.pretextTest, pretext.Len())
		data.PretextTest = dataloader.NewDataLoader(pretext, loaderConfig(pretextCache))
		if data.PretextViews, err = dataloader.NewViewLoader(
			dataloader.NewDataLoader(pretext, loaderConfig(pretextCache)),
			preprocessing.DefaultViewAugmenter(), cfg.NumViews, cfg.Seed); err != nil {
			return err
		}
	}

	driver := &experiment.Driver{
		Config:  cfg,
		Trainer: experiment.FrozenTrainer{},
		Data:    data,
		Logger:  a.logger,
	}
	if !opts.noProgress {
		driver.Progress = cmd.ErrOrStderr()
	}
	if opts.mapping != "" {
		mapping, err := bias.LoadCategoryMapping(opts.mapping)
		if err != nil {
			return err
		}
		driver.Mapper = mapping
	}
	if cfg.PlotURL != "" {
		driver.Plots = training.NewVisualizationCollector(cfg.Name)
		driver.Plots.Enable()
		pc := training.DefaultPlottingServiceConfig()
		pc.BaseURL = cfg.PlotURL
		driver.Plotter = training.NewPlottingService(pc)
		driver.Plotter.Enable()
	}

	models, err := histogramModels()
	if err != nil {
		return err
	}
	table, err := driver.Run(cmd.Context(), models)
	if err != nil {
		return err
	}

	paths, err := table.WriteArtifacts(cfg.OutputDir, experiment.RunInfo{
		RunID:      driver.RunID(),
		Experiment: cfg.Name,
		CreatedAt:  time.Now().UTC(),
		Config:     cfg,
	})
	if err != nil {
		return err
	}
	a.logger.Info("score table written", slog.String("run.id", driver.RunID()), slog.Int("score.cells", table.Len()))
	a.logger.Debug("image caches",
		slog.String("cache.cue_conflict", data.Cache.Stats().String()),
		slog.String("cache.down_test", downCache.Stats().String()))

	out := cmd.OutOrStdout()
	if err := table.WriteCSV(out); err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(out, "wrote", p)
	}
	return nil
}

// histogramModels builds the compared encoders: both feature groups, color
// evidence only and orientation evidence only
func histogramModels() ([]experiment.NamedModel, error) {
	variants := []struct {
		name  string
		color bool
		edges bool
	}{
		{"histogram", true, true},
		{"color", true, false},
		{"edges", false, true},
	}

	models := make([]experiment.NamedModel, 0, len(variants))
	for _, v := range variants {
		hc := model.DefaultHistogramConfig()
		hc.UseColor = v.color
		hc.UseEdges = v.edges
		net, err := model.NewHistogramNetwork(hc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.name, err)
		}
		models = append(models, experiment.NamedModel{Name: v.name, Network: net})
	}
	return models, nil
}
