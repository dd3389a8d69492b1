package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-shapebias/bias"
	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/vision/dataset"
)

func newEmbedCmd(a *app) *cobra.Command {
	var (
		opts     dataset.CueConflictOptions
		noColor  bool
		noEdges  bool
		histBins int
	)

	cmd := &cobra.Command{
		Use:   "embed <stimuli-dir>",
		Short: "Leave-one-out KNN shape bias of the histogram encoder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bindFlags(cmd, map[string]string{
				"max-k":      "max_neighbors",
				"workers":    "workers",
				"batch-size": "batch_size",
				"image-size": "image_size",
			}); err != nil {
				return err
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}

			ds, err := dataset.LoadCueConflictDir(args[0], opts)
			if err != nil {
				return err
			}

			hc := model.DefaultHistogramConfig()
			hc.ColorBins = histBins
			hc.UseColor = !noColor
			hc.UseEdges = !noEdges
			net, err := model.NewHistogramNetwork(hc)
			if err != nil {
				return err
			}

			eval := &bias.EmbeddingEvaluator{
				Encoder:      net,
				MaxNeighbors: cfg.MaxNeighbors,
				Workers:      cfg.Workers,
				Loader:       bias.LoaderConfig{BatchSize: cfg.BatchSize, ImageSize: cfg.ImageSize},
				Logger:       a.logger,
			}
			res, err := eval.Evaluate(cmd.Context(), ds)
			var undefined *bias.UndefinedBiasError
			if err != nil && !errors.As(err, &undefined) {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "k\tshape_bias\taccuracy\tshape\ttexture\toverlap")
			for _, ks := range res.PerK {
				fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%d\t%d\t%d\n",
					ks.K, ks.ShapeBias, ks.Accuracy, ks.NShape, ks.NTexture, ks.Overlap)
			}
			fmt.Fprintf(tw, "mean\t%.4f\t%.4f\t\t\t\n", res.ShapeBias, res.Accuracy)
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.Int("max-k", 5, "largest neighbor count of the sweep")
	f.Int("workers", 0, "leave-one-out workers (0 uses GOMAXPROCS)")
	f.Int("batch-size", 32, "images per forward pass")
	f.Int("image-size", 0, "resize stimuli to this size (0 keeps native)")
	f.IntVar(&histBins, "color-bins", 4, "bins per RGB channel")
	f.BoolVar(&noColor, "no-color", false, "drop the color histogram features")
	f.BoolVar(&noEdges, "no-edges", false, "drop the orientation histogram features")
	f.BoolVar(&opts.ConflictOnly, "conflict-only", false, "drop stimuli whose shape and texture agree (run drops them by default)")
	return cmd
}
