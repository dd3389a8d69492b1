package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-shapebias/checkpoints"
	"github.com/tsawler/go-shapebias/model"
)

func newCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <file.json>",
		Short: "Validate a checkpoint and summarize its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := checkpoints.Load(args[0])
			if err != nil {
				return err
			}
			if err := cp.Validate(); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			ts := cp.TrainingState
			fmt.Fprintf(out, "model %s, stage %s, epoch %d\n", cp.ModelName, ts.Stage, ts.Epoch)
			if cp.Metadata.RunID != "" {
				fmt.Fprintf(out, "run %s (%s)\n", cp.Metadata.RunID, cp.Metadata.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			params := 0
			for _, w := range cp.Weights {
				params += len(w.Data)
			}
			fmt.Fprintf(out, "%d tensors, %d parameters\n", len(cp.Weights), params)

			if ts.Stage == "down" {
				head, err := model.LinearFromCheckpoint(cp.Weights)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "downstream head %d -> %d, accuracy %.2f%%\n", head.In, head.Out, ts.Accuracy)
			}

			if opt := cp.OptimizerState; opt != nil {
				keys := make([]string, 0, len(opt.Parameters))
				for k := range opt.Parameters {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Fprintf(out, "optimizer %s, %d state buffers\n", opt.Type, len(opt.StateData))
				for _, k := range keys {
					fmt.Fprintf(out, "  %s: %v\n", k, opt.Parameters[k])
				}
			}
			return nil
		},
	}
}
