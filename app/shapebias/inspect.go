package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-shapebias/vision/dataset"
)

func newInspectCmd(a *app) *cobra.Command {
	var opts dataset.CueConflictOptions

	cmd := &cobra.Command{
		Use:   "inspect <stimuli-dir>",
		Short: "Parse a cue-conflict stimulus directory and print label statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.LoadCueConflictDir(args[0], opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, ds.String())

			conflicts := 0
			for _, s := range ds.Samples() {
				if s.IsConflict() {
					conflicts++
				}
			}
			fmt.Fprintf(out, "Conflicting cues: %d of %d\n", conflicts, ds.Len())
			for _, err := range ds.Skipped() {
				a.logger.Warn("skipped stimulus", "error", err.Error())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.ConflictOnly, "conflict-only", false, "drop stimuli whose shape and texture agree (run drops them by default)")
	cmd.Flags().BoolVar(&opts.SkipMalformed, "skip-malformed", false, "skip unparsable file names instead of failing")
	return cmd
}
