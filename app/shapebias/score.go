package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-shapebias/bias"
	"github.com/tsawler/go-shapebias/vision/dataset"
)

func newScoreCmd(a *app) *cobra.Command {
	var conflictOnly bool

	cmd := &cobra.Command{
		Use:   "score <decisions.csv>",
		Short: "Score precomputed category decisions (CSV with path,decision columns)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			paths, decisions, err := readDecisions(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			ds, err := dataset.NewCueConflictDataset(paths, dataset.CueConflictOptions{})
			if err != nil {
				return err
			}

			samples := ds.Samples()
			if conflictOnly {
				kept := samples[:0]
				keptDecisions := decisions[:0]
				for i, s := range samples {
					if s.IsConflict() {
						kept = append(kept, s)
						keptDecisions = append(keptDecisions, decisions[i])
					}
				}
				samples, decisions = kept, keptDecisions
			}

			res, _, err := bias.ScoreDecisions(samples, decisions)
			var undefined *bias.UndefinedBiasError
			if err != nil && !errors.As(err, &undefined) {
				return err
			}
			if undefined != nil {
				a.logger.Warn("shape bias undefined", "error", undefined.Error())
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&conflictOnly, "conflict-only", false, "score only stimuli whose shape and texture differ")
	return cmd
}

// readDecisions parses a path,decision CSV with a header row
func readDecisions(r io.Reader) ([]string, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 || records[0][0] != "path" || records[0][1] != "decision" {
		return nil, nil, errors.New(`expected header "path,decision"`)
	}

	paths := make([]string, 0, len(records)-1)
	decisions := make([]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		paths = append(paths, rec[0])
		decisions = append(decisions, strings.TrimSpace(rec[1]))
	}
	if len(paths) == 0 {
		return nil, nil, bias.ErrEmptyResults
	}
	return paths, decisions, nil
}
