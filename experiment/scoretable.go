package experiment

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
)

// Cell holds the scores of one model at one tested epoch. Accuracies are
// percentages, ShapeBias a fraction. Missing values are NaN.
type Cell struct {
	Pretext       float64
	ShapeBias     float64
	BiasAccuracy  float64
	Downstream    float64
	EmbedDistance float64
}

// EmptyCell returns a cell with every score missing
func EmptyCell() Cell {
	nan := math.NaN()
	return Cell{Pretext: nan, ShapeBias: nan, BiasAccuracy: nan, Downstream: nan, EmbedDistance: nan}
}

// Row is one (model, epoch) entry of the long table
type Row struct {
	Model string
	Epoch int
	Cell
}

type cellKey struct {
	model string
	epoch int
}

// ScoreTable collects cells keyed by model name and 1-based epoch. Models and
// epochs keep their first-seen order.
type ScoreTable struct {
	models []string
	epochs []int
	cells  map[cellKey]Cell
}

// NewScoreTable creates an empty table
func NewScoreTable() *ScoreTable {
	return &ScoreTable{cells: make(map[cellKey]Cell)}
}

// Set stores the cell for model at epoch, replacing any previous value
func (t *ScoreTable) Set(model string, epoch int, c Cell) {
	key := cellKey{model, epoch}
	if _, ok := t.cells[key]; !ok {
		if !slices.Contains(t.models, model) {
			t.models = append(t.models, model)
		}
		if !slices.Contains(t.epochs, epoch) {
			t.epochs = append(t.epochs, epoch)
		}
	}
	t.cells[key] = c
}

// Get returns the cell for model at epoch
func (t *ScoreTable) Get(model string, epoch int) (Cell, bool) {
	c, ok := t.cells[cellKey{model, epoch}]
	return c, ok
}

func (t *ScoreTable) Models() []string { return append([]string(nil), t.models...) }
func (t *ScoreTable) Epochs() []int    { return append([]int(nil), t.epochs...) }

// Len returns the number of stored cells
func (t *ScoreTable) Len() int { return len(t.cells) }

// Rows returns the stored cells model-major in first-seen order
func (t *ScoreTable) Rows() []Row {
	rows := make([]Row, 0, len(t.cells))
	for _, m := range t.models {
		for _, e := range t.epochs {
			if c, ok := t.cells[cellKey{m, e}]; ok {
				rows = append(rows, Row{Model: m, Epoch: e, Cell: c})
			}
		}
	}
	return rows
}

// CSVHeader is the column layout of the long CSV export
var CSVHeader = []string{"model", "epoch", "pretext", "shape_bias", "bias_accuracy", "downstream", "embed_distance"}

func formatScore(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseScore(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// WriteCSV writes the table in long format, one row per cell. Missing scores
// are empty fields.
func (t *ScoreTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range t.Rows() {
		record := []string{
			r.Model,
			strconv.Itoa(r.Epoch),
			formatScore(r.Pretext),
			formatScore(r.ShapeBias),
			formatScore(r.BiasAccuracy),
			formatScore(r.Downstream),
			formatScore(r.EmbedDistance),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a table written by WriteCSV
func ReadCSV(r io.Reader) (*ScoreTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read score CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("score CSV has no header")
	}
	for i, col := range CSVHeader {
		if records[0][i] != col {
			return nil, fmt.Errorf("score CSV column %d: expected %q, got %q", i, col, records[0][i])
		}
	}

	t := NewScoreTable()
	for line, rec := range records[1:] {
		epoch, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("score CSV line %d: invalid epoch %q", line+2, rec[1])
		}
		var values [5]float64
		for i := range values {
			if values[i], err = parseScore(rec[2+i]); err != nil {
				return nil, fmt.Errorf("score CSV line %d, column %s: %w", line+2, CSVHeader[2+i], err)
			}
		}
		t.Set(rec[0], epoch, Cell{
			Pretext:       values[0],
			ShapeBias:     values[1],
			BiasAccuracy:  values[2],
			Downstream:    values[3],
			EmbedDistance: values[4],
		})
	}
	return t, nil
}
