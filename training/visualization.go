package training

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// PlotType represents the plots the collector can generate
type PlotType string

const (
	// Per-metric curves over pretext epochs, one series per model
	ScoreCurves PlotType = "score_curves"
	// Shape bias of the embedding evaluator as a function of k
	BiasByK PlotType = "bias_by_k"
	// Downstream finetune loss and accuracy per tested epoch
	FinetuneCurves      PlotType = "finetune_curves"
	ConfusionMatrixPlot PlotType = "confusion_matrix"
)

// PlotData is the JSON document accepted by the plotting sidecar
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter", "heatmap", "bar"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint is one point of a series; Z carries heatmap cell values
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Z     interface{} `json:"z,omitempty"`
	Label string      `json:"label,omitempty"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel    string                 `json:"x_axis_label"`
	YAxisLabel    string                 `json:"y_axis_label"`
	XAxisScale    string                 `json:"x_axis_scale"`
	YAxisScale    string                 `json:"y_axis_scale"`
	ShowLegend    bool                   `json:"show_legend"`
	ShowGrid      bool                   `json:"show_grid"`
	Width         int                    `json:"width"`
	Height        int                    `json:"height"`
	Interactive   bool                   `json:"interactive"`
	CustomOptions map[string]interface{} `json:"custom_options,omitempty"`
}

// palette cycles through series colors by model order
var palette = []string{"#FF6B6B", "#4ECDC4", "#FF9F43", "#5F27CD", "#6C5CE7", "#10AC84", "#EE5253", "#2E86DE"}

type epochValue struct {
	epoch int
	value float64
}

type finetunePoint struct {
	epoch    int
	loss     float64
	accuracy float64
}

// VisualizationCollector accumulates experiment scores for plotting.
// Recording is a no-op until Enable is called. NaN values (undefined bias,
// skipped pretext tests) are dropped since JSON cannot carry them.
type VisualizationCollector struct {
	experiment string
	enabled    bool

	models  []string // insertion order
	metrics []string // insertion order
	scores  map[string]map[string][]epochValue

	biasByK  map[string][]epochValue // k stored in epoch
	finetune map[string][]finetunePoint

	confusionModel  string
	confusionMatrix [][]int
	classNames      []string
}

// NewVisualizationCollector creates a disabled collector for one experiment
func NewVisualizationCollector(experiment string) *VisualizationCollector {
	return &VisualizationCollector{
		experiment: experiment,
		scores:     make(map[string]map[string][]epochValue),
		biasByK:    make(map[string][]epochValue),
		finetune:   make(map[string][]finetunePoint),
	}
}

func (vc *VisualizationCollector) Enable()         { vc.enabled = true }
func (vc *VisualizationCollector) Disable()        { vc.enabled = false }
func (vc *VisualizationCollector) IsEnabled() bool { return vc.enabled }

func (vc *VisualizationCollector) addModel(model string) {
	for _, m := range vc.models {
		if m == model {
			return
		}
	}
	vc.models = append(vc.models, model)
}

// RecordScore records one metric of one model at a 1-based epoch
func (vc *VisualizationCollector) RecordScore(model, metric string, epoch int, value float64) {
	if !vc.enabled || math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	vc.addModel(model)
	byModel, ok := vc.scores[metric]
	if !ok {
		byModel = make(map[string][]epochValue)
		vc.scores[metric] = byModel
		vc.metrics = append(vc.metrics, metric)
	}
	byModel[model] = append(byModel[model], epochValue{epoch: epoch, value: value})
}

// RecordBiasByK replaces the per-k shape bias curve of a model
func (vc *VisualizationCollector) RecordBiasByK(model string, ks []int, biases []float64) {
	if !vc.enabled {
		return
	}
	vc.addModel(model)
	curve := make([]epochValue, 0, len(ks))
	for i, k := range ks {
		if i >= len(biases) || math.IsNaN(biases[i]) {
			continue
		}
		curve = append(curve, epochValue{epoch: k, value: biases[i]})
	}
	vc.biasByK[model] = curve
}

// RecordFinetuneEpoch records the downstream finetune result of a model at
// a tested epoch
func (vc *VisualizationCollector) RecordFinetuneEpoch(model string, epoch int, loss, accuracy float64) {
	if !vc.enabled {
		return
	}
	vc.addModel(model)
	vc.finetune[model] = append(vc.finetune[model], finetunePoint{epoch: epoch, loss: loss, accuracy: accuracy})
}

// RecordConfusionMatrix keeps the latest downstream confusion matrix
func (vc *VisualizationCollector) RecordConfusionMatrix(model string, matrix [][]int, classNames []string) {
	if !vc.enabled {
		return
	}
	vc.confusionModel = model
	vc.confusionMatrix = matrix
	vc.classNames = classNames
}

// Metrics returns the recorded metric names in recording order
func (vc *VisualizationCollector) Metrics() []string {
	return append([]string(nil), vc.metrics...)
}

func (vc *VisualizationCollector) basePlot(plotType PlotType, title string, config PlotConfig) PlotData {
	config.XAxisScale = "linear"
	config.YAxisScale = "linear"
	config.ShowGrid = true
	config.Width = 800
	config.Height = 600
	config.Interactive = true
	return PlotData{
		PlotType:  plotType,
		Title:     title,
		Timestamp: time.Now(),
		ModelName: vc.experiment,
		Config:    config,
	}
}

func lineStyle(i int) map[string]interface{} {
	return map[string]interface{}{
		"color":      palette[i%len(palette)],
		"line_width": 2,
	}
}

// GenerateScorePlot plots one metric over epochs with a series per model
func (vc *VisualizationCollector) GenerateScorePlot(metric string) PlotData {
	plot := vc.basePlot(ScoreCurves, fmt.Sprintf("%s - %s", metric, vc.experiment), PlotConfig{
		XAxisLabel: "Epoch",
		YAxisLabel: metric,
		ShowLegend: true,
	})
	plot.Metrics = map[string]interface{}{"metric": metric}

	for i, model := range vc.models {
		points := vc.scores[metric][model]
		if len(points) == 0 {
			continue
		}
		sorted := append([]epochValue(nil), points...)
		sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].epoch < sorted[b].epoch })

		series := SeriesData{Name: model, Type: "line", Style: lineStyle(i)}
		for _, p := range sorted {
			series.Data = append(series.Data, DataPoint{X: p.epoch, Y: p.value})
		}
		plot.Series = append(plot.Series, series)
	}
	return plot
}

// GenerateBiasByKPlot plots shape bias against neighbor count k
func (vc *VisualizationCollector) GenerateBiasByKPlot() PlotData {
	plot := vc.basePlot(BiasByK, fmt.Sprintf("Shape bias by k - %s", vc.experiment), PlotConfig{
		XAxisLabel: "k",
		YAxisLabel: "Shape bias",
		ShowLegend: true,
	})
	for i, model := range vc.models {
		curve := vc.biasByK[model]
		if len(curve) == 0 {
			continue
		}
		series := SeriesData{Name: model, Type: "line", Style: lineStyle(i)}
		for _, p := range curve {
			series.Data = append(series.Data, DataPoint{X: p.epoch, Y: p.value})
		}
		plot.Series = append(plot.Series, series)
	}
	return plot
}

// GenerateFinetunePlot plots downstream loss and accuracy per model
func (vc *VisualizationCollector) GenerateFinetunePlot() PlotData {
	plot := vc.basePlot(FinetuneCurves, fmt.Sprintf("Finetuning - %s", vc.experiment), PlotConfig{
		XAxisLabel: "Epoch",
		YAxisLabel: "Loss / Accuracy",
		ShowLegend: true,
	})
	for i, model := range vc.models {
		points := vc.finetune[model]
		if len(points) == 0 {
			continue
		}
		loss := SeriesData{Name: model + " loss", Type: "line", Style: lineStyle(i)}
		acc := SeriesData{Name: model + " accuracy", Type: "line", Style: lineStyle(i)}
		acc.Style["line_style"] = "dashed"
		for _, p := range points {
			loss.Data = append(loss.Data, DataPoint{X: p.epoch, Y: p.loss})
			acc.Data = append(acc.Data, DataPoint{X: p.epoch, Y: p.accuracy})
		}
		plot.Series = append(plot.Series, loss, acc)
	}
	return plot
}

// GenerateConfusionMatrixPlot renders the recorded matrix as a heatmap
func (vc *VisualizationCollector) GenerateConfusionMatrixPlot() PlotData {
	plot := vc.basePlot(ConfusionMatrixPlot, fmt.Sprintf("Confusion matrix - %s", vc.confusionModel), PlotConfig{
		XAxisLabel: "Predicted",
		YAxisLabel: "True",
	})
	if len(vc.confusionMatrix) == 0 {
		return plot
	}

	name := func(i int) string {
		if i < len(vc.classNames) {
			return vc.classNames[i]
		}
		return fmt.Sprintf("class_%d", i)
	}
	series := SeriesData{
		Name:  "Confusion Matrix",
		Type:  "heatmap",
		Style: map[string]interface{}{"colorscale": "Blues", "show_values": true},
	}
	total := 0
	correct := 0
	for i, row := range vc.confusionMatrix {
		for j, count := range row {
			series.Data = append(series.Data, DataPoint{X: name(j), Y: name(i), Z: count})
			total += count
			if i == j {
				correct += count
			}
		}
	}
	plot.Series = []SeriesData{series}
	plot.Metrics = map[string]interface{}{"total_samples": total}
	if total > 0 {
		plot.Metrics["accuracy"] = 100 * float64(correct) / float64(total)
	}
	return plot
}

// GenerateAll returns every plot that has data
func (vc *VisualizationCollector) GenerateAll() []PlotData {
	var plots []PlotData
	for _, metric := range vc.metrics {
		if p := vc.GenerateScorePlot(metric); len(p.Series) > 0 {
			plots = append(plots, p)
		}
	}
	for _, p := range []PlotData{vc.GenerateBiasByKPlot(), vc.GenerateFinetunePlot(), vc.GenerateConfusionMatrixPlot()} {
		if len(p.Series) > 0 {
			plots = append(plots, p)
		}
	}
	return plots
}

// ToJSON converts plot data to an indented JSON string
func (pd PlotData) ToJSON() (string, error) {
	data, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data: %w", err)
	}
	return string(data), nil
}

// Clear drops all recorded data but keeps the enabled state
func (vc *VisualizationCollector) Clear() {
	vc.models = nil
	vc.metrics = nil
	vc.scores = make(map[string]map[string][]epochValue)
	vc.biasByK = make(map[string][]epochValue)
	vc.finetune = make(map[string][]finetunePoint)
	vc.confusionModel = ""
	vc.confusionMatrix = nil
	vc.classNames = nil
}
