package experiment

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// RunInfo identifies the run a score table belongs to
type RunInfo struct {
	RunID      string
	Experiment string
	CreatedAt  time.Time
	Config     Config
}

// scoreValue encodes a score, NaN as null since the JSON mapping of
// google.protobuf.Value has no NaN
func scoreValue(v float64) *structpb.Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(v)
}

func valueScore(v *structpb.Value) float64 {
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
		return v.GetNumberValue()
	}
	return math.NaN()
}

// ToStruct converts the table and run metadata into a protobuf Struct:
//
//	{run_id, experiment, created_at, config{...}, rows: [{model, epoch, pretext, ...}]}
func (t *ScoreTable) ToStruct(info RunInfo) (*structpb.Struct, error) {
	ts := timestamppb.New(info.CreatedAt)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid run timestamp: %w", err)
	}
	// The canonical JSON form of a Timestamp is a quoted RFC 3339 string
	created, err := protojson.Marshal(ts)
	if err != nil {
		return nil, err
	}

	rows := make([]*structpb.Value, 0, t.Len())
	for _, r := range t.Rows() {
		rows = append(rows, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"model":          structpb.NewStringValue(r.Model),
			"epoch":          structpb.NewNumberValue(float64(r.Epoch)),
			"pretext":        scoreValue(r.Pretext),
			"shape_bias":     scoreValue(r.ShapeBias),
			"bias_accuracy":  scoreValue(r.BiasAccuracy),
			"downstream":     scoreValue(r.Downstream),
			"embed_distance": scoreValue(r.EmbedDistance),
		}}))
	}

	cfg := info.Config
	config, err := structpb.NewStruct(map[string]interface{}{
		"epochs":          cfg.Epochs,
		"test_interval":   cfg.TestInterval,
		"regime":          string(cfg.Regime),
		"pretext_data":    cfg.PretextData,
		"pretext_classes": cfg.PretextClasses,
		"bias_mode":       string(cfg.BiasMode),
		"max_neighbors":   cfg.MaxNeighbors,
		"finetune":        cfg.Finetune,
		"optimizer":       cfg.FinetuneOpt,
		"schedule":        cfg.FinetuneLRS,
		"down_classes":    cfg.DownClasses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id":     structpb.NewStringValue(info.RunID),
		"experiment": structpb.NewStringValue(info.Experiment),
		"created_at": structpb.NewStringValue(strings.Trim(strings.TrimSpace(string(created)), `"`)),
		"config":     structpb.NewStructValue(config),
		"rows":       structpb.NewListValue(&structpb.ListValue{Values: rows}),
	}}, nil
}

// FromStruct rebuilds a table from the rows of a Struct written by ToStruct
func FromStruct(s *structpb.Struct) (*ScoreTable, error) {
	t := NewScoreTable()
	for i, v := range s.GetFields()["rows"].GetListValue().GetValues() {
		row := v.GetStructValue()
		if row == nil {
			return nil, fmt.Errorf("row %d is not a struct", i)
		}
		f := row.GetFields()
		model := f["model"].GetStringValue()
		if model == "" {
			return nil, fmt.Errorf("row %d has no model", i)
		}
		t.Set(model, int(f["epoch"].GetNumberValue()), Cell{
			Pretext:       valueScore(f["pretext"]),
			ShapeBias:     valueScore(f["shape_bias"]),
			BiasAccuracy:  valueScore(f["bias_accuracy"]),
			Downstream:    valueScore(f["downstream"]),
			EmbedDistance: valueScore(f["embed_distance"]),
		})
	}
	return t, nil
}

// EncodeProto encodes the table as a binary protobuf Struct
func (t *ScoreTable) EncodeProto(info RunInfo) ([]byte, error) {
	s, err := t.ToStruct(info)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// EncodeProtoJSON encodes the table with the protobuf JSON mapping
func (t *ScoreTable) EncodeProtoJSON(info RunInfo) ([]byte, error) {
	s, err := t.ToStruct(info)
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
}

// DecodeProto decodes a table written by EncodeProto
func DecodeProto(data []byte) (*ScoreTable, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode score table: %w", err)
	}
	return FromStruct(&s)
}

// WriteArtifacts writes <name>.csv, <name>.pb and <name>.json into dir and
// returns the written paths
func (t *ScoreTable) WriteArtifacts(dir string, info RunInfo) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	base := filepath.Join(dir, info.Experiment)

	csvPath := base + ".csv"
	f, err := os.Create(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", csvPath, err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write %s: %w", csvPath, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	bin, err := t.EncodeProto(info)
	if err != nil {
		return nil, err
	}
	pbPath := base + ".pb"
	if err := os.WriteFile(pbPath, bin, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", pbPath, err)
	}

	js, err := t.EncodeProtoJSON(info)
	if err != nil {
		return nil, err
	}
	jsonPath := base + ".json"
	if err := os.WriteFile(jsonPath, js, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}
	return []string{csvPath, pbPath, jsonPath}, nil
}
