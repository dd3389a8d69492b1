package experiment

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func sampleTable() *ScoreTable {
	t := NewScoreTable()
	t.Set("resnet", 1, Cell{Pretext: 41.5, ShapeBias: 0.25, BiasAccuracy: 60, Downstream: 38, EmbedDistance: 1.75})
	t.Set("resnet", 3, Cell{Pretext: 55, ShapeBias: 0.3, BiasAccuracy: 62.5, Downstream: 47, EmbedDistance: 1.5})
	noise := EmptyCell()
	noise.ShapeBias = 0.5
	t.Set("vit", 1, noise)
	return t
}

func TestScoreTableOrdering(t *testing.T) {
	table := sampleTable()
	if got := table.Models(); len(got) != 2 || got[0] != "resnet" || got[1] != "vit" {
		t.Errorf("Expected first-seen model order, got %v", got)
	}
	if got := table.Epochs(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Expected first-seen epoch order, got %v", got)
	}
	if table.Len() != 3 {
		t.Errorf("Expected 3 cells, got %d", table.Len())
	}

	rows := table.Rows()
	if rows[0].Model != "resnet" || rows[1].Epoch != 3 || rows[2].Model != "vit" {
		t.Errorf("Expected model-major rows, got %+v", rows)
	}

	// Overwriting keeps the order
	table.Set("resnet", 1, EmptyCell())
	if c, _ := table.Get("resnet", 1); !math.IsNaN(c.Pretext) || table.Len() != 3 {
		t.Errorf("Expected the cell to be replaced, got %+v", c)
	}
	if _, ok := table.Get("vit", 3); ok {
		t.Error("Expected no cell for vit at epoch 3")
	}
}

func TestScoreTableCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleTable().WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "model,epoch,pretext,shape_bias,bias_accuracy,downstream,embed_distance" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if lines[1] != "resnet,1,41.5,0.25,60,38,1.75" {
		t.Errorf("Unexpected row: %s", lines[1])
	}
	if lines[3] != "vit,1,,0.5,,," {
		t.Errorf("Missing scores must be empty fields, got %s", lines[3])
	}

	back, err := ReadCSV(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	c, ok := back.Get("resnet", 3)
	if !ok || c.Downstream != 47 || c.EmbedDistance != 1.5 {
		t.Errorf("Unexpected round-trip cell: %+v", c)
	}
	if v, _ := back.Get("vit", 1); !math.IsNaN(v.Pretext) || v.ShapeBias != 0.5 {
		t.Errorf("Unexpected round-trip noise cell: %+v", v)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"wrong header": "name,epoch,pretext,shape_bias,bias_accuracy,downstream,embed_distance\n",
		"bad epoch":    strings.Join(CSVHeader, ",") + "\nresnet,one,1,1,1,1,1\n",
		"bad score":    strings.Join(CSVHeader, ",") + "\nresnet,1,abc,1,1,1,1\n",
		"short row":    strings.Join(CSVHeader, ",") + "\nresnet,1\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(input)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
