package experiment

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-shapebias/model"
	"github.com/tsawler/go-shapebias/vision/dataloader"
	"github.com/tsawler/go-shapebias/vision/dataset"
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

// labeledSet serves solid-color images labeled by dominant channel
type labeledSet struct {
	paths  []string
	labels []int
}

func (s *labeledSet) Len() int { return len(s.paths) }

func (s *labeledSet) GetItem(i int) (string, int, error) {
	if i < 0 || i >= len(s.paths) {
		return "", 0, fmt.Errorf("index %d out of range", i)
	}
	return s.paths[i], s.labels[i], nil
}

func newLabeledSet(t *testing.T, repeats int) *labeledSet {
	t.Helper()
	dir := t.TempDir()
	s := &labeledSet{}
	for r := 0; r < repeats; r++ {
		for label, c := range []color.RGBA{red, green, blue} {
			path := filepath.Join(dir, fmt.Sprintf("img_%d_%d.png", r, label))
			writePNG(t, path, c)
			s.paths = append(s.paths, path)
			s.labels = append(s.labels, label)
		}
	}
	return s
}

// stimuli writes cue-conflict images; each name maps to its fill color
func stimuli(t *testing.T, named map[string]color.RGBA) *dataset.CueConflictDataset {
	t.Helper()
	dir := t.TempDir()
	for name, c := range named {
		writePNG(t, filepath.Join(dir, name), c)
	}
	ds, err := dataset.LoadCueConflictDir(dir, dataset.CueConflictOptions{})
	if err != nil {
		t.Fatalf("Failed to load stimuli: %v", err)
	}
	return ds
}

// testData builds every loader a run can use
func testData(t *testing.T, cue *dataset.CueConflictDataset) Data {
	t.Helper()
	set := newLabeledSet(t, 2)
	loader := func() *dataloader.DataLoader {
		return dataloader.NewDataLoader(set, dataloader.Config{BatchSize: 3})
	}
	views := func() *dataloader.ViewLoader {
		vl, err := dataloader.NewViewLoader(loader(), preprocessing.Compose{}, 2, 1)
		if err != nil {
			t.Fatalf("Failed to create view loader: %v", err)
		}
		return vl
	}
	return Data{
		CueConflict:  cue,
		PretextTest:  loader(),
		PretextViews: views(),
		DownTrain:    loader(),
		DownTest:     loader(),
		DownViews:    views(),
		Cache:        dataloader.NewCacheManager(100),
	}
}

// colorNet embeds an image as its mean RGB and applies its head
type colorNet struct {
	head model.Head
}

func (n *colorNet) Head() model.Head     { return n.head }
func (n *colorNet) SetHead(h model.Head) { n.head = h }

func (n *colorNet) Forward(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		plane := img.Width * img.Height
		feats := make([]float32, 3)
		for c := range feats {
			for _, v := range img.Data[c*plane : (c+1)*plane] {
				feats[c] += v
			}
			feats[c] /= float32(plane)
		}
		var err error
		if out[i], err = n.head.Forward(feats); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// channelLinear is a 3-way classifier head picking the dominant channel
func channelLinear() *model.Linear {
	return &model.Linear{In: 3, Out: 3, Weight: []float32{1, 0, 0, 0, 1, 0, 0, 0, 1}, Bias: make([]float32, 3)}
}

// countingTrainer records every pretext epoch it is asked to run
type countingTrainer struct {
	epochs []int
	fail   error
}

func (c *countingTrainer) TrainEpoch(ctx context.Context, net model.Network, epoch int) error {
	c.epochs = append(c.epochs, epoch)
	return c.fail
}
