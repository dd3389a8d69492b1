package training

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
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// colorDataset serves solid-color PNGs written to a temp dir
type colorDataset struct {
	paths  []string
	labels []int
}

func (d *colorDataset) Len() int { return len(d.paths) }

func (d *colorDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.paths) {
		return "", 0, fmt.Errorf("index %d out of range", index)
	}
	return d.paths[index], d.labels[index], nil
}

// newColorLoader writes one 4x4 image per color, labeled by position in labels
func newColorLoader(t *testing.T, colors []color.RGBA, labels []int, batchSize int) *dataloader.DataLoader {
	t.Helper()
	dir := t.TempDir()
	ds := &colorDataset{}
	for i, c := range colors {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				img.Set(x, y, c)
			}
		}
		path := filepath.Join(dir, fmt.Sprintf("img_%d.png", i))
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("Failed to create %s: %v", path, err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			t.Fatalf("Failed to encode %s: %v", path, err)
		}
		f.Close()
		ds.paths = append(ds.paths, path)
		ds.labels = append(ds.labels, labels[i])
	}
	return dataloader.NewDataLoader(ds, dataloader.Config{BatchSize: batchSize})
}

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

// meanColorNet embeds an image as its per-channel mean and feeds that through
// a replaceable head
type meanColorNet struct {
	head  model.Head
	calls int
}

func newMeanColorNet() *meanColorNet {
	return &meanColorNet{head: model.NewIdentity(3)}
}

func (n *meanColorNet) Head() model.Head     { return n.head }
func (n *meanColorNet) SetHead(h model.Head) { n.head = h }

func (n *meanColorNet) Forward(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error) {
	n.calls++
	out := make([][]float32, len(images))
	for i, img := range images {
		feats := make([]float32, 3)
		plane := img.Width * img.Height
		for c := 0; c < 3; c++ {
			var sum float32
			for _, v := range img.Data[c*plane : (c+1)*plane] {
				sum += v
			}
			feats[c] = sum / float32(plane)
		}
		var err error
		if out[i], err = n.head.Forward(feats); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// channelHead classifies 3-channel features by their dominant channel
func channelHead() *model.Linear {
	return &model.Linear{
		In:     3,
		Out:    3,
		Weight: []float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Bias:   make([]float32, 3),
	}
}
