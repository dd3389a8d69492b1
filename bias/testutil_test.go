package bias

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-shapebias/vision/dataset"
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// stimulus describes one synthetic cue-conflict image filled with a solid color
type stimulus struct {
	name  string
	color color.RGBA
}

func writeStimuli(t *testing.T, stimuli []stimulus) *dataset.CueConflictDataset {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(stimuli))
	for i, s := range stimuli {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				img.Set(x, y, s.color)
			}
		}
		path := filepath.Join(dir, s.name)
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("Failed to create %s: %v", path, err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			t.Fatalf("Failed to encode %s: %v", path, err)
		}
		f.Close()
		paths[i] = path
	}

	ds, err := dataset.NewCueConflictDataset(paths, dataset.CueConflictOptions{})
	if err != nil {
		t.Fatalf("Failed to build dataset: %v", err)
	}
	return ds
}

// pixelEncoder embeds an image as the RGB value of its top-left pixel
var pixelEncoder = EncoderFunc(func(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		out[i] = []float32{img.At(0, 0, 0), img.At(1, 0, 0), img.At(2, 0, 0)}
	}
	return out, nil
})

// rgb builds an opaque color from 0-255 components
func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func approxEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
