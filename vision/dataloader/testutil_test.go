package dataloader

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// MockDataset serves real PNG files written to a temp dir
type MockDataset struct {
	paths  []string
	labels []int
}

func (md *MockDataset) Len() int {
	return len(md.paths)
}

func (md *MockDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(md.paths) {
		return "", 0, fmt.Errorf("index %d out of range", index)
	}
	return md.paths[index], md.labels[index], nil
}

// createMockDataset writes n small PNGs; image i has gray level i/n
func createMockDataset(t *testing.T, n int) *MockDataset {
	t.Helper()
	dir := t.TempDir()
	md := &MockDataset{}
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		level := uint8(255 * i / n)
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				img.SetGray(x, y, color.Gray{Y: level})
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatalf("Failed to encode PNG: %v", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("img_%d.png", i))
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
		md.paths = append(md.paths, path)
		md.labels = append(md.labels, i%3)
	}
	return md
}

func newTestImage(v float32) *preprocessing.ProcessedImage {
	img := preprocessing.NewProcessedImage(1, 1, 3)
	for i := range img.Data {
		img.Data[i] = v
	}
	return img
}
