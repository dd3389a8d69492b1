package model

import (
	"context"
	"fmt"
	"math"

	"github.com/tsawler/go-shapebias/internal/mathx"
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// HistogramConfig selects the feature groups of a HistogramNetwork
type HistogramConfig struct {
	ColorBins       int // bins per RGB channel of the joint color histogram
	OrientationBins int // unsigned gradient orientation bins per cell
	GridSize        int // cells per side for the orientation histograms
	UseColor        bool
	UseEdges        bool
}

// DefaultHistogramConfig uses both feature groups
func DefaultHistogramConfig() HistogramConfig {
	return HistogramConfig{
		ColorBins:       4,
		OrientationBins: 8,
		GridSize:        4,
		UseColor:        true,
		UseEdges:        true,
	}
}

// HistogramNetwork is a training-free backbone built from a joint color
// histogram (texture-like evidence) and spatial gradient-orientation
// histograms (shape-like evidence). It gives the bias evaluators a baseline
// encoder that needs no external framework.
type HistogramNetwork struct {
	config   HistogramConfig
	features int
	head     Head
}

// NewHistogramNetwork creates the encoder with an identity head
func NewHistogramNetwork(config HistogramConfig) (*HistogramNetwork, error) {
	if !config.UseColor && !config.UseEdges {
		return nil, fmt.Errorf("histogram network needs at least one feature group")
	}
	features := 0
	if config.UseColor {
		if config.ColorBins <= 0 {
			return nil, fmt.Errorf("invalid color bins: %d", config.ColorBins)
		}
		features += config.ColorBins * config.ColorBins * config.ColorBins
	}
	if config.UseEdges {
		if config.OrientationBins <= 0 || config.GridSize <= 0 {
			return nil, fmt.Errorf("invalid orientation config: %d bins, %d grid", config.OrientationBins, config.GridSize)
		}
		features += config.OrientationBins * config.GridSize * config.GridSize
	}
	return &HistogramNetwork{
		config:   config,
		features: features,
		head:     NewIdentity(features),
	}, nil
}

func (hn *HistogramNetwork) Head() Head     { return hn.head }
func (hn *HistogramNetwork) SetHead(h Head) { hn.head = h }

// Features returns the backbone output dimension
func (hn *HistogramNetwork) Features() int {
	return hn.features
}

func (hn *HistogramNetwork) Forward(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if img.Channels != 3 {
			return nil, fmt.Errorf("image %d: expected 3 channels, got %d", i, img.Channels)
		}
		feats := hn.extract(img)
		y, err := hn.head.Forward(feats)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

func (hn *HistogramNetwork) extract(img *preprocessing.ProcessedImage) []float32 {
	feats := make([]float32, 0, hn.features)
	if hn.config.UseColor {
		feats = append(feats, colorHistogram(img, hn.config.ColorBins)...)
	}
	if hn.config.UseEdges {
		feats = append(feats, orientationHistograms(img, hn.config.OrientationBins, hn.config.GridSize)...)
	}
	return feats
}

func binOf(v float32, bins int) int {
	b := int(v * float32(bins))
	if b >= bins {
		b = bins - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

func colorHistogram(img *preprocessing.ProcessedImage, bins int) []float32 {
	hist := make([]float32, bins*bins*bins)
	n := img.Width * img.Height
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			r := binOf(img.At(0, y, x), bins)
			g := binOf(img.At(1, y, x), bins)
			b := binOf(img.At(2, y, x), bins)
			hist[(r*bins+g)*bins+b]++
		}
	}
	for i := range hist {
		hist[i] /= float32(n)
	}
	return hist
}

func orientationHistograms(img *preprocessing.ProcessedImage, bins, grid int) []float32 {
	w, h := img.Width, img.Height
	gray := func(y, x int) float32 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return 0.299*img.At(0, y, x) + 0.587*img.At(1, y, x) + 0.114*img.At(2, y, x)
	}

	hist := make([]float32, grid*grid*bins)
	for y := 0; y < h; y++ {
		cy := min(y*grid/h, grid-1)
		for x := 0; x < w; x++ {
			cx := min(x*grid/w, grid-1)
			gx := float64(gray(y, x+1) - gray(y, x-1))
			gy := float64(gray(y+1, x) - gray(y-1, x))
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			theta := math.Atan2(gy, gx)
			if theta < 0 {
				theta += math.Pi
			}
			b := int(theta / math.Pi * float64(bins))
			if b >= bins {
				b = bins - 1
			}
			hist[(cy*grid+cx)*bins+b] += float32(mag)
		}
	}

	if norm := mathx.Norm(hist); norm > 0 {
		for i := range hist {
			hist[i] = float32(float64(hist[i]) / norm)
		}
	}
	return hist
}
