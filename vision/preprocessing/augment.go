package preprocessing

import (
	"math/rand"
)

// Augmenter produces a randomized view of an image. Implementations never
// modify their input.
type Augmenter interface {
	Apply(img *ProcessedImage, rng *rand.Rand) *ProcessedImage
}

// Compose applies augmenters in order
type Compose []Augmenter

func (c Compose) Apply(img *ProcessedImage, rng *rand.Rand) *ProcessedImage {
	out := img
	for _, a := range c {
		out = a.Apply(out, rng)
	}
	if out == img {
		out = img.Clone()
	}
	return out
}

// HorizontalFlip mirrors the image with probability P
type HorizontalFlip struct {
	P float64
}

func (h HorizontalFlip) Apply(img *ProcessedImage, rng *rand.Rand) *ProcessedImage {
	out := img.Clone()
	if rng.Float64() >= h.P {
		return out
	}
	for c := 0; c < img.Channels; c++ {
		for y := 0; y < img.Height; y++ {
			for x := 0; x < img.Width; x++ {
				out.Set(c, y, x, img.At(c, y, img.Width-1-x))
			}
		}
	}
	return out
}

// RandomCrop cuts a random window covering Scale of each side and resamples it
// back to the original resolution.
type RandomCrop struct {
	Scale float64
}

func (r RandomCrop) Apply(img *ProcessedImage, rng *rand.Rand) *ProcessedImage {
	scale := r.Scale
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	cropW := max(1, int(float64(img.Width)*scale))
	cropH := max(1, int(float64(img.Height)*scale))
	offX := rng.Intn(img.Width - cropW + 1)
	offY := rng.Intn(img.Height - cropH + 1)

	out := NewProcessedImage(img.Width, img.Height, img.Channels)
	sx := float64(cropW) / float64(img.Width)
	sy := float64(cropH) / float64(img.Height)
	for c := 0; c < img.Channels; c++ {
		for y := 0; y < img.Height; y++ {
			srcY := offY + min(cropH-1, int(float64(y)*sy))
			for x := 0; x < img.Width; x++ {
				srcX := offX + min(cropW-1, int(float64(x)*sx))
				out.Set(c, y, x, img.At(c, srcY, srcX))
			}
		}
	}
	return out
}

// Brightness scales all pixels by a factor drawn from [1-Delta, 1+Delta],
// clamped to [0, 1].
type Brightness struct {
	Delta float64
}

func (b Brightness) Apply(img *ProcessedImage, rng *rand.Rand) *ProcessedImage {
	factor := float32(1 + (rng.Float64()*2-1)*b.Delta)
	out := img.Clone()
	for i, v := range out.Data {
		v *= factor
		if v > 1 {
			v = 1
		} else if v < 0 {
			v = 0
		}
		out.Data[i] = v
	}
	return out
}

// DefaultViewAugmenter is a light SimCLR-style view policy
func DefaultViewAugmenter() Augmenter {
	return Compose{
		RandomCrop{Scale: 0.8},
		HorizontalFlip{P: 0.5},
		Brightness{Delta: 0.2},
	}
}
