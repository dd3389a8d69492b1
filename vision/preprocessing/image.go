package preprocessing

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ImageProcessor converts decoded images to CHW float32 tensors with buffer reuse
type ImageProcessor struct {
	mu            sync.Mutex
	processBuffer []float32
	targetSize    int
}

// NewImageProcessor creates an image processor. A targetSize of 0 keeps the
// source resolution; otherwise images are resampled to targetSize x targetSize.
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// ProcessedImage is a preprocessed image ready for model input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// At returns the value at channel c, row y, column x
func (pi *ProcessedImage) At(c, y, x int) float32 {
	return pi.Data[c*pi.Width*pi.Height+y*pi.Width+x]
}

// Set writes the value at channel c, row y, column x
func (pi *ProcessedImage) Set(c, y, x int, v float32) {
	pi.Data[c*pi.Width*pi.Height+y*pi.Width+x] = v
}

// Clone returns a deep copy
func (pi *ProcessedImage) Clone() *ProcessedImage {
	data := make([]float32, len(pi.Data))
	copy(data, pi.Data)
	return &ProcessedImage{Data: data, Width: pi.Width, Height: pi.Height, Channels: pi.Channels}
}

// NewProcessedImage allocates a zeroed CHW tensor
func NewProcessedImage(width, height, channels int) *ProcessedImage {
	return &ProcessedImage{
		Data:     make([]float32, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}
}

// DecodeAndPreprocess decodes a PNG, JPEG or GIF image and converts it to
// CHW RGB data with values in [0, 1]. No mean/std normalization is applied.
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, format, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("empty %s image", format)
	}
	return p.Preprocess(img), nil
}

// Preprocess converts an already decoded image
func (p *ImageProcessor) Preprocess(img image.Image) *ProcessedImage {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	outW, outH := srcW, srcH
	if p.targetSize > 0 {
		outW, outH = p.targetSize, p.targetSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	plane := outW * outH
	requiredSize := 3 * plane
	if len(p.processBuffer) < requiredSize {
		p.processBuffer = make([]float32, requiredSize)
	}
	data := p.processBuffer[:requiredSize]

	scaleX := float64(srcW) / float64(outW)
	scaleY := float64(srcH) / float64(outH)

	for y := 0; y < outH; y++ {
		srcY := int(float64(y) * scaleY)
		if srcY >= srcH {
			srcY = srcH - 1
		}
		for x := 0; x < outW; x++ {
			srcX := int(float64(x) * scaleX)
			if srcX >= srcW {
				srcX = srcW - 1
			}

			r, g, b, _ := img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY).RGBA()

			idx := y*outW + x
			data[0*plane+idx] = float32(r) / 65535.0
			data[1*plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	// The buffer is reused, hand out a copy
	result := make([]float32, len(data))
	copy(result, data)

	return &ProcessedImage{
		Data:     result,
		Width:    outW,
		Height:   outH,
		Channels: 3,
	}
}

// LoadFile opens and preprocesses a single image file
func (p *ImageProcessor) LoadFile(path string) (*ProcessedImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := p.DecodeAndPreprocess(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// PreprocessBatch preprocesses multiple images concurrently, preserving order
func PreprocessBatch(ctx context.Context, imagePaths []string, targetSize int, maxWorkers int) ([]*ProcessedImage, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*ProcessedImage, len(imagePaths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i, path := range imagePaths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := NewImageProcessor(targetSize).LoadFile(path)
			if err != nil {
				return fmt.Errorf("failed to process image %d: %w", i, err)
			}
			results[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
