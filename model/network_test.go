package model

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

func solidImage(r, g, b float32, size int) *preprocessing.ProcessedImage {
	img := preprocessing.NewProcessedImage(size, size, 3)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(0, y, x, r)
			img.Set(1, y, x, g)
			img.Set(2, y, x, b)
		}
	}
	return img
}

func TestLinearForward(t *testing.T) {
	l := &Linear{In: 2, Out: 2, Weight: []float32{1, 2, 3, 4}, Bias: []float32{0.5, -1}}
	out, err := l.Forward([]float32{1, 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out[0] != 3.5 || out[1] != 6 {
		t.Errorf("Expected [3.5 6], got %v", out)
	}
	if _, err := l.Forward([]float32{1}); err == nil {
		t.Error("Expected dimension error")
	}
}

func TestNewLinearInitBounds(t *testing.T) {
	l := NewLinear(16, 4, rand.New(rand.NewSource(1)))
	for _, w := range l.Weight {
		if w < -0.25 || w > 0.25 {
			t.Fatalf("Weight %f outside U(-1/4, 1/4)", w)
		}
	}
	if len(l.Parameters()) != 2 || len(l.CheckpointWeights()) != 2 {
		t.Error("Expected weight and bias parameters")
	}
}

func TestLinearCheckpointRoundTrip(t *testing.T) {
	src := NewLinear(3, 2, rand.New(rand.NewSource(2)))
	dst := NewLinear(3, 2, rand.New(rand.NewSource(3)))
	if err := dst.LoadCheckpointWeights(src.CheckpointWeights()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i := range src.Weight {
		if src.Weight[i] != dst.Weight[i] {
			t.Fatal("Weights not restored")
		}
	}

	wrong := NewLinear(4, 2, rand.New(rand.NewSource(3)))
	if err := wrong.LoadCheckpointWeights(src.CheckpointWeights()); err == nil {
		t.Error("Expected size mismatch error")
	}
}

func TestLinearFromCheckpoint(t *testing.T) {
	src := NewLinear(3, 2, rand.New(rand.NewSource(2)))
	l, err := LinearFromCheckpoint(src.CheckpointWeights())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if l.In != 3 || l.Out != 2 || l.Bias[1] != src.Bias[1] {
		t.Errorf("Unexpected head %dx%d", l.Out, l.In)
	}

	if _, err := LinearFromCheckpoint(src.CheckpointWeights()[1:]); err == nil {
		t.Error("Expected error without head.weight")
	}
	bad := src.CheckpointWeights()
	bad[0].Shape = []int{6}
	if _, err := LinearFromCheckpoint(bad); err == nil {
		t.Error("Expected error for a flat weight shape")
	}
}

func TestSwapHeadRestoresSnapshot(t *testing.T) {
	net, err := NewHistogramNetwork(DefaultHistogramConfig())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	head := NewLinear(net.Features(), 3, rand.New(rand.NewSource(4)))
	net.SetHead(head)

	restore := SwapHead(net, NewIdentity(net.Features()))
	if _, ok := net.Head().(*Identity); !ok {
		t.Fatal("Expected identity head after swap")
	}

	// Mutating the original head while swapped must not leak into the restore
	head.Bias[0] = 42
	restore()

	restored, ok := net.Head().(*Linear)
	if !ok {
		t.Fatalf("Expected linear head after restore, got %T", net.Head())
	}
	if restored.Bias[0] == 42 {
		t.Error("Restored head should be the pre-swap snapshot")
	}
}

func TestWithHeadRestoresOnError(t *testing.T) {
	net, _ := NewHistogramNetwork(DefaultHistogramConfig())
	head := NewLinear(net.Features(), 2, rand.New(rand.NewSource(5)))
	net.SetHead(head)

	sentinel := errors.New("boom")
	err := WithIdentityHead(net, func() error {
		out, err := net.Forward(context.Background(), []*preprocessing.ProcessedImage{solidImage(1, 0, 0, 8)})
		if err != nil {
			return err
		}
		if len(out[0]) != net.Features() {
			t.Errorf("Expected %d-dim embedding, got %d", net.Features(), len(out[0]))
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Expected sentinel error, got %v", err)
	}
	if net.Head().OutFeatures() != 2 {
		t.Errorf("Expected the 2-class head back, got %d outputs", net.Head().OutFeatures())
	}
}

func TestWithHeadRestoresOnPanic(t *testing.T) {
	net, _ := NewHistogramNetwork(DefaultHistogramConfig())
	net.SetHead(NewLinear(net.Features(), 5, rand.New(rand.NewSource(6))))

	func() {
		defer func() { _ = recover() }()
		_ = WithIdentityHead(net, func() error { panic("evaluator crashed") })
	}()

	if net.Head().OutFeatures() != 5 {
		t.Errorf("Head not restored after panic")
	}
}

func TestHistogramNetwork(t *testing.T) {
	t.Run("InvalidConfig", func(t *testing.T) {
		if _, err := NewHistogramNetwork(HistogramConfig{}); err == nil {
			t.Error("Expected error with no feature groups")
		}
		if _, err := NewHistogramNetwork(HistogramConfig{UseColor: true}); err == nil {
			t.Error("Expected error for zero color bins")
		}
	})

	t.Run("ColorSeparatesHues", func(t *testing.T) {
		net, err := NewHistogramNetwork(HistogramConfig{ColorBins: 2, UseColor: true})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if net.Features() != 8 {
			t.Fatalf("Expected 8 features, got %d", net.Features())
		}
		out, err := net.Forward(context.Background(), []*preprocessing.ProcessedImage{
			solidImage(1, 0, 0, 4), solidImage(0, 0, 1, 4),
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		// Red lands in bin (1,0,0) = 4, blue in (0,0,1) = 1
		if out[0][4] != 1 || out[1][1] != 1 {
			t.Errorf("Unexpected histograms %v %v", out[0], out[1])
		}
	})

	t.Run("EdgesOfFlatImageAreZero", func(t *testing.T) {
		net, _ := NewHistogramNetwork(HistogramConfig{OrientationBins: 4, GridSize: 2, UseEdges: true})
		out, err := net.Forward(context.Background(), []*preprocessing.ProcessedImage{solidImage(0.5, 0.5, 0.5, 6)})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		for _, v := range out[0] {
			if v != 0 {
				t.Fatalf("Expected zero gradients, got %v", out[0])
			}
		}
	})

	t.Run("RejectsGrayscale", func(t *testing.T) {
		net, _ := NewHistogramNetwork(DefaultHistogramConfig())
		gray := preprocessing.NewProcessedImage(2, 2, 1)
		if _, err := net.Forward(context.Background(), []*preprocessing.ProcessedImage{gray}); err == nil {
			t.Error("Expected channel error")
		}
	})
}

func TestForwardFunc(t *testing.T) {
	var f Forwarder = ForwardFunc(func(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error) {
		return [][]float32{{float32(len(images))}}, nil
	})
	out, _ := f.Forward(context.Background(), make([]*preprocessing.ProcessedImage, 3))
	if out[0][0] != 3 {
		t.Errorf("Expected 3, got %f", out[0][0])
	}
}
