package training

import (
	"fmt"
	"math"
)

// LRScheduler maps an epoch to a learning rate. GetLR must not mutate the
// scheduler so it can be queried repeatedly for the same epoch.
type LRScheduler interface {
	GetLR(epoch int, baseLR float64) float64
	GetName() string
}

// ConstantScheduler keeps the base learning rate
type ConstantScheduler struct{}

func (ConstantScheduler) GetLR(epoch int, baseLR float64) float64 { return baseLR }
func (ConstantScheduler) GetName() string                         { return "ConstantLR" }

// StepLRScheduler multiplies the rate by Gamma every StepSize epochs
type StepLRScheduler struct {
	StepSize int
	Gamma    float64
}

// NewStepLRScheduler creates a step scheduler, defaulting to a 10x decay
// every 30 epochs for out-of-range arguments
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLRScheduler) GetName() string { return "StepLR" }

// CosineAnnealingLRScheduler anneals from the base rate to EtaMin over TMax epochs
type CosineAnnealingLRScheduler struct {
	TMax   int
	EtaMin float64
}

func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string { return "CosineAnnealingLR" }

// PlateauScheduler cuts the rate by Factor once the observed loss has not
// improved by more than Threshold for Patience epochs. Unlike the other
// schedulers it is stateful and advanced through Observe.
type PlateauScheduler struct {
	Factor    float64
	Patience  int
	Threshold float64

	best        float64
	badEpochs   int
	scale       float64
	initialized bool
}

func NewPlateauScheduler(factor float64, patience int, threshold float64) *PlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	return &PlateauScheduler{Factor: factor, Patience: patience, Threshold: threshold, scale: 1}
}

// Observe records the loss of a finished epoch
func (s *PlateauScheduler) Observe(loss float64) {
	if !s.initialized {
		s.best = loss
		s.initialized = true
		return
	}
	if loss < s.best-s.Threshold {
		s.best = loss
		s.badEpochs = 0
		return
	}
	s.badEpochs++
	if s.badEpochs >= s.Patience {
		s.scale *= s.Factor
		s.badEpochs = 0
	}
}

func (s *PlateauScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * s.scale
}

func (s *PlateauScheduler) GetName() string { return "ReduceLROnPlateau" }

// NewScheduler creates a fresh scheduler by name for a run of the given
// number of epochs: "constant" (or empty), "step" (decay by 10x every third
// of the run), "cosine" (anneal to zero) or "plateau" (halve after 2 flat
// epochs).
func NewScheduler(name string, epochs int) (LRScheduler, error) {
	switch name {
	case "", "constant":
		return ConstantScheduler{}, nil
	case "step":
		return NewStepLRScheduler(max(1, epochs/3), 0.1), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(max(1, epochs), 0), nil
	case "plateau":
		return NewPlateauScheduler(0.5, 2, 1e-4), nil
	default:
		return nil, fmt.Errorf("unknown learning rate schedule %q", name)
	}
}
