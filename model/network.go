// Package model defines the capabilities the evaluators need from a vision
// backbone: a batch forward pass and a replaceable final layer.
package model

import (
	"context"

	"github.com/tsawler/go-shapebias/vision/dataloader"
	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// Forwarder runs a batch of images through a model and returns one output
// vector per image. Classifiers return class scores, encoders embeddings.
type Forwarder interface {
	Forward(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error)
}

// ForwardFunc adapts a function to Forwarder
type ForwardFunc func(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error)

func (f ForwardFunc) Forward(ctx context.Context, images []*preprocessing.ProcessedImage) ([][]float32, error) {
	return f(ctx, images)
}

// Head is the final mapping from backbone features to outputs
type Head interface {
	Forward(features []float32) ([]float32, error)
	InFeatures() int
	OutFeatures() int
}

// Cloner is implemented by heads with mutable state. Snapshots of such heads
// are deep copies.
type Cloner interface {
	Clone() Head
}

// Network is a backbone whose Forward output goes through its current head.
// Every architecture exposes its final layer through Head/SetHead regardless
// of what the underlying framework calls it.
type Network interface {
	Forwarder
	Head() Head
	SetHead(Head)
}

// Finetuner is implemented by networks that can train end to end, backbone
// included, with their current head on a labeled loader
type Finetuner interface {
	Network
	Finetune(ctx context.Context, loader *dataloader.DataLoader, epochs int, learningRate float32) error
}

// Snapshot captures the current head by value
func Snapshot(n Network) Head {
	h := n.Head()
	if c, ok := h.(Cloner); ok {
		return c.Clone()
	}
	return h
}

// SwapHead installs h and returns a function that restores the head captured
// before the swap. Not safe for concurrent use on the same network.
func SwapHead(n Network, h Head) (restore func()) {
	saved := Snapshot(n)
	n.SetHead(h)
	return func() { n.SetHead(saved) }
}

// WithHead runs fn with h installed and restores the previous head on every
// exit path, including panics.
func WithHead(n Network, h Head, fn func() error) error {
	restore := SwapHead(n, h)
	defer restore()
	return fn()
}

// WithIdentityHead runs fn with the head replaced by a pass-through, turning
// a classifier into an encoder for the duration of fn.
func WithIdentityHead(n Network, fn func() error) error {
	return WithHead(n, NewIdentity(n.Head().InFeatures()), fn)
}
