package dataloader

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// ViewBatch holds several augmented views of the same samples.
// Views[v][i] is view v of sample i.
type ViewBatch struct {
	Views  [][]*preprocessing.ProcessedImage
	Labels []int32
}

// Size returns the number of samples in the batch
func (vb *ViewBatch) Size() int {
	return len(vb.Labels)
}

// ViewLoader wraps a DataLoader and yields NumViews augmentations per sample
type ViewLoader struct {
	loader    *DataLoader
	augmenter preprocessing.Augmenter
	numViews  int
	seed      int64
	rng       *rand.Rand
}

// NewViewLoader creates a multi-view loader. At least two views are required.
func NewViewLoader(loader *DataLoader, augmenter preprocessing.Augmenter, numViews int, seed int64) (*ViewLoader, error) {
	if numViews < 2 {
		return nil, fmt.Errorf("need at least 2 views, got %d", numViews)
	}
	if augmenter == nil {
		augmenter = preprocessing.DefaultViewAugmenter()
	}
	return &ViewLoader{
		loader:    loader,
		augmenter: augmenter,
		numViews:  numViews,
		seed:      seed,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// NumViews returns the number of views per sample
func (vl *ViewLoader) NumViews() int {
	return vl.numViews
}

// Len returns the number of samples in the underlying dataset
func (vl *ViewLoader) Len() int {
	return vl.loader.Len()
}

// NumBatches returns the number of batches in one pass
func (vl *ViewLoader) NumBatches() int {
	return vl.loader.NumBatches()
}

// Reset rewinds the loader. View randomness restarts from the seed so every
// pass sees the same views.
func (vl *ViewLoader) Reset() {
	vl.loader.Reset()
	vl.rng = rand.New(rand.NewSource(vl.seed))
}

// NextBatch returns the next multi-view batch, nil when exhausted
func (vl *ViewLoader) NextBatch() (*ViewBatch, error) {
	batch, err := vl.loader.NextBatch()
	if err != nil || batch == nil {
		return nil, err
	}

	vb := &ViewBatch{
		Views:  make([][]*preprocessing.ProcessedImage, vl.numViews),
		Labels: batch.Labels,
	}
	for v := range vb.Views {
		vb.Views[v] = make([]*preprocessing.ProcessedImage, batch.Size())
		for i, img := range batch.Images {
			vb.Views[v][i] = vl.augmenter.Apply(img, vl.rng)
		}
	}
	return vb, nil
}
