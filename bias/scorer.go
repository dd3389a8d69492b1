// Package bias measures how strongly a model follows shape rather than
// texture cues on cue-conflict stimuli.
package bias

import (
	"fmt"
	"math"
)

// BiasRecord pairs the predicted labels of one stimulus with its ground
// truth. Direct evaluation sets both predicted fields to the same decision.
type BiasRecord struct {
	PredictedShape   string
	PredictedTexture string
	Shape            string
	Texture          string
}

// ShapeHit reports whether the shape prediction matches the shape cue
func (r BiasRecord) ShapeHit() bool {
	return r.PredictedShape == r.Shape
}

// TextureHit reports whether the texture prediction matches the texture cue
func (r BiasRecord) TextureHit() bool {
	return r.PredictedTexture == r.Texture
}

// ResultsTable is the ordered set of records of one evaluation pass
type ResultsTable []BiasRecord

// ScoreResult holds the shape bias and cue accuracy of a pass along with the
// counts they derive from.
type ScoreResult struct {
	ShapeBias float64
	Accuracy  float64
	NShape    int
	NTexture  int
	Overlap   int
	Total     int
}

// Defined reports whether ShapeBias is a number
func (s ScoreResult) Defined() bool {
	return !math.IsNaN(s.ShapeBias)
}

func (s ScoreResult) String() string {
	return fmt.Sprintf("shape bias %.4f, accuracy %.4f (shape %d, texture %d, overlap %d, total %d)",
		s.ShapeBias, s.Accuracy, s.NShape, s.NTexture, s.Overlap, s.Total)
}

// Score computes
//
//	shape_bias = n_shape / (n_shape + n_texture)
//	accuracy   = (n_shape + n_texture - overlap) / total
//
// where overlap counts records that hit both cues. When nothing hits either
// cue the result is returned with ShapeBias NaN together with an
// *UndefinedBiasError.
func Score(table ResultsTable) (ScoreResult, error) {
	if len(table) == 0 {
		return ScoreResult{ShapeBias: math.NaN(), Accuracy: math.NaN()}, ErrEmptyResults
	}

	res := ScoreResult{Total: len(table)}
	for _, r := range table {
		shape, texture := r.ShapeHit(), r.TextureHit()
		if shape {
			res.NShape++
		}
		if texture {
			res.NTexture++
		}
		if shape && texture {
			res.Overlap++
		}
	}

	res.Accuracy = float64(res.NShape+res.NTexture-res.Overlap) / float64(res.Total)

	hits := res.NShape + res.NTexture
	if hits == 0 {
		res.ShapeBias = math.NaN()
		return res, &UndefinedBiasError{Total: res.Total}
	}
	res.ShapeBias = float64(res.NShape) / float64(hits)
	return res, nil
}
