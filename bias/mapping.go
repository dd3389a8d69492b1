package bias

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/tsawler/go-shapebias/internal/mathx"
	"github.com/tsawler/go-shapebias/vision/dataset"
)

// Mapper turns a class probability vector into one of the cue-conflict
// categories. Implementations must be pure.
type Mapper interface {
	Decision(probs []float32) (string, error)
}

// MapperFunc adapts a function to Mapper
type MapperFunc func(probs []float32) (string, error)

func (f MapperFunc) Decision(probs []float32) (string, error) {
	return f(probs)
}

// CategoryMapping aggregates fine-grained class probabilities into coarse
// categories by averaging the probabilities of each category's member
// classes, then picks the highest category.
type CategoryMapping struct {
	// Categories fixes the tie-break order: the first best category wins
	Categories []string         `json:"categories"`
	Indices    map[string][]int `json:"indices"`
}

// LoadCategoryMapping reads a mapping from JSON of the form
// {"categories": [...], "indices": {"cat": [281, 282, ...], ...}}.
// When categories is omitted the cue-conflict vocabulary order is used.
func LoadCategoryMapping(path string) (*CategoryMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	var m CategoryMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping %s: %w", path, err)
	}
	if len(m.Categories) == 0 {
		m.Categories = append([]string(nil), dataset.Vocabulary...)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks that every category has at least one class index
func (m *CategoryMapping) Validate() error {
	if len(m.Categories) == 0 {
		return fmt.Errorf("no categories")
	}
	for _, c := range m.Categories {
		idx := m.Indices[c]
		if len(idx) == 0 {
			return fmt.Errorf("category %q has no class indices", c)
		}
		for _, i := range idx {
			if i < 0 {
				return fmt.Errorf("category %q: negative class index %d", c, i)
			}
		}
	}
	return nil
}

// Decision returns the category with the highest mean member probability
func (m *CategoryMapping) Decision(probs []float32) (string, error) {
	best := ""
	bestScore := math.Inf(-1)
	for _, c := range m.Categories {
		var sum float64
		for _, i := range m.Indices[c] {
			if i >= len(probs) {
				return "", fmt.Errorf("category %q references class %d, have %d classes", c, i, len(probs))
			}
			sum += float64(probs[i])
		}
		score := sum / float64(len(m.Indices[c]))
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == "" {
		return "", fmt.Errorf("no categories")
	}
	return best, nil
}

// VocabularyMapper maps a probability vector indexed by the cue-conflict
// vocabulary itself, for classifiers trained directly on the 16 categories.
var VocabularyMapper = MapperFunc(func(probs []float32) (string, error) {
	if len(probs) != len(dataset.Vocabulary) {
		return "", fmt.Errorf("expected %d probabilities, got %d", len(dataset.Vocabulary), len(probs))
	}
	return dataset.Vocabulary[mathx.Argmax(probs)], nil
})
