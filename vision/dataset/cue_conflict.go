package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// Vocabulary holds the 16 coarse categories of the cue-conflict stimuli, in
// the index order used for integer labels.
var Vocabulary = []string{
	"knife", "keyboard", "elephant", "bicycle", "airplane", "clock", "oven", "chair",
	"bear", "boat", "cat", "bottle", "truck", "car", "bird", "dog",
}

var vocabularyIndex = func() map[string]int {
	m := make(map[string]int, len(Vocabulary))
	for i, name := range Vocabulary {
		m[name] = i
	}
	return m
}()

// LabelIndex returns the vocabulary index of a category, or -1.
func LabelIndex(label string) int {
	if idx, ok := vocabularyIndex[label]; ok {
		return idx
	}
	return -1
}

// MalformedFilenameError reports a cue-conflict file whose name does not follow
// the <shape><digits>-<texture><digits>.<ext> convention.
type MalformedFilenameError struct {
	Path   string
	Reason string
}

func (e *MalformedFilenameError) Error() string {
	return fmt.Sprintf("malformed cue-conflict filename %q: %s", e.Path, e.Reason)
}

// CueConflictSample is one stimulus with its shape and texture ground truth
type CueConflictSample struct {
	Path    string
	Shape   string
	Texture string
}

// IsConflict reports whether shape and texture cues disagree
func (s CueConflictSample) IsConflict() bool {
	return s.Shape != s.Texture
}

// ParseCueConflictName extracts the shape and texture labels from a stimulus
// path such as ".../cat1-elephant03.png".
func ParseCueConflictName(path string) (CueConflictSample, error) {
	base := filepath.Base(path)
	malformed := func(reason string) (CueConflictSample, error) {
		return CueConflictSample{}, &MalformedFilenameError{Path: path, Reason: reason}
	}

	parts := strings.Split(base, "-")
	if len(parts) != 2 {
		return malformed(fmt.Sprintf("expected exactly one '-' separator, found %d", len(parts)-1))
	}

	shape, ok := stripIndex(parts[0])
	if !ok {
		return malformed("shape token has no trailing index")
	}

	ext := filepath.Ext(parts[1])
	if ext == "" {
		return malformed("missing file extension")
	}
	texture, ok := stripIndex(strings.TrimSuffix(parts[1], ext))
	if !ok {
		return malformed("texture token has no trailing index")
	}

	if LabelIndex(shape) < 0 {
		return malformed(fmt.Sprintf("unknown shape label %q", shape))
	}
	if LabelIndex(texture) < 0 {
		return malformed(fmt.Sprintf("unknown texture label %q", texture))
	}

	return CueConflictSample{Path: path, Shape: shape, Texture: texture}, nil
}

// stripIndex removes the trailing digits of a token. Both the digits and the
// remaining label must be non-empty.
func stripIndex(token string) (string, bool) {
	label := strings.TrimRightFunc(token, unicode.IsDigit)
	if label == "" || label == token {
		return "", false
	}
	return label, true
}

// CueConflictOptions controls how stimuli are collected
type CueConflictOptions struct {
	// ConflictOnly drops stimuli whose shape and texture are the same category
	ConflictOnly bool

	// SkipMalformed skips unparsable names instead of failing. Skipped paths
	// are reported by CueConflictDataset.Skipped.
	SkipMalformed bool

	Extensions []string
}

// CueConflictDataset is an ordered set of parsed cue-conflict stimuli
type CueConflictDataset struct {
	samples []CueConflictSample
	skipped []error
}

// NewCueConflictDataset parses every path. Unless SkipMalformed is set, the
// first malformed name fails the whole set.
func NewCueConflictDataset(paths []string, opts CueConflictOptions) (*CueConflictDataset, error) {
	d := &CueConflictDataset{}
	for _, path := range paths {
		sample, err := ParseCueConflictName(path)
		if err != nil {
			if opts.SkipMalformed {
				d.skipped = append(d.skipped, err)
				continue
			}
			return nil, err
		}
		if opts.ConflictOnly && !sample.IsConflict() {
			continue
		}
		d.samples = append(d.samples, sample)
	}

	if len(d.samples) == 0 {
		return nil, errors.New("no cue-conflict samples")
	}
	return d, nil
}

// LoadCueConflictDir collects stimuli from root and its category
// subdirectories, sorted by path.
func LoadCueConflictDir(root string, opts CueConflictOptions) (*CueConflictDataset, error) {
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = []string{".png", ".jpg", ".jpeg"}
	}

	var paths []string
	for _, pattern := range []string{"*", filepath.Join("*", "*")} {
		for _, ext := range extensions {
			files, err := filepath.Glob(filepath.Join(root, pattern+ext))
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", root, err)
			}
			paths = append(paths, files...)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}
	sort.Strings(paths)

	return NewCueConflictDataset(paths, opts)
}

// Len returns the number of stimuli
func (d *CueConflictDataset) Len() int {
	return len(d.samples)
}

// Sample returns the stimulus at index
func (d *CueConflictDataset) Sample(index int) CueConflictSample {
	return d.samples[index]
}

// Samples returns a copy of all stimuli in order
func (d *CueConflictDataset) Samples() []CueConflictSample {
	out := make([]CueConflictSample, len(d.samples))
	copy(out, d.samples)
	return out
}

// GetItem returns the image path and the vocabulary index of its shape label,
// which lets the set be streamed through a dataloader.
func (d *CueConflictDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.samples) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.samples))
	}
	s := d.samples[index]
	return s.Path, LabelIndex(s.Shape), nil
}

// Skipped returns the parse errors of skipped paths
func (d *CueConflictDataset) Skipped() []error {
	return d.skipped
}

// ShapeDistribution counts stimuli per shape label
func (d *CueConflictDataset) ShapeDistribution() map[string]int {
	dist := make(map[string]int)
	for _, s := range d.samples {
		dist[s.Shape]++
	}
	return dist
}

// TextureDistribution counts stimuli per texture label
func (d *CueConflictDataset) TextureDistribution() map[string]int {
	dist := make(map[string]int)
	for _, s := range d.samples {
		dist[s.Texture]++
	}
	return dist
}

func (d *CueConflictDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CueConflictDataset: %d samples, %d skipped\n", len(d.samples), len(d.skipped)))
	sb.WriteString("Shape / texture distribution:\n")

	shapes := d.ShapeDistribution()
	textures := d.TextureDistribution()
	for _, name := range Vocabulary {
		if shapes[name] == 0 && textures[name] == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("  %s: %d shape, %d texture\n", name, shapes[name], textures[name]))
	}
	return sb.String()
}
