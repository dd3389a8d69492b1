package dataloader

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-shapebias/vision/preprocessing"
)

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

// Batch is a slice of images with their integer labels
type Batch struct {
	Images []*preprocessing.ProcessedImage
	Labels []int32
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return len(b.Images)
}

// DataLoader iterates a dataset in batches, decoding images through a cache
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mu        sync.Mutex

	cacheManager *CacheManager
	ownedCache   bool

	processor *preprocessing.ImageProcessor
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize    int
	Shuffle      bool
	Seed         int64
	MaxCacheSize int           // Maximum number of images to cache
	ImageSize    int           // 0 keeps the native resolution
	CacheManager *CacheManager // Optional shared cache manager
}

// NewDataLoader creates a new data loader
func NewDataLoader(dataset Dataset, config Config) *DataLoader {
	if config.MaxCacheSize == 0 {
		config.MaxCacheSize = 1000
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	cacheManager := config.CacheManager
	ownedCache := false
	if cacheManager == nil {
		cacheManager = NewCacheManager(config.MaxCacheSize)
		ownedCache = true
	}

	dl := &DataLoader{
		dataset:      dataset,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		rng:          rand.New(rand.NewSource(config.Seed)),
		indices:      indices,
		cacheManager: cacheManager,
		ownedCache:   ownedCache,
		processor:    preprocessing.NewImageProcessor(config.ImageSize),
	}
	dl.shuffleIndices()
	return dl
}

func (dl *DataLoader) shuffleIndices() {
	if !dl.shuffle {
		return
	}
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Reset rewinds the loader, reshuffling when enabled
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	dl.shuffleIndices()
}

// Len returns the number of samples in the underlying dataset
func (dl *DataLoader) Len() int {
	return len(dl.indices)
}

// BatchSize returns the configured batch size
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// NumBatches returns the number of batches in one pass
func (dl *DataLoader) NumBatches() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// NextBatch loads the next batch. It returns a nil batch once the dataset
// is exhausted. Any unreadable image fails the batch.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}
	batchSize := min(dl.batchSize, remaining)

	batch := &Batch{
		Images: make([]*preprocessing.ProcessedImage, 0, batchSize),
		Labels: make([]int32, 0, batchSize),
	}
	for i := 0; i < batchSize; i++ {
		idx := dl.indices[dl.position]
		dl.position++

		imagePath, label, err := dl.dataset.GetItem(idx)
		if err != nil {
			return nil, err
		}

		img, err := dl.loadImageWithCache(imagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", imagePath, err)
		}

		batch.Images = append(batch.Images, img)
		batch.Labels = append(batch.Labels, int32(label))
	}

	return batch, nil
}

// loadImageWithCache loads an image with caching support
func (dl *DataLoader) loadImageWithCache(imagePath string) (*preprocessing.ProcessedImage, error) {
	if img, exists := dl.cacheManager.Get(imagePath); exists {
		return img, nil
	}

	img, err := dl.processor.LoadFile(imagePath)
	if err != nil {
		return nil, err
	}

	dl.cacheManager.Put(imagePath, img)
	return img, nil
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	return dl.cacheManager.Stats().String()
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// ClearCache clears the image cache unless it is shared
func (dl *DataLoader) ClearCache() {
	if dl.ownedCache {
		dl.cacheManager.Clear()
	}
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}
