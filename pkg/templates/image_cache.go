// Package templates caches decoded reference images under a byte budget.
package templates

import (
	"container/list"
	"image"
	"sync"
)

// CachedImage is an immutable cache entry. Holders may keep using it after eviction.
type CachedImage struct {
	Key   int64
	Image *image.RGBA
	Scale float64 // Detection scale the image was prepared for
	Bytes int64
}

// ImageCache is an LRU keyed by condition id, bounded by the total pixel bytes it holds
type ImageCache struct {
	budget int64
	size   int64

	entries map[int64]*list.Element
	order   *list.List // Front = most recently used

	mu    sync.Mutex
	stats CacheStats
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits      int64 // Cache hits
	Misses    int64 // Lookups without an entry
	Loads     int64 // Entries inserted
	Evictions int64 // Entries dropped to stay under budget
	Rejected  int64 // Images larger than the whole budget
}

// NewImageCache creates a cache holding at most budgetBytes of pixel data.
// A budget <= 0 disables caching.
func NewImageCache(budgetBytes int64) *ImageCache {
	return &ImageCache{
		budget:  budgetBytes,
		entries: make(map[int64]*list.Element),
		order:   list.New(),
	}
}

// ImageBytes returns the memory held by an image's pixels
func ImageBytes(img *image.RGBA) int64 {
	if img == nil {
		return 0
	}
	return int64(len(img.Pix))
}

// Get returns the entry for key and marks it most recently used
func (ic *ImageCache) Get(key int64) (*CachedImage, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	elem, ok := ic.entries[key]
	if !ok {
		ic.stats.Misses++
		return nil, false
	}
	ic.stats.Hits++
	ic.order.MoveToFront(elem)
	return elem.Value.(*CachedImage), true
}

// Put stores img under key, replacing any previous entry, and evicts least recently
// used entries until the cache fits its budget. The returned entry is valid even when
// the image was too large to be cached.
func (ic *ImageCache) Put(key int64, img *image.RGBA, scale float64) *CachedImage {
	entry := &CachedImage{Key: key, Image: img, Scale: scale, Bytes: ImageBytes(img)}

	ic.mu.Lock()
	defer ic.mu.Unlock()

	ic.removeLocked(key)
	if entry.Bytes > ic.budget {
		ic.stats.Rejected++
		return entry
	}

	ic.entries[key] = ic.order.PushFront(entry)
	ic.size += entry.Bytes
	ic.stats.Loads++

	for ic.size > ic.budget {
		oldest := ic.order.Back()
		if oldest == nil {
			break
		}
		ic.removeLocked(oldest.Value.(*CachedImage).Key)
		ic.stats.Evictions++
	}
	return entry
}

// Remove drops key from the cache
func (ic *ImageCache) Remove(key int64) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.removeLocked(key)
}

func (ic *ImageCache) removeLocked(key int64) {
	elem, ok := ic.entries[key]
	if !ok {
		return
	}
	ic.order.Remove(elem)
	delete(ic.entries, key)
	ic.size -= elem.Value.(*CachedImage).Bytes
}

// Clear drops every entry. Stats are kept.
func (ic *ImageCache) Clear() {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	ic.entries = make(map[int64]*list.Element)
	ic.order.Init()
	ic.size = 0
}

// Len returns the number of cached entries
func (ic *ImageCache) Len() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return len(ic.entries)
}

// Size returns the bytes currently held
func (ic *ImageCache) Size() int64 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.size
}

// Budget returns the configured byte budget
func (ic *ImageCache) Budget() int64 {
	return ic.budget
}

// Stats returns cache statistics
func (ic *ImageCache) Stats() CacheStats {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.stats
}
