package character

import (
	"sort"
	"sync"
)

// Tuple identifies one rendering of a character
type Tuple struct {
	Emotion string
	Outfit  string
	Scene   string
}

// Cache stores generated images per character bucket
type Cache interface {
	Lookup(bucket string, t Tuple) (Image, bool)
	Insert(bucket string, img Image)
	Images(bucket string) []Image
	Clear(bucket string)
}

type entry struct {
	img       Image
	insertSeq uint64
	useSeq    uint64
}

// Policy decides which entries of a full bucket survive
type Policy interface {
	// Touched reports whether hits refresh an entry's position
	Touched() bool
	// Keep orders entries by retention priority, most valuable first
	Keep(entries []*entry)
}

// RecencyCap keeps the most recently generated images; hits do not refresh
type RecencyCap struct{}

func (RecencyCap) Touched() bool { return false }

func (RecencyCap) Keep(entries []*entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.img.Timestamp.Equal(b.img.Timestamp) {
			return a.img.Timestamp.After(b.img.Timestamp)
		}
		return a.insertSeq > b.insertSeq
	})
}

// LRU keeps the most recently used images
type LRU struct{}

func (LRU) Touched() bool { return true }

func (LRU) Keep(entries []*entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].useSeq > entries[j].useSeq })
}

// BucketCache is an in-memory Cache bounded per bucket
type BucketCache struct {
	buckets  map[string][]*entry
	capacity int
	policy   Policy
	seq      uint64
	mu       sync.Mutex
}

// NewBucketCache creates a cache holding up to capacity images per bucket
func NewBucketCache(capacity int, policy Policy) *BucketCache {
	if capacity <= 0 {
		capacity = 10
	}
	if policy == nil {
		policy = LRU{}
	}
	return &BucketCache{
		buckets:  make(map[string][]*entry),
		capacity: capacity,
		policy:   policy,
	}
}

func (c *BucketCache) next() uint64 {
	c.seq++
	return c.seq
}

// Lookup returns the image rendered for t
func (c *BucketCache) Lookup(bucket string, t Tuple) (Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.buckets[bucket] {
		if e.img.Tuple() == t {
			if c.policy.Touched() {
				e.useSeq = c.next()
			}
			return e.img, true
		}
	}
	return Image{}, false
}

// Insert stores img, replacing an entry with the same tuple, then trims the bucket
func (c *BucketCache) Insert(bucket string, img Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.next()
	entries := c.buckets[bucket]
	replaced := false
	for _, e := range entries {
		if e.img.Tuple() == img.Tuple() {
			e.img, e.insertSeq, e.useSeq = img, seq, seq
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, &entry{img: img, insertSeq: seq, useSeq: seq})
	}
	if len(entries) > c.capacity {
		c.policy.Keep(entries)
		entries = entries[:c.capacity]
	}
	c.buckets[bucket] = entries
}

// Images returns the bucket's images, newest first
func (c *BucketCache) Images(bucket string) []Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := append([]*entry(nil), c.buckets[bucket]...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].insertSeq > entries[j].insertSeq })

	out := make([]Image, len(entries))
	for i, e := range entries {
		out[i] = e.img
	}
	return out
}

// Clear drops a bucket
func (c *BucketCache) Clear(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets, bucket)
}
