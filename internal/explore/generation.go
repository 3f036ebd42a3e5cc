package explore

import (
	"fmt"
	"image"
	"sync"

	"github.com/corona10/goimagehash"
)

// DefaultChangeDistance is the Hamming distance between perceptual hashes
// above which a frame counts as a different image.
const DefaultChangeDistance = 10

// Generation is a token that advances whenever the observed image changes.
// An exploration started under one generation is stale once it advances.
type Generation struct {
	threshold int

	mu      sync.Mutex
	current uint64
	last    *goimagehash.ImageHash
}

// NewGeneration creates a token. A threshold <= 0 uses DefaultChangeDistance.
func NewGeneration(threshold int) *Generation {
	if threshold <= 0 {
		threshold = DefaultChangeDistance
	}
	return &Generation{threshold: threshold}
}

// Current returns the current generation.
func (g *Generation) Current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Advance moves to a new generation unconditionally.
func (g *Generation) Advance() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	g.last = nil
	return g.current
}

// Observe hashes img and advances the generation when it differs from the
// previously observed image by more than the threshold. The first image
// observed after creation or Advance only sets the reference.
func (g *Generation) Observe(img image.Image) (uint64, bool, error) {
	if img == nil {
		return g.Current(), false, fmt.Errorf("observe: nil image")
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return g.Current(), false, fmt.Errorf("perception hash: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		g.last = hash
		return g.current, false, nil
	}
	dist, err := g.last.Distance(hash)
	if err != nil {
		return g.current, false, fmt.Errorf("hash distance: %w", err)
	}
	if dist <= g.threshold {
		return g.current, false, nil
	}
	g.current++
	g.last = hash
	return g.current, true, nil
}
