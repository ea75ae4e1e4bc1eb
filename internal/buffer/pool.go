package buffer

import (
	"image"
	"sync"
	"sync/atomic"
)

// BitmapPool recycles RGBA pixel buffers for thumbnail rendering to reduce
// GC pressure. Buffers are bucketed by byte size; a bitmap handed to Put
// must no longer be referenced by its previous owner.
type BitmapPool struct {
	pools map[int]*sync.Pool
	sizes []int

	gets    atomic.Uint64
	reuses  atomic.Uint64
	puts    atomic.Uint64
	dropped atomic.Uint64
}

// NewBitmapPool creates a bitmap pool with predefined size buckets
func NewBitmapPool() *BitmapPool {
	// Pixel buffer sizes in bytes (4 bytes per pixel)
	sizes := []int{
		16384,    // 16KB, e.g. 128x32
		65536,    // 64KB
		131072,   // 128KB, default 400x48 preview fits here
		262144,   // 256KB
		524288,   // 512KB
		1048576,  // 1MB
		4194304,  // 4MB, e.g. 1024x1024
		16777216, // 16MB
	}

	pools := make(map[int]*sync.Pool, len(sizes))
	for _, size := range sizes {
		pools[size] = &sync.Pool{}
	}

	return &BitmapPool{
		pools: pools,
		sizes: sizes,
	}
}

// Get returns a transparent RGBA bitmap with bounds (0,0)-(width,height)
func (p *BitmapPool) Get(width, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	p.gets.Add(1)

	size := 4 * width * height
	return &image.RGBA{
		Pix:    p.getPix(size),
		Stride: 4 * width,
		Rect:   image.Rect(0, 0, width, height),
	}
}

func (p *BitmapPool) getPix(size int) []byte {
	// Find the smallest bucket that can accommodate the requested size
	for _, bucketSize := range p.sizes {
		if bucketSize < size {
			continue
		}
		if buf, ok := p.pools[bucketSize].Get().([]byte); ok {
			p.reuses.Add(1)
			return buf[:size]
		}
		return make([]byte, size, bucketSize)
	}

	// If no suitable pool exists, allocate directly
	return make([]byte, size)
}

// Put returns a bitmap's pixels to the pool for reuse. Images that are not
// *image.RGBA or whose buffer did not come from a bucket are left to the GC.
func (p *BitmapPool) Put(img image.Image) {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba == nil || rgba.Pix == nil {
		return
	}

	buf := rgba.Pix
	capacity := cap(buf)
	pool, exists := p.pools[capacity]
	if !exists {
		p.dropped.Add(1)
		return
	}

	// Reset length to capacity and clear so the next Get is transparent
	buf = buf[:capacity]
	clear(buf)
	rgba.Pix = nil
	p.puts.Add(1)

	// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}, slice allocation is expected
	pool.Put(buf)
}

// PoolStats reports pool usage
type PoolStats struct {
	PoolSizes     []int  `json:"pool_sizes"`
	TotalPools    int    `json:"total_pools"`
	MaxBufferSize int    `json:"max_buffer_size"`
	MinBufferSize int    `json:"min_buffer_size"`
	Gets          uint64 `json:"gets"`
	Reuses        uint64 `json:"reuses"`
	Puts          uint64 `json:"puts"`
	Dropped       uint64 `json:"dropped"`
}

// GetStats returns current pool statistics
func (p *BitmapPool) GetStats() PoolStats {
	stats := PoolStats{
		PoolSizes:  make([]int, len(p.sizes)),
		TotalPools: len(p.pools),
		Gets:       p.gets.Load(),
		Reuses:     p.reuses.Load(),
		Puts:       p.puts.Load(),
		Dropped:    p.dropped.Load(),
	}

	copy(stats.PoolSizes, p.sizes)

	if len(p.sizes) > 0 {
		stats.MinBufferSize = p.sizes[0]
		stats.MaxBufferSize = p.sizes[len(p.sizes)-1]
	}

	return stats
}
