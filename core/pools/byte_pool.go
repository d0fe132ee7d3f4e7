package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered byte slice pool for different size classes.
// Slices larger than the biggest tier are allocated and left to the GC.
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

// Size classes for pending request bytes: most requests fit the first two
var defaultSizes = []int{
	2048,  // one read buffer
	8192,  // a full header block
	32768, // headers plus a small body
	131072,
}

// NewBytePool creates a new byte pool with standard size tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers, given in
// ascending order.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a zero-length slice with capacity of at least size
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:0]
		}
	}

	bp.misses.Add(1)
	return make([]byte, 0, size)
}

// Put returns a slice obtained from Get. Slices whose capacity matches no
// tier are dropped.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			bp.puts.Add(1)
			return
		}
	}
}

// Grow returns a slice holding buf's contents with room for at least n more
// bytes. buf is returned to the pool when a bigger one is taken.
func (bp *BytePool) Grow(buf []byte, n int) []byte {
	if cap(buf)-len(buf) >= n {
		return buf
	}

	bigger := bp.Get(len(buf) + n)
	bigger = append(bigger, buf...)
	bp.Put(buf)
	return bigger
}

// BytePoolStats reports pool usage
type BytePoolStats struct {
	Gets   uint64
	Puts   uint64
	Misses uint64
}

// Stats returns pool statistics
func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:   bp.gets.Load(),
		Puts:   bp.puts.Load(),
		Misses: bp.misses.Load(),
	}
}

// Global byte pool instance
var globalBytePool = NewBytePool()

// GetBytes is a convenience function using the global pool
func GetBytes(size int) []byte {
	return globalBytePool.Get(size)
}

// PutBytes returns bytes to the global pool
func PutBytes(buf []byte) {
	globalBytePool.Put(buf)
}

// GrowBytes grows buf using the global pool
func GrowBytes(buf []byte, n int) []byte {
	return globalBytePool.Grow(buf, n)
}
