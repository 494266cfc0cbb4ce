package seriallogger

import (
	"sync"
	"sync/atomic"
)

// BufferPool manages reusable byte buffers for I/O operations
type BufferPool struct {
	pool sync.Pool
	size int
	// Metrics for monitoring pool efficiency
	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

// NewBufferPool creates a buffer pool with fixed-size buffers
func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{
		size: bufferSize,
	}
	bp.pool = sync.Pool{
		New: func() interface{} {
			bp.creates.Add(1)
			return make([]byte, bufferSize)
		},
	}
	return bp
}

// Get retrieves a buffer from the pool
func (bp *BufferPool) Get() []byte {
	bp.gets.Add(1)
	return bp.pool.Get().([]byte)
}

// Put returns a buffer to the pool (clears it first so stale telemetry
// never leaks between sessions)
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		return // Don't pool incorrectly sized buffers
	}
	bp.puts.Add(1)

	clear(buf)
	bp.pool.Put(buf)
}

// Stats returns pool usage statistics
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// PoolStats contains buffer pool usage statistics
type PoolStats struct {
	Size    int   // Buffer size managed by this pool
	Gets    int64 // Number of Get() calls
	Puts    int64 // Number of Put() calls
	Creates int64 // Number of new buffers created
}

// HitRatio returns the cache hit ratio (0.0 to 1.0)
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0.0
	}
	return 1.0 - (float64(ps.Creates) / float64(ps.Gets))
}

// BufferPoolManager manages multiple buffer pools for a Listener instance
type BufferPoolManager struct {
	smallPool  *BufferPool // 256 bytes
	mediumPool *BufferPool // 1024 bytes
	largePool  *BufferPool // 4096 bytes
	listener   *Listener   // Reference to parent listener for metrics
}

// NewBufferPoolManager creates a new buffer pool manager
func NewBufferPoolManager(l *Listener) *BufferPoolManager {
	return &BufferPoolManager{
		smallPool:  NewBufferPool(256),
		mediumPool: NewBufferPool(1024),
		largePool:  NewBufferPool(4096),
		listener:   l,
	}
}

// GetPooledBuffer returns an appropriately sized buffer from pools
func (bpm *BufferPoolManager) GetPooledBuffer(size int) ([]byte, func()) {
	recordMiss := func() {
		if bpm.listener != nil && bpm.listener.metrics != nil {
			bpm.listener.metrics.BufferPoolMisses.Add(1)
		}
	}

	recordHit := func() {
		if bpm.listener != nil && bpm.listener.metrics != nil {
			bpm.listener.metrics.BufferPoolHits.Add(1)
		}
	}

	if size <= 0 {
		// Return minimal buffer for zero/negative sizes
		recordHit()
		buf := bpm.smallPool.Get()[:1]
		return buf, func() { bpm.smallPool.Put(buf[:cap(buf)]) }
	}

	// Reject extremely large allocations that could cause memory exhaustion
	if size > AbsoluteMaxBufferSize {
		recordMiss()
		return nil, func() {} // Return nil buffer to indicate failure
	}

	if size > MaxBufferSize {
		// Don't pool oversized buffers, but allow direct allocation up to absolute limit
		recordMiss()
		buf := make([]byte, size)
		return buf, func() {} // No-op cleanup
	}

	var buf []byte
	var cleanup func()

	switch {
	case size <= 256:
		recordHit()
		buf = bpm.smallPool.Get()[:size]
		cleanup = func() { bpm.smallPool.Put(buf[:cap(buf)]) }
	case size <= 1024:
		recordHit()
		buf = bpm.mediumPool.Get()[:size]
		cleanup = func() { bpm.mediumPool.Put(buf[:cap(buf)]) }
	case size <= 4096:
		recordHit()
		buf = bpm.largePool.Get()[:size]
		cleanup = func() { bpm.largePool.Put(buf[:cap(buf)]) }
	default:
		// For sizes between 4KB and MaxBufferSize, use direct allocation
		recordMiss()
		buf = make([]byte, size)
		cleanup = func() {} // No-op cleanup
	}

	return buf, cleanup
}

// GetAllPoolStats returns statistics for all pools
func (bpm *BufferPoolManager) GetAllPoolStats() []PoolStats {
	return []PoolStats{
		bpm.smallPool.Stats(),
		bpm.mediumPool.Stats(),
		bpm.largePool.Stats(),
	}
}

// ResetPoolStats resets all pool statistics (useful for testing)
func (bpm *BufferPoolManager) ResetPoolStats() {
	bpm.smallPool.gets.Store(0)
	bpm.smallPool.puts.Store(0)
	bpm.smallPool.creates.Store(0)

	bpm.mediumPool.gets.Store(0)
	bpm.mediumPool.puts.Store(0)
	bpm.mediumPool.creates.Store(0)

	bpm.largePool.gets.Store(0)
	bpm.largePool.puts.Store(0)
	bpm.largePool.creates.Store(0)
}

// GetBufferPoolStats returns buffer pool statistics for this Listener instance
func (l *Listener) GetBufferPoolStats() []PoolStats {
	if l.bufferPoolManager == nil {
		return nil
	}
	return l.bufferPoolManager.GetAllPoolStats()
}

// ResetBufferPoolStats resets buffer pool statistics for this Listener instance (useful for testing)
func (l *Listener) ResetBufferPoolStats() {
	if l.bufferPoolManager != nil {
		l.bufferPoolManager.ResetPoolStats()
	}
}
