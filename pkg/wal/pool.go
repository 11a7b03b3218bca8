package wal

import "sync"

// pool.go: reused buffers for the batcher, avoiding an allocation per
// group-commit flush.

var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 8192)
		return &buf
	},
}

// acquireBuffer obtains a reset byte buffer from the pool.
func acquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// releaseBuffer returns buf to the pool.
func releaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
