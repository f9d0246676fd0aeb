package util

import "sync"

// ReadBufSize is the per-read buffer size used by connection readers.
const ReadBufSize = 16 * 1024

// BufPool provides reusable read buffers so that a burst of short-lived
// client connections does not allocate one buffer each.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ReadBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
