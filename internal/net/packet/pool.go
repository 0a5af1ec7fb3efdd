package packet

import "sync"

// Payload buffers are pooled by size class. Frames are capped at 64 KiB so
// four classes cover every payload.
var bufferClasses = [...]int{256, 2048, 16384, MaxPayload}

var bufferPools [len(bufferClasses)]sync.Pool

func init() {
	for i, size := range bufferClasses {
		size := size
		bufferPools[i].New = func() any {
			b := make([]byte, 0, size)
			return &b
		}
	}
}

func classOf(n int) int {
	for i, size := range bufferClasses {
		if n <= size {
			return i
		}
	}
	return -1
}

func getBuffer(n int) *[]byte {
	c := classOf(n)
	if c < 0 {
		b := make([]byte, n)
		return &b
	}
	bp := bufferPools[c].Get().(*[]byte)
	*bp = (*bp)[:n]
	return bp
}

func putBuffer(bp *[]byte) {
	c := classOf(cap(*bp))
	if c < 0 || cap(*bp) != bufferClasses[c] {
		return
	}
	*bp = (*bp)[:0]
	bufferPools[c].Put(bp)
}
