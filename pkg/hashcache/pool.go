package hashcache

import "sync"

// bufferPool recycles fixed-size byte slices so a loop hashing many
// files does not allocate a fresh buffer per file.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		size: size,
		pool: sync.Pool{New: func() any { return make([]byte, size) }},
	}
}

func (p *bufferPool) get() []byte {
	return p.pool.Get().([]byte)
}

func (p *bufferPool) put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf) //nolint:staticcheck // fixed-size slice reuse
}
