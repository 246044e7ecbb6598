package download

import "sync"

const chunkBufSize = 64 * 1024

type bufferPool struct {
	pool sync.Pool
}

var chunkBufPool = &bufferPool{
	pool: sync.Pool{New: func() any { return make([]byte, chunkBufSize) }},
}

func (p *bufferPool) get() []byte { return p.pool.Get().([]byte) }

func (p *bufferPool) put(buf []byte) {
	if cap(buf) != chunkBufSize {
		return
	}
	p.pool.Put(buf) //nolint:staticcheck // fixed-size slice reuse
}
