// Package bufpool provides fixed-size byte buffer reuse for the frame codec.
package bufpool

import "sync"

// Pool hands out buffers of exactly one size. A busy link decodes many small
// frames; pooling the scratch space keeps that churn off the garbage
// collector.
type Pool struct {
	size int
	pool sync.Pool
}

// New returns a pool of size-byte buffers.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any { return make([]byte, size) }
	return p
}

// Get returns a buffer of the pool's size.
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)[:p.size]
}

// Put returns a buffer for reuse. Buffers with too little capacity are
// discarded.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}
