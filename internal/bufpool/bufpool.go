// Package bufpool recycles the fixed-size byte buffers the connection
// read loop uses for each conn.Read call, so a busy connection doesn't
// allocate one buffer per network read.
package bufpool

import "sync"

// Pool hands out byte slices of a fixed capacity.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a Pool whose buffers all have the given capacity.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any {
		return make([]byte, p.size)
	}
	return p
}

// Get returns a buffer of length size, reusing a previously Put one
// when available.
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns buf for reuse. buf must have been obtained from Get,
// possibly reslicing (cap must still equal the pool's size).
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}
