// Package bufpool provides reusable, fixed-size byte buffers for the
// coalescing datagram, adapted from the teacher's internal/util/pool.go
// BufferPool. The teacher sizes pools for whole-file streaming chunks
// (1 MiB / 4 KiB); QTX instead sizes one pool per MDPL value, since
// every coalescing datagram the coalescer opens needs exactly that
// much backing capacity.
package bufpool

import "sync"

// Pool hands out byte slices of a fixed capacity, recycling them once
// the caller is done (i.e. once the datagram built on top of one has
// been handed to the sink).
type Pool struct {
	pool sync.Pool
	size int
}

// New creates a pool of buffers with the given capacity.
func New(size int) *Pool {
	return &Pool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get returns a zero-length slice with cap == size, ready to be
// appended into.
func (p *Pool) Get() []byte {
	b := *p.pool.Get().(*[]byte)
	return b[:0]
}

// Put returns a buffer to the pool. Buffers whose capacity does not
// match the pool's size are dropped rather than returned, since they
// did not originate from this pool (guards against a caller passing
// back a buffer taken before a SetMDPL resize).
func (p *Pool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	full := b[:cap(b)]
	for i := range full {
		full[i] = 0
	}
	p.pool.Put(&full)
}
