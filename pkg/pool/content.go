// Package pool recycles the buffers used to read file content during a
// snapshot.
//
// sync.Pool caches allocated but unused objects for reuse; items are dropped
// on GC, so it suits short-lived buffers. Buffers are kept in power-of-two
// buckets so a request is served by the smallest bucket that fits.
package pool

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync"
)

// ContentPool hands out byte slices sized for whole-file reads.
type ContentPool struct {
	minBucketExp int
	maxBucketExp int
	maxPoolSize  int64
	buckets      []sync.Pool
}

func isPowerOfTwo(n int64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// NewContentPool creates a pool for sizes between minSize and maxSize. Both
// MUST be powers of two. Larger requests are allocated and never pooled.
func NewContentPool(minSize, maxSize int64) *ContentPool {
	if !isPowerOfTwo(minSize) {
		panic(fmt.Sprintf("minSize %d must be a power of two", minSize))
	}
	if !isPowerOfTwo(maxSize) {
		panic(fmt.Sprintf("maxSize %d must be a power of two", maxSize))
	}
	if maxSize <= minSize {
		panic("maxSize must be greater than minSize")
	}

	// bits.TrailingZeros returns the exponent of a power of two.
	minExp := bits.TrailingZeros64(uint64(minSize))
	maxExp := bits.TrailingZeros64(uint64(maxSize))

	p := &ContentPool{
		minBucketExp: minExp,
		maxBucketExp: maxExp,
		maxPoolSize:  maxSize,
		buckets:      make([]sync.Pool, maxExp+1),
	}
	for i := minExp; i <= maxExp; i++ {
		size := int64(1) << i
		p.buckets[i].New = func() any {
			b := make([]byte, int(size))
			return &b
		}
	}
	return p
}

// Get returns a slice of exactly size bytes.
func (p *ContentPool) Get(size int64) *[]byte {
	if size <= 0 {
		b := make([]byte, 0)
		return &b
	}
	if size > p.maxPoolSize {
		b := make([]byte, int(size))
		return &b
	}

	// bits.Len64(size-1) is the exponent of the smallest power of two >= size.
	idx := max(bits.Len64(uint64(size-1)), p.minBucketExp)
	buf := p.buckets[idx].Get().(*[]byte)
	*buf = (*buf)[:int(size)]
	return buf
}

// Put returns a buffer obtained from Get. Buffers that do not match a bucket
// are dropped.
func (p *ContentPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	capacity := int64(cap(*buf))
	if capacity < (int64(1)<<p.minBucketExp) || capacity > p.maxPoolSize || !isPowerOfTwo(capacity) {
		return
	}
	*buf = (*buf)[:capacity]
	p.buckets[bits.TrailingZeros64(uint64(capacity))].Put(buf)
}

// ReadContent reads a file whose stat size is size. Files that changed size
// since the stat are read in full anyway. The caller must Put the result.
func (p *ContentPool) ReadContent(r io.Reader, size int64) (*[]byte, error) {
	buf := p.Get(size)
	n, err := io.ReadFull(r, *buf)
	switch {
	case err == nil:
		// The file may have grown.
		rest, err := io.ReadAll(r)
		if err != nil {
			p.Put(buf)
			return nil, err
		}
		if len(rest) > 0 {
			grown := append((*buf)[:n:n], rest...)
			p.Put(buf)
			return &grown, nil
		}
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		*buf = (*buf)[:n]
		return buf, nil
	default:
		p.Put(buf)
		return nil, err
	}
}
