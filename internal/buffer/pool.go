package buffer

import (
	"math/bits"
	"sync"
)

// Pool size classes run from 1<<minClassShift to 1<<maxClassShift bytes.
// Larger allocations bypass the pool.
const (
	minClassShift = 6  // 64 B
	maxClassShift = 16 // 64 KiB
)

var classes [maxClassShift - minClassShift + 1]sync.Pool

// classFor returns the pool index for a buffer of size n, or -1 when n is
// too large to pool.
func classFor(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// getSlice returns a zeroed slice of length n, drawn from the pool when a
// size class fits.
func getSlice(n int) *[]byte {
	idx := classFor(n)
	if idx < 0 {
		s := make([]byte, n)
		return &s
	}
	if v := classes[idx].Get(); v != nil {
		p := v.(*[]byte)
		s := (*p)[:n]
		clear(s)
		*p = s
		return p
	}
	s := make([]byte, n, 1<<(idx+minClassShift))
	return &s
}

// putSlice hands a slice back to its size class. Slices whose capacity
// does not match a class exactly are dropped.
func putSlice(p *[]byte) {
	c := cap(*p)
	idx := classFor(c)
	if idx < 0 || c != 1<<(idx+minClassShift) {
		return
	}
	*p = (*p)[:0]
	classes[idx].Put(p)
}
