package buffer

import (
	"sync/atomic"
)

// MaxSize is the largest buffer Create will allocate. Requests above it
// yield an empty Owned buffer.
const MaxSize = 16 << 20

// Ownership records who is responsible for releasing a buffer's memory.
type Ownership uint8

const (
	// Borrowed buffers view memory owned elsewhere and are never released
	// by the receiver.
	Borrowed Ownership = iota

	// Owned buffers must be released exactly once with Destroy.
	Owned
)

// String returns the ownership name.
func (o Ownership) String() string {
	if o == Owned {
		return "owned"
	}
	return "borrowed"
}

// block is the shared release state of an Owned allocation. Every copy of
// an Owned Buffer points at the same block.
type block struct {
	slice    *[]byte
	released atomic.Bool
}

// Buffer is an ownership-tagged byte sequence.
//
// The zero value is an empty Borrowed buffer.
type Buffer struct {
	data  []byte
	owner *block
}

// Create returns an Owned buffer of size zeroed bytes.
//
// A size of zero or less returns an empty Owned buffer. Sizes above
// MaxSize also return an empty Owned buffer, so callers check IsEmpty
// rather than an error.
func Create(size int) Buffer {
	if size <= 0 || size > MaxSize {
		return Buffer{owner: &block{}}
	}
	p := getSlice(size)
	return Buffer{data: *p, owner: &block{slice: p}}
}

// Borrow wraps p as a Borrowed view. The caller keeps ownership of p.
func Borrow(p []byte) Buffer {
	return Buffer{data: p}
}

// FromBytes returns an Owned copy of p.
func FromBytes(p []byte) Buffer {
	b := Create(len(p))
	copy(b.data, p)
	return b
}

// FromString returns an Owned buffer holding s.
func FromString(s string) Buffer {
	b := Create(len(s))
	copy(b.data, s)
	return b
}

// Ownership reports whether the buffer is Owned or Borrowed.
func (b Buffer) Ownership() Ownership {
	if b.owner != nil {
		return Owned
	}
	return Borrowed
}

// IsOwned reports whether the buffer must be released by its holder.
func (b Buffer) IsOwned() bool {
	return b.owner != nil
}

// IsEmpty reports whether the buffer has no bytes, regardless of ownership.
func (b Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Len returns the number of bytes in the buffer. A released buffer has
// length zero.
func (b Buffer) Len() int {
	if b.released() {
		return 0
	}
	return len(b.data)
}

// Bytes returns the underlying bytes. The slice must not be retained past
// the lifetime of the buffer.
func (b Buffer) Bytes() []byte {
	if b.released() {
		return nil
	}
	return b.data
}

// String returns a copy of the contents as a string.
func (b Buffer) String() string {
	return string(b.Bytes())
}

// View returns a Borrowed view sharing the same memory. The view is valid
// until the source buffer is destroyed.
func (b Buffer) View() Buffer {
	return Buffer{data: b.Bytes()}
}

// Copy returns an Owned copy of the contents. Use it to retain a Borrowed
// buffer beyond the callback that delivered it.
func (b Buffer) Copy() Buffer {
	return FromBytes(b.Bytes())
}

// Destroy releases an Owned buffer. It is a no-op for Borrowed buffers and
// for Owned buffers that have already been released through any copy.
func (b *Buffer) Destroy() {
	if b.owner == nil {
		return
	}
	if b.owner.released.Swap(true) {
		b.data = nil
		return
	}
	if b.owner.slice != nil {
		putSlice(b.owner.slice)
	}
	b.data = nil
}

func (b Buffer) released() bool {
	return b.owner != nil && b.owner.released.Load()
}
