package buffer

import (
	"bytes"
	"sync"
	"testing"
)

func TestCreate(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		wantLen   int
		wantEmpty bool
	}{
		{name: "zero size", size: 0, wantLen: 0, wantEmpty: true},
		{name: "negative size", size: -4, wantLen: 0, wantEmpty: true},
		{name: "small", size: 10, wantLen: 10},
		{name: "class boundary", size: 64, wantLen: 64},
		{name: "above largest class", size: 100 * 1024, wantLen: 100 * 1024},
		{name: "above max size", size: MaxSize + 1, wantLen: 0, wantEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Create(tt.size)
			defer b.Destroy()

			if b.Ownership() != Owned {
				t.Errorf("Ownership() = %v, want owned", b.Ownership())
			}
			if b.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", b.Len(), tt.wantLen)
			}
			if b.IsEmpty() != tt.wantEmpty {
				t.Errorf("IsEmpty() = %v, want %v", b.IsEmpty(), tt.wantEmpty)
			}
			for i, c := range b.Bytes() {
				if c != 0 {
					t.Fatalf("byte %d = %d, want zero", i, c)
				}
			}
		})
	}
}

func TestCreate_ZeroedAfterReuse(t *testing.T) {
	b := Create(128)
	for i := range b.Bytes() {
		b.Bytes()[i] = 0xff
	}
	b.Destroy()

	for range 10 {
		c := Create(128)
		for i, v := range c.Bytes() {
			if v != 0 {
				t.Fatalf("reused buffer byte %d = %#x, want 0", i, v)
			}
		}
		c.Destroy()
	}
}

func TestDestroy_Borrowed(t *testing.T) {
	src := []byte("hello world")
	a := Borrow(src)
	b := Borrow(src[:5])

	a.Destroy()
	a.Destroy()

	if a.Ownership() != Borrowed {
		t.Errorf("Ownership() = %v, want borrowed", a.Ownership())
	}
	if got := b.String(); got != "hello" {
		t.Errorf("other view = %q after destroy, want %q", got, "hello")
	}
	if !bytes.Equal(src, []byte("hello world")) {
		t.Errorf("source modified: %q", src)
	}
}

func TestDestroy_OwnedOnce(t *testing.T) {
	b := FromString("payload")
	alias := b

	b.Destroy()
	if !b.IsEmpty() {
		t.Error("IsEmpty() = false after Destroy()")
	}
	if alias.Len() != 0 {
		t.Errorf("alias Len() = %d after Destroy(), want 0", alias.Len())
	}

	// A second release through any copy is a no-op.
	alias.Destroy()
	b.Destroy()
}

func TestView(t *testing.T) {
	b := FromString("abc")
	defer b.Destroy()

	v := b.View()
	if v.Ownership() != Borrowed {
		t.Errorf("View().Ownership() = %v, want borrowed", v.Ownership())
	}
	if v.String() != "abc" {
		t.Errorf("View().String() = %q, want %q", v.String(), "abc")
	}

	b.Bytes()[0] = 'x'
	if v.String() != "xbc" {
		t.Errorf("view does not share memory: %q", v.String())
	}
}

func TestCopy(t *testing.T) {
	src := []byte("borrowed")
	v := Borrow(src)

	c := v.Copy()
	defer c.Destroy()

	if c.Ownership() != Owned {
		t.Errorf("Copy().Ownership() = %v, want owned", c.Ownership())
	}
	src[0] = 'X'
	if c.String() != "borrowed" {
		t.Errorf("Copy() shares memory with source: %q", c.String())
	}
}

func TestZeroValue(t *testing.T) {
	var b Buffer
	if !b.IsEmpty() {
		t.Error("zero Buffer IsEmpty() = false")
	}
	if b.Ownership() != Borrowed {
		t.Errorf("zero Buffer Ownership() = %v, want borrowed", b.Ownership())
	}
	b.Destroy()
}

func TestClassFor(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 0},
		{64, 0},
		{65, 1},
		{128, 1},
		{129, 2},
		{64 * 1024, maxClassShift - minClassShift},
		{64*1024 + 1, -1},
	}
	for _, tt := range tests {
		if got := classFor(tt.n); got != tt.want {
			t.Errorf("classFor(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestConcurrentCreateDestroy(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b := Create(n*17 + 1)
			b.Bytes()[0] = byte(n)
			c := b
			b.Destroy()
			c.Destroy()
		}(i)
	}
	wg.Wait()
}
