// Package buffer implements an owned, growable byte buffer with refcounted,
// zero-copy sub-slicing. A Buffer starts mutable (Append is allowed) and
// becomes immutable once Finalize is called; after that, Slice is the only
// way to carve out a view, and every view shares the same backing array and
// the same reference count as its origin.
package buffer

import "sync/atomic"

// Buffer is an owned view onto a shared, growable byte slice.
type Buffer struct {
	refs     *int32
	data     *[]byte
	off, end int
	final    bool
}

// NewBuffer allocates a new, empty, mutable Buffer with the given capacity
// hint.
func NewBuffer(capacity int) *Buffer {
	data := make([]byte, 0, capacity)
	refs := int32(1)
	return &Buffer{refs: &refs, data: &data}
}

// FromBytes wraps an existing byte slice as a finalized, single-owner
// Buffer. The slice is taken by reference, not copied.
func FromBytes(b []byte) *Buffer {
	refs := int32(1)
	return &Buffer{refs: &refs, data: &b, end: len(b), final: true}
}

// Append grows the buffer by copying p onto the end. Only valid before
// Finalize; panics afterward, since a finalized Buffer may already have
// sub-slices sharing its backing array and a growing Append could
// reallocate out from under them.
func (b *Buffer) Append(p []byte) {
	if b.final {
		panic("buffer: Append on a finalized Buffer")
	}
	*b.data = append(*b.data, p...)
	b.end = len(*b.data)
}

// Finalize marks the buffer immutable. Only the root view (the one
// returned by NewBuffer) should finalize; it is a no-op on a view that
// is already finalized.
func (b *Buffer) Finalize() {
	b.final = true
}

// Slice returns a zero-copy view of b's bytes in [off, end), sharing the
// same backing array and reference count as b. O(1): no data is copied.
// Panics if the range is out of bounds.
func (b *Buffer) Slice(off, end int) *Buffer {
	if off < 0 || end > b.Len() || off > end {
		panic("buffer: Slice out of range")
	}
	atomic.AddInt32(b.refs, 1)
	return &Buffer{refs: b.refs, data: b.data, off: b.off + off, end: b.off + end, final: true}
}

// Bytes returns this view's bytes. The returned slice must not be
// retained past a Release that drops the buffer's reference count to
// zero in callers that track buffer lifetime explicitly.
func (b *Buffer) Bytes() []byte {
	return (*b.data)[b.off:b.end]
}

// Len returns the number of bytes in this view.
func (b *Buffer) Len() int { return b.end - b.off }

// End returns this view's exclusive end offset into the shared backing
// array, the position the next Append (on an unfinalized root) would
// write to.
func (b *Buffer) End() int { return b.end }

// Retain increments the reference count, returning b for chaining.
func (b *Buffer) Retain() *Buffer {
	atomic.AddInt32(b.refs, 1)
	return b
}

// Release decrements the reference count. Buffer's backing array is
// ordinary GC-managed memory, so Release has no freeing effect of its own;
// it exists so callers that must know when the last view of a buffer has
// gone away (e.g. to return it to a pool) can observe refcount-reaches-zero
// without this package taking on pooling itself.
func (b *Buffer) Release() int32 {
	return atomic.AddInt32(b.refs, -1)
}
