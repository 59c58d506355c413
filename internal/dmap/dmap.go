// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dmap provides the OS-specific double-mapping primitive behind
// the mmap SPSC ring: one physical region mapped twice into adjacent
// virtual pages, so a contiguous span of up to Size bytes starting
// anywhere in the first half can be read or written as a single straight
// line, with wrap-around implicit in the address aliasing.
//
// On hosts that cannot provide a double mapping, New transparently falls
// back to a plain heap allocation; callers distinguish the two cases via
// Region.Mirrored and fall back to split-segment copies themselves when
// it is false.
package dmap

import "unsafe"

// Region is a page-rounded block of memory, optionally double-mapped.
// When Mirrored is true, Base[0:Size) and Base[Size:2*Size) refer to the
// same physical bytes, so byte i of the ring aliases byte i+Size.
// When Mirrored is false, Base[0:Size) is a plain heap allocation with no
// mirror; wrap-around must be handled by the caller.
type Region struct {
	Base     unsafe.Pointer
	Size     uintptr
	Mirrored bool

	heap  []byte // retained only on the fallback path, keeps Base alive
	close func() error
}

// Close releases the region. On the mirrored path this unmaps both
// halves (and the outer reservation); the backing descriptor was already
// closed when the region was built. On the fallback path it is a no-op,
// since the Go garbage collector owns the heap allocation.
func (r *Region) Close() error {
	if r.close == nil {
		return nil
	}
	err := r.close()
	r.close = nil
	return err
}

func heapFallback(size uintptr) *Region {
	buf := make([]byte, size)
	return &Region{
		Base:     unsafe.Pointer(unsafe.SliceData(buf)),
		Size:     size,
		Mirrored: false,
		heap:     buf,
	}
}

func roundUpPage(size, page uintptr) uintptr {
	if page == 0 {
		page = 4096
	}
	if size == 0 {
		size = page
	}
	return (size + page - 1) &^ (page - 1)
}
