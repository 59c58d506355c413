// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package dmap

import "log/slog"

// New always returns a heap-backed, non-mirrored Region on hosts without
// the memfd_create/MAP_FIXED double-mapping primitives this package
// otherwise uses; semantics are preserved, the contiguous-virtual-span
// benefit is not.
func New(size uintptr) (*Region, error) {
	page := uintptr(4096)
	s := roundUpPage(size, page)
	slog.Debug("dmap: host has no double-mapping support, using heap storage", "size", s)
	return heapFallback(s), nil
}
