// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package dmap

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"
)

// New reserves a page-rounded region of at least size bytes and maps it
// twice, adjacently, over an anonymous memfd-backed descriptor. If any
// step of the double mapping fails, all partial state from that attempt
// is unwound and New instead returns a plain heap-backed Region with
// Mirrored set to false, logging the failure that triggered the fallback.
func New(size uintptr) (*Region, error) {
	page := uintptr(unix.Getpagesize())
	s := roundUpPage(size, page)

	base, err := doubleMap(s)
	if err != nil {
		slog.Warn("dmap: double mapping failed, falling back to heap storage", "size", s, "err", err)
		return heapFallback(s), nil
	}

	closed := false
	return &Region{
		Base:     unsafe.Pointer(base),
		Size:     s,
		Mirrored: true,
		close: func() error {
			if closed {
				return nil
			}
			closed = true
			return munmapRaw(base, s*2)
		},
	}, nil
}

// doubleMap performs the construction of spec §4.2: create an anonymous
// shared descriptor sized to s, reserve 2s bytes PROT_NONE, map the
// descriptor into each half with MAP_FIXED, and verify the kernel honored
// the fixed addresses. The descriptor is closed before returning on
// success: the mapping keeps the underlying memory alive independent of
// the descriptor.
func doubleMap(s uintptr) (uintptr, error) {
	fd, err := unix.MemfdCreate("code.hybscloud.com/spscq-ring", 0)
	if err != nil {
		return 0, fmt.Errorf("dmap: memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(s)); err != nil {
		return 0, fmt.Errorf("dmap: ftruncate: %w", err)
	}

	reservation, err := mmapRaw(0, s*2, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE, -1, 0)
	if err != nil {
		return 0, fmt.Errorf("dmap: reserve: %w", err)
	}

	one, err := mmapRaw(reservation, s, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_FIXED|unix.MAP_SHARED, fd, 0)
	if err != nil {
		_ = munmapRaw(reservation, s*2)
		return 0, fmt.Errorf("dmap: map first half: %w", err)
	}
	if one != reservation {
		_ = munmapRaw(reservation, s*2)
		return 0, fmt.Errorf("dmap: kernel did not honor MAP_FIXED for first half")
	}

	two, err := mmapRaw(reservation+s, s, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_FIXED|unix.MAP_SHARED, fd, 0)
	if err != nil {
		_ = munmapRaw(reservation, s*2)
		return 0, fmt.Errorf("dmap: map mirror half: %w", err)
	}
	if two != reservation+s {
		_ = munmapRaw(reservation, s*2)
		return 0, fmt.Errorf("dmap: kernel did not honor MAP_FIXED for mirror half")
	}

	return reservation, nil
}

func mmapRaw(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

func munmapRaw(addr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
