// Package framebuf allocates page aligned pixel buffers, and reuses them for as
// long as the frame layout stays the same.
package framebuf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// System page size. Read at startup.
var pageSize uintptr

// Allocate 'size' bytes of memory, aligned to a page boundary.
func PageAlignedAlloc(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	raw := make([]byte, size+int(pageSize))
	offset := pageSize - (uintptr(unsafe.Pointer(&raw[0])) % pageSize)
	return raw[offset : int(offset)+size]
}

// Returns the system page size
func PageSize() int {
	return int(pageSize)
}

// Reserve returns a buffer of exactly 'size' bytes.
// If buf already has the capacity, it is resliced and returned (contents are not cleared).
// Otherwise a new page aligned buffer is allocated.
// The second return value is true if a new buffer was allocated.
func Reserve(buf []byte, size int) ([]byte, bool) {
	if buf != nil && cap(buf) >= size {
		return buf[:size], false
	}
	return PageAlignedAlloc(size), true
}

func init() {
	pageSize = uintptr(unix.Getpagesize())
}
