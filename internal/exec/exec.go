// Package exec implements the executable-memory primitive: allocates
// page-aligned W-then-X pages, copies compiled code into them, flushes the
// instruction cache, and on MMU-capable platforms transitions the mapping
// to read-execute.
package exec

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Memory is one W^X code mapping: RW while being populated, remapped RX
// once finalized. On non-MMU targets (TriCore) Finalize is a no-op and the
// mapping stays RWX for the region's lifetime.
type Memory struct {
	region []byte
	nonMMU bool
}

// Allocate maps a page-aligned anonymous region, copies code in, and
// flushes the instruction cache. The region starts RW; call Finalize to
// transition it to RX once no further patching is expected.
func Allocate(code []byte, nonMMU bool) (*Memory, error) {
	if len(code) == 0 {
		panic("BUG: exec.Allocate with zero length")
	}
	size := pageAlign(len(code))
	prot := unix.PROT_READ | unix.PROT_WRITE
	if nonMMU {
		// No protection transition will ever happen, so the region is left
		// executable from the start.
		prot |= unix.PROT_EXEC
	}
	region, err := unix.Mmap(-1, 0, size, prot, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("exec: mmap: %w", err)
	}
	copy(region, code)
	flushInstructionCache(region)
	return &Memory{region: region[:len(code)], nonMMU: nonMMU}, nil
}

// Finalize transitions the mapping from RW to RX, the point after which no
// further mutation is permitted except Free's unmap.
func (m *Memory) Finalize() error {
	if m.nonMMU {
		return nil
	}
	if err := unix.Mprotect(pageRound(m.region), unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("exec: mprotect: %w", err)
	}
	return nil
}

// Bytes returns the mapped code, usable as a call target once Finalize has
// succeeded.
func (m *Memory) Bytes() []byte { return m.region }

// Free unmaps the region. Double-free returns an error rather than
// panicking.
func (m *Memory) Free() error {
	if m.region == nil {
		return fmt.Errorf("exec: already freed")
	}
	err := unix.Munmap(pageRound(m.region))
	m.region = nil
	if err != nil {
		return fmt.Errorf("exec: munmap: %w", err)
	}
	return nil
}

const pageSize = 4096

func pageAlign(n int) int {
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}

// pageRound recovers the full page-aligned mmap'd slice from a possibly
// length-truncated view over it; unix.Mmap always returns exactly the
// requested (already page-aligned) size, so re-deriving the cap here keeps
// Finalize/Free correct even though Bytes()/m.region were trimmed to the
// code's true length.
func pageRound(b []byte) []byte {
	return b[:cap(b)]
}
