// Package mem implements the kernel's physical page allocator and its Sv32
// two-level virtual-memory mapper.
//
// There is no free: a kernel of this class never reclaims a physical frame
// once it is handed out, so Allocator only ever moves a frontier forward.
package mem

import (
	"errors"
	"fmt"

	"github.com/rvkernel/rvkernel/internal/log"
)

// PageSize is the size, in bytes, of one physical page and one Sv32 leaf
// mapping.
const PageSize = 4096

// Addr is a physical or virtual address. The two are distinguished only by
// context: this kernel's first use of virtual memory is the identity map
// installed for every process, so a paddr and its corresponding vaddr are
// frequently numerically equal.
type Addr uint32

func (a Addr) String() string { return fmt.Sprintf("%#010x", uint32(a)) }

// Aligned reports whether a is a multiple of PageSize.
func (a Addr) Aligned() bool { return a%PageSize == 0 }

// ErrOutOfMemory is returned when the allocator's frontier would advance
// past the end of the free-RAM region.
var ErrOutOfMemory = errors.New("mem: out of memory")

// ErrUnaligned is returned when a caller supplies an address that is not
// page-aligned to an operation that requires one.
var ErrUnaligned = errors.New("mem: unaligned address")

// Allocator bump-allocates zero-filled, page-aligned physical frames from a
// bounded region. It is the sole owner of the region's backing storage.
type Allocator struct {
	region []byte // backing storage for [base, base+len(region)).
	base   Addr   // address of region[0]; frames are handed out as base+offset.
	next   Addr   // offset of the next unallocated byte, relative to base.

	log *log.Logger
}

// NewAllocator creates an Allocator over a caller-owned byte slice. base is
// the address the slice is mapped at (identity-mapped free RAM, in this
// kernel's case).
func NewAllocator(base Addr, region []byte) *Allocator {
	return &Allocator{
		region: region,
		base:   base,
		log:    log.DefaultLogger(),
	}
}

// End returns the address one past the end of the allocator's region.
func (a *Allocator) End() Addr { return a.base + Addr(len(a.region)) }

// Next returns the current frontier, i.e. the address the next allocation
// will be handed out at. It is monotonically non-decreasing.
func (a *Allocator) Next() Addr { return a.base + a.next }

// AllocPages returns the current frontier, advances it by n*PageSize, and
// zero-fills the returned region before returning it. Zeroing happens
// before return so page tables and driver buffers are never observed with
// stale contents, per the allocator's documented ordering guarantee.
func (a *Allocator) AllocPages(n int) (Addr, error) {
	size := Addr(n) * PageSize

	if a.next+size > Addr(len(a.region)) {
		return 0, fmt.Errorf("%w: requested %d pages at %s, end is %s",
			ErrOutOfMemory, n, a.base+a.next, a.End())
	}

	start := a.next
	a.next += size

	region := a.region[start : start+size]
	for i := range region {
		region[i] = 0
	}

	addr := a.base + start
	a.log.Debug("allocated pages", "ADDR", addr, "PAGES", n)

	return addr, nil
}

// bytesAt returns a slice view of n bytes of the region starting at addr.
// addr must lie within [a.base, a.End()).
func (a *Allocator) bytesAt(addr Addr, n int) []byte {
	off := addr - a.base

	return a.region[off : off+Addr(n)]
}

// Bytes returns a slice view of n bytes of the allocator's region starting
// at the physical address addr, the exported form of bytesAt for callers
// outside the package that have already translated a virtual address
// (e.g. internal/syscall resolving a user pointer).
func (a *Allocator) Bytes(addr Addr, n int) []byte {
	return a.bytesAt(addr, n)
}
