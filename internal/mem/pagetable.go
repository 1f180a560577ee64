package mem

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rvkernel/rvkernel/internal/log"
)

// PTE is one Sv32 page-table entry: a 32-bit value type with named
// accessors for its physical-page-number and flag fields. Callers never
// cast an integer directly into a table; they build entries with NewPTE,
// per the design note that a raw Sv32 entry deserves a value type rather
// than ad-hoc bit-twiddling scattered across the mapper.
type PTE uint32

// PTEFlags are the permission/validity bits of a leaf or non-leaf PTE.
type PTEFlags uint32

// Flag bits, matching the architecture's layout in the low 5 bits of a PTE.
const (
	FlagV PTEFlags = 1 << 0 // Valid.
	FlagR PTEFlags = 1 << 1 // Readable.
	FlagW PTEFlags = 1 << 2 // Writable.
	FlagX PTEFlags = 1 << 3 // Executable.
	FlagU PTEFlags = 1 << 4 // Accessible to user mode.
)

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool { return PTEFlags(p)&FlagV != 0 }

// Flags returns the entry's low-order flag bits.
func (p PTE) Flags() PTEFlags { return PTEFlags(p) & 0x1f }

// PPN returns the entry's physical page number (the frame address divided
// by PageSize).
func (p PTE) PPN() uint32 { return uint32(p) >> 10 }

// NewPTE builds a PTE pointing at the frame containing paddr, with flags
// ORed in along with the Valid bit.
func NewPTE(paddr Addr, flags PTEFlags) PTE {
	ppn := uint32(paddr) / PageSize

	return PTE(ppn<<10) | PTE(flags) | PTE(FlagV)
}

func (p PTE) String() string {
	return fmt.Sprintf("PTE{PPN:%#x R:%t W:%t X:%t U:%t V:%t}",
		p.PPN(),
		p.Flags()&FlagR != 0, p.Flags()&FlagW != 0, p.Flags()&FlagX != 0,
		p.Flags()&FlagU != 0, p.Valid())
}

// entriesPerTable is the number of PTEs in one Sv32 table level (1024,
// indexed by a 10-bit VPN).
const entriesPerTable = 1024

// Table is one level of an Sv32 page table: 1024 entries, each mapping
// either to a second-level table (non-leaf) or a physical frame (leaf).
type Table [entriesPerTable]PTE

// Mapper installs mappings into Sv32 root tables, allocating second-level
// tables from an Allocator on first touch.
type Mapper struct {
	alloc *Allocator
	log   *log.Logger
}

// NewMapper creates a Mapper backed by the given allocator.
func NewMapper(alloc *Allocator) *Mapper {
	return &Mapper{alloc: alloc, log: log.DefaultLogger()}
}

// NewRootTable allocates a fresh, zeroed first-level Sv32 table and
// returns both its address (needed by later MapPage/writeBack calls) and
// an in-memory view of it.
func (m *Mapper) NewRootTable() (Addr, *Table, error) {
	addr, err := m.alloc.AllocPages(1)
	if err != nil {
		return 0, nil, err
	}

	return addr, m.tableAt(addr), nil
}

// tableAt returns a *Table holding a copy of the allocator-owned bytes at
// addr; changes to it reach those bytes only through writeBack.
func (m *Mapper) tableAt(addr Addr) *Table {
	raw := m.alloc.bytesAt(addr, PageSize)
	table := new(Table)

	for i := range table {
		table[i] = PTE(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return table
}

// writeBack persists an in-memory Table to its backing bytes. Tables
// returned by tableAt are copies; MapPage calls writeBack after mutating
// one so the allocator's backing region (and hence any later tableAt call
// for the same address) observes the change.
func (m *Mapper) writeBack(addr Addr, table *Table) {
	raw := m.alloc.bytesAt(addr, PageSize)

	for i, pte := range table {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(pte))
	}
}

// vpn1 extracts the first-level (VPN1) index from a virtual address.
func vpn1(vaddr Addr) uint32 { return (uint32(vaddr) >> 22) & 0x3ff }

// vpn0 extracts the second-level (VPN0) index from a virtual address.
func vpn0(vaddr Addr) uint32 { return (uint32(vaddr) >> 12) & 0x3ff }

// MapPage installs a single vaddr->paddr leaf mapping in root, allocating a
// fresh second-level table on first touch of a given VPN1 range. Both
// addresses must be PageSize-aligned; violation is reported as an
// ErrUnaligned error, which callers (proc.Table.Create) return unchanged.
func (m *Mapper) MapPage(rootAddr Addr, root *Table, vaddr, paddr Addr, flags PTEFlags) error {
	if !vaddr.Aligned() {
		return fmt.Errorf("%w: vaddr %s", ErrUnaligned, vaddr)
	}

	if !paddr.Aligned() {
		return fmt.Errorf("%w: paddr %s", ErrUnaligned, paddr)
	}

	idx1 := vpn1(vaddr)

	if !root[idx1].Valid() {
		ptAddr, err := m.alloc.AllocPages(1)
		if err != nil {
			return err
		}

		root[idx1] = NewPTE(ptAddr, 0) | PTE(FlagV)
		m.writeBack(rootAddr, root)

		m.log.Debug("allocated second-level table", "VPN1", idx1, "ADDR", ptAddr)
	}

	secondAddr := Addr(root[idx1].PPN() * PageSize)
	second := m.tableAt(secondAddr)

	idx0 := vpn0(vaddr)
	second[idx0] = NewPTE(paddr, flags)
	m.writeBack(secondAddr, second)

	m.log.Debug("mapped page", "VADDR", vaddr, "PADDR", paddr, "PTE", second[idx0])

	return nil
}

// ErrNotMapped is returned by Translate when a virtual address has no
// valid leaf mapping in the given root table.
var ErrNotMapped = errors.New("mem: page not mapped")

// Translate walks root for vaddr and returns the corresponding physical
// address, preserving vaddr's offset within its page. There is no
// permission check against the PTE's flags: this kernel's syscall path
// never validates that a user pointer is actually readable/writable
// before dereferencing it, per its own non-goal.
func (m *Mapper) Translate(root *Table, vaddr Addr) (Addr, error) {
	idx1 := vpn1(vaddr)
	if !root[idx1].Valid() {
		return 0, fmt.Errorf("%w: vaddr %s", ErrNotMapped, vaddr)
	}

	second := m.tableAt(Addr(root[idx1].PPN() * PageSize))

	idx0 := vpn0(vaddr)
	if !second[idx0].Valid() {
		return 0, fmt.Errorf("%w: vaddr %s", ErrNotMapped, vaddr)
	}

	frame := Addr(second[idx0].PPN() * PageSize)
	offset := vaddr % PageSize

	return frame + offset, nil
}

// IdentityMapKernel maps every page in [base, end) to itself with R|W|X,
// the pass create_process runs over the kernel image and free RAM so
// supervisor-mode code keeps working once paging is turned on for a
// process's address space.
func (m *Mapper) IdentityMapKernel(rootAddr Addr, root *Table, base, end Addr) error {
	for paddr := base; paddr < end; paddr += PageSize {
		if err := m.MapPage(rootAddr, root, paddr, paddr, FlagR|FlagW|FlagX); err != nil {
			return err
		}
	}

	return nil
}

// MapDevice identity-maps a single device page, R|W only (no execute),
// so user-mode page-table walks can reach memory-mapped device registers
// when the kernel runs the device driver on a process's behalf.
func (m *Mapper) MapDevice(rootAddr Addr, root *Table, addr Addr) error {
	return m.MapPage(rootAddr, root, addr, addr, FlagR|FlagW)
}

// MapImage copies a user program image into freshly allocated frames and
// maps it starting at base, U|R|W|X, page by page. The final page may be
// partially filled; the remainder is left zeroed by the allocator.
func (m *Mapper) MapImage(rootAddr Addr, root *Table, base Addr, image []byte) error {
	for off := 0; off < len(image); off += PageSize {
		frame, err := m.alloc.AllocPages(1)
		if err != nil {
			return err
		}

		dst := m.alloc.bytesAt(frame, PageSize)
		copy(dst, image[off:])

		if err := m.MapPage(rootAddr, root, base+Addr(off), frame, FlagU|FlagR|FlagW|FlagX); err != nil {
			return err
		}
	}

	return nil
}
