package mem

import (
	"errors"
	"testing"
)

func TestAllocator_AllocPages(tt *testing.T) {
	tt.Parallel()

	tcs := []struct {
		name      string
		regionLen int
		base      Addr
		requests  []int
		expErr    error
	}{
		{
			name:      "single page",
			regionLen: 4 * PageSize,
			base:      0x80400000,
			requests:  []int{1},
		},
		{
			name:      "several pages advance the frontier",
			regionLen: 4 * PageSize,
			base:      0x80400000,
			requests:  []int{1, 2, 1},
		},
		{
			name:      "exhausted region",
			regionLen: 1 * PageSize,
			base:      0x80400000,
			requests:  []int{1, 1},
			expErr:    ErrOutOfMemory,
		},
	}

	for _, tc := range tcs {
		tc := tc

		tt.Run(tc.name, func(tt *testing.T) {
			tt.Parallel()

			region := make([]byte, tc.regionLen)
			for i := range region {
				region[i] = 0xff
			}

			alloc := NewAllocator(tc.base, region)

			var (
				last Addr
				err  error
			)

			for _, n := range tc.requests {
				last, err = alloc.AllocPages(n)
				if err != nil {
					break
				}
			}

			switch {
			case tc.expErr == nil && err != nil:
				tt.Fatal("unexpected error:", err)
			case tc.expErr != nil && err == nil:
				tt.Fatal("expected error:", tc.expErr)
			case tc.expErr != nil:
				if !errors.Is(err, tc.expErr) {
					tt.Fatal("wrong error:", "want:", tc.expErr, "got:", err)
				}

				return
			}

			if !last.Aligned() {
				tt.Error("allocation not page-aligned:", last)
			}

			if last < tc.base || last >= alloc.End() {
				tt.Error("allocation outside region:", last)
			}

			off := last - tc.base
			for _, b := range region[off : off+PageSize] {
				if b != 0 {
					tt.Fatal("allocated page not zeroed")
				}
			}
		})
	}
}

func TestAllocator_Next(tt *testing.T) {
	tt.Parallel()

	region := make([]byte, 3*PageSize)
	alloc := NewAllocator(0x80400000, region)

	if alloc.Next() != 0x80400000 {
		tt.Fatal("wrong initial frontier:", alloc.Next())
	}

	addr, err := alloc.AllocPages(1)
	if err != nil {
		tt.Fatal(err)
	}

	if addr != 0x80400000 {
		tt.Error("wrong first allocation:", addr)
	}

	if alloc.Next() != 0x80401000 {
		tt.Error("frontier did not advance:", alloc.Next())
	}
}

func TestMapper_MapPage(tt *testing.T) {
	tt.Parallel()

	region := make([]byte, 64*PageSize)
	alloc := NewAllocator(0x80400000, region)
	mapper := NewMapper(alloc)

	rootAddr, err := alloc.AllocPages(1)
	if err != nil {
		tt.Fatal(err)
	}

	root := mapper.tableAt(rootAddr)

	vaddr := Addr(0x1000000)
	paddr := Addr(0x80500000)

	if err := mapper.MapPage(rootAddr, root, vaddr, paddr, FlagR|FlagW|FlagX|FlagU); err != nil {
		tt.Fatal(err)
	}

	idx1 := vpn1(vaddr)
	if !root[idx1].Valid() {
		tt.Fatal("first-level entry not installed")
	}

	secondAddr := Addr(root[idx1].PPN() * PageSize)
	second := mapper.tableAt(secondAddr)

	idx0 := vpn0(vaddr)
	leaf := second[idx0]

	if !leaf.Valid() {
		tt.Fatal("leaf entry not installed")
	}

	if leaf.PPN() != uint32(paddr)/PageSize {
		tt.Error("wrong PPN:", "want:", uint32(paddr)/PageSize, "got:", leaf.PPN())
	}

	if leaf.Flags()&FlagR == 0 || leaf.Flags()&FlagW == 0 ||
		leaf.Flags()&FlagX == 0 || leaf.Flags()&FlagU == 0 {
		tt.Error("wrong flags:", leaf.Flags())
	}
}

func TestMapper_MapPage_SharesSecondLevelTable(tt *testing.T) {
	tt.Parallel()

	region := make([]byte, 64*PageSize)
	alloc := NewAllocator(0x80400000, region)
	mapper := NewMapper(alloc)

	rootAddr, err := alloc.AllocPages(1)
	if err != nil {
		tt.Fatal(err)
	}

	root := mapper.tableAt(rootAddr)

	base := Addr(0x1000000)

	if err := mapper.MapPage(rootAddr, root, base, 0x80500000, FlagR); err != nil {
		tt.Fatal(err)
	}

	root = mapper.tableAt(rootAddr)
	firstSecondAddr := root[vpn1(base)].PPN()

	next := base + PageSize
	if err := mapper.MapPage(rootAddr, root, next, 0x80501000, FlagR); err != nil {
		tt.Fatal(err)
	}

	root = mapper.tableAt(rootAddr)
	secondSecondAddr := root[vpn1(next)].PPN()

	if firstSecondAddr != secondSecondAddr {
		tt.Error("mapping within the same VPN1 range allocated a second table")
	}
}

func TestMapper_MapPage_Unaligned(tt *testing.T) {
	tt.Parallel()

	region := make([]byte, 8*PageSize)
	alloc := NewAllocator(0x80400000, region)
	mapper := NewMapper(alloc)

	rootAddr, err := alloc.AllocPages(1)
	if err != nil {
		tt.Fatal(err)
	}

	root := mapper.tableAt(rootAddr)

	err = mapper.MapPage(rootAddr, root, 0x1000001, 0x80500000, FlagR)
	if !errors.Is(err, ErrUnaligned) {
		tt.Fatal("expected ErrUnaligned, got:", err)
	}
}

func TestPTE_NewPTE(tt *testing.T) {
	tt.Parallel()

	pte := NewPTE(0x80401000, FlagR|FlagW)

	if pte.PPN() != 0x80401 {
		tt.Error("wrong PPN:", pte.PPN())
	}

	if !pte.Valid() {
		tt.Error("expected valid entry")
	}

	if pte.Flags()&FlagR == 0 || pte.Flags()&FlagW == 0 {
		tt.Error("wrong flags:", pte.Flags())
	}

	if pte.Flags()&FlagX != 0 {
		tt.Error("unexpected X flag")
	}
}
