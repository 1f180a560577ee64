package tarfs

import (
	"context"
	"fmt"

	"github.com/rvkernel/rvkernel/internal/kpanic"
	"github.com/rvkernel/rvkernel/internal/log"
	"github.com/rvkernel/rvkernel/internal/virtio"
)

// DefaultDiskSectors is the number of sectors Store reads and writes when
// no explicit size is given: enough for the original's two-file,
// 1024-byte-each layout with headers, rounded up to whole sectors.
const DefaultDiskSectors = 8

// Store persists a Table as a USTAR tar stream on a block device: Load
// reads the whole image at boot, Flush writes it back out on every file
// write (there is no partial/incremental flush).
type Store struct {
	table   *Table
	dev     virtio.BlockDevice
	sectors int

	log *log.Logger
}

// NewStore creates a Store over table, persisted to dev across the given
// number of sectors.
func NewStore(table *Table, dev virtio.BlockDevice, sectors int) *Store {
	return &Store{table: table, dev: dev, sectors: sectors, log: log.DefaultLogger()}
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// Load reads the entire backing region into memory and parses it as a
// sequence of USTAR records, populating the table's slots in order. It
// stops at the first empty (all-zero-name) header or once every slot is
// filled, whichever comes first; an excess file in the image beyond the
// table's capacity is silently ignored, matching the original's
// fixed-size FILES_MAX loop.
func (s *Store) Load(ctx context.Context) error {
	disk := make([]byte, s.sectors*virtio.SectorSize)

	for sector := 0; sector < s.sectors; sector++ {
		buf := make([]byte, virtio.SectorSize)
		if err := s.dev.ReadWrite(uint64(sector), buf, false); err != nil {
			return err
		}

		copy(disk[sector*virtio.SectorSize:], buf)
	}

	off := 0

	for i := 0; i < s.table.Len(); i++ {
		if off+headerSize > len(disk) {
			break
		}

		var h Header
		if err := h.UnmarshalBinary(disk[off : off+headerSize]); err != nil {
			return err
		}

		if h.IsEmpty() {
			break
		}

		if !h.IsUSTAR() {
			return kpanic.Panic("invalid tar header: magic=%q", h.Magic[:])
		}

		size := h.FileSize()

		file := s.table.At(i)
		*file = File{InUse: true, Size: size}
		copy(file.Name[:], h.Name[:])

		dataStart := off + headerSize
		if dataStart+size > len(disk) {
			return fmt.Errorf("tarfs: file %q size %d exceeds backing disk", h.Name, size)
		}

		copy(file.Data[:], disk[dataStart:dataStart+size])

		s.log.Debug("loaded file", "NAME", file.NameString(), "SIZE", size)

		off += alignUp(headerSize+size, virtio.SectorSize)
	}

	return nil
}

// Flush serializes every in-use file back into a USTAR image and writes
// it out to the backing device, sector by sector. The disk image is
// rebuilt from scratch each time rather than patched in place, matching
// the original's fs_flush.
func (s *Store) Flush(ctx context.Context) error {
	disk := make([]byte, s.sectors*virtio.SectorSize)

	off := 0

	for i := 0; i < s.table.Len(); i++ {
		file := s.table.At(i)
		if !file.InUse {
			continue
		}

		h := NewHeader(file.NameString(), file.Size)

		recordLen := alignUp(headerSize+file.Size, virtio.SectorSize)
		if off+recordLen > len(disk) {
			return fmt.Errorf("tarfs: file %q does not fit in backing disk", file.NameString())
		}

		copy(disk[off+headerSize:], file.Data[:file.Size])

		if err := h.SetChecksum(); err != nil {
			return err
		}

		raw, err := h.MarshalBinary()
		if err != nil {
			return err
		}

		copy(disk[off:off+headerSize], raw)

		off += recordLen
	}

	for sector := 0; sector < s.sectors; sector++ {
		buf := disk[sector*virtio.SectorSize : (sector+1)*virtio.SectorSize]
		if err := s.dev.ReadWrite(uint64(sector), buf, true); err != nil {
			return err
		}
	}

	s.log.Debug("flushed filesystem", "SECTORS", s.sectors)

	return nil
}
