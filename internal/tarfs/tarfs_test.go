package tarfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/rvkernel/rvkernel/internal/virtio"
)

func TestHeader_MarshalUnmarshal_RoundTrip(tt *testing.T) {
	tt.Parallel()

	h := NewHeader("hello.txt", 13)
	if err := h.SetChecksum(); err != nil {
		tt.Fatal(err)
	}

	raw, err := h.MarshalBinary()
	if err != nil {
		tt.Fatal(err)
	}

	if len(raw) != headerSize {
		tt.Fatalf("marshaled header is %d bytes, want %d", len(raw), headerSize)
	}

	var got Header
	if err := got.UnmarshalBinary(raw); err != nil {
		tt.Fatal(err)
	}

	if !got.IsUSTAR() {
		tt.Error("expected a valid USTAR header")
	}

	if got.FileSize() != 13 {
		tt.Error("wrong decoded size:", got.FileSize())
	}
}

func TestStore_FlushThenLoad_RoundTrip(tt *testing.T) {
	tt.Parallel()

	table := NewTable(2)

	f0 := table.At(0)
	f0.InUse = true
	copy(f0.Name[:], "a.txt")
	f0.Size = copy(f0.Data[:], []byte("hello, world"))

	f1 := table.At(1)
	f1.InUse = true
	copy(f1.Name[:], "b.txt")
	f1.Size = copy(f1.Data[:], []byte("goodbye"))

	dev := virtio.NewFakeBlockDevice(DefaultDiskSectors)
	store := NewStore(table, dev, DefaultDiskSectors)

	ctx := context.Background()

	if err := store.Flush(ctx); err != nil {
		tt.Fatal(err)
	}

	loadedTable := NewTable(2)
	loadedStore := NewStore(loadedTable, dev, DefaultDiskSectors)

	if err := loadedStore.Load(ctx); err != nil {
		tt.Fatal(err)
	}

	got0 := loadedTable.At(0)
	if got0.NameString() != "a.txt" {
		tt.Error("wrong name for slot 0:", got0.NameString())
	}

	if !bytes.Equal(got0.Data[:got0.Size], []byte("hello, world")) {
		tt.Error("wrong data for slot 0:", string(got0.Data[:got0.Size]))
	}

	got1 := loadedTable.At(1)
	if got1.NameString() != "b.txt" {
		tt.Error("wrong name for slot 1:", got1.NameString())
	}

	if !bytes.Equal(got1.Data[:got1.Size], []byte("goodbye")) {
		tt.Error("wrong data for slot 1:", string(got1.Data[:got1.Size]))
	}
}

func TestStore_Load_EmptyDisk(tt *testing.T) {
	tt.Parallel()

	table := NewTable(2)
	dev := virtio.NewFakeBlockDevice(DefaultDiskSectors)
	store := NewStore(table, dev, DefaultDiskSectors)

	if err := store.Load(context.Background()); err != nil {
		tt.Fatal(err)
	}

	if table.At(0).InUse {
		tt.Error("expected no files loaded from an empty disk")
	}
}

func TestTable_Lookup(tt *testing.T) {
	tt.Parallel()

	table := NewTable(2)

	f := table.At(0)
	f.InUse = true
	copy(f.Name[:], "found.txt")

	if table.Lookup("found.txt") != f {
		tt.Fatal("Lookup did not find the file")
	}

	if table.Lookup("missing.txt") != nil {
		tt.Fatal("Lookup found a file that was never added")
	}
}
