package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rvkernel/rvkernel/internal/cli"
	"github.com/rvkernel/rvkernel/internal/log"
	"github.com/rvkernel/rvkernel/internal/tarfs"
	"github.com/rvkernel/rvkernel/internal/virtio"
)

// Inspect is the command that decodes a disk image's file table without
// booting the kernel, a read-only counterpart to boot useful for
// checking a disk image was assembled correctly.
//
//	kernel inspect disk.tar
func Inspect() cli.Command {
	return &inspect{files: tarfs.DefaultDiskSectors / 4}
}

type inspect struct {
	files int
}

func (inspect) Description() string {
	return "print the file table decoded from a disk image"
}

func (inspect) Usage(out io.Writer) error {
	var err error
	_, err = fmt.Fprintln(out, `inspect disk.tar

Loads a disk image's USTAR file table and prints each file's name and
size, without booting the kernel.`)

	return err
}

func (i *inspect) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.IntVar(&i.files, "files", i.files, "number of file slots to decode")

	return fs
}

func (i *inspect) Run(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) int {
	if len(args) == 0 {
		logger.Error("inspect: missing disk image argument")
		return 1
	}

	diskFile, err := os.Open(args[0])
	if err != nil {
		logger.Error("inspect: error opening disk image", "err", err)
		return 1
	}

	defer diskFile.Close()

	disk, err := io.ReadAll(diskFile)
	if err != nil {
		logger.Error("inspect: error reading disk image", "err", err)
		return 1
	}

	sectors := len(disk)/virtio.SectorSize + 1

	dev, err := virtio.NewSimulatedDevice(disk)
	if err != nil {
		logger.Error("inspect: error initializing virtio-blk", "err", err)
		return 2
	}

	table := tarfs.NewTable(i.files)
	store := tarfs.NewStore(table, dev, sectors)

	if err := store.Load(ctx); err != nil {
		logger.Error("inspect: error loading file table", "err", err)
		return 2
	}

	for idx := 0; idx < table.Len(); idx++ {
		f := table.At(idx)
		if !f.InUse {
			continue
		}

		fmt.Fprintf(stdout, "%-20s %6d bytes\n", f.NameString(), f.Size)
	}

	return 0
}
