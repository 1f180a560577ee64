package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rvkernel/rvkernel/internal/cli"
	"github.com/rvkernel/rvkernel/internal/kernel"
	"github.com/rvkernel/rvkernel/internal/log"
	"github.com/rvkernel/rvkernel/internal/sbi"
	"github.com/rvkernel/rvkernel/internal/trap"
	"github.com/rvkernel/rvkernel/internal/virtio"
)

// Boot is the command that starts the kernel against a disk image and a
// shell program and runs it to completion.
//
//	kernel boot -disk disk.tar shell.bin
func Boot() cli.Command {
	return &boot{timeout: 10 * time.Second}
}

type boot struct {
	disk    string
	timeout time.Duration
	debug   bool
}

func (boot) Description() string {
	return "boot the kernel against a disk image and a shell program"
}

func (boot) Usage(out io.Writer) error {
	var err error
	_, err = fmt.Fprintln(out, `boot [-disk file.tar] shell.bin

Boots the kernel: loads the disk image's file table, creates the shell
process from shell.bin, and runs until the shell exits.`)

	return err
}

func (b *boot) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	fs.StringVar(&b.disk, "disk", "disk.tar", "disk image `file`")
	fs.DurationVar(&b.timeout, "timeout", b.timeout, "give up after `duration`")
	fs.BoolVar(&b.debug, "debug", false, "enable debug logging")

	return fs
}

// Run boots and runs the kernel. The shell image is never executed in
// this hosted model, so the trap loop here is driven by
// consoleTrapSource, which queues no syscalls; the real console bridge
// only backs the SBI calls. Scripted trap sources that do issue
// syscalls live in internal/kernel's own tests.
func (b *boot) Run(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) int {
	if b.debug {
		log.LogLevel.Set(log.Debug)
	}

	if len(args) == 0 {
		logger.Error("boot: missing shell program argument")
		return 1
	}

	shellImage, err := os.ReadFile(args[0])
	if err != nil {
		logger.Error("boot: error reading shell program", "err", err)
		return 1
	}

	diskFile, err := os.Open(b.disk)
	if err != nil {
		logger.Error("boot: error opening disk image", "err", err)
		return 1
	}

	defer diskFile.Close()

	disk, err := io.ReadAll(diskFile)
	if err != nil {
		logger.Error("boot: error reading disk image", "err", err)
		return 1
	}

	dev, err := virtio.NewSimulatedDevice(disk)
	if err != nil {
		logger.Error("boot: error initializing virtio-blk", "err", err)
		return 2
	}

	console, err := sbi.NewConsole(os.Stdin, os.Stdout)
	if err != nil {
		logger.Warn("boot: no controlling terminal, using an in-memory console", "err", err)
	} else {
		defer console.Restore()
	}

	opts := []kernel.Option{
		kernel.WithLogger(logger),
		kernel.WithBlockDevice(dev),
	}

	if console != nil {
		opts = append(opts, kernel.WithSBI(console))
	}

	k := kernel.New(opts...)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	logger.Info("Booting kernel", "shell", args[0], "disk", b.disk)

	if err := k.Boot(ctx, shellImage); err != nil {
		logger.Error("boot: error", "err", err)
		return 2
	}

	switch err := k.Run(ctx, consoleTrapSource{}); {
	case err == nil:
		logger.Info("Kernel halted")
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("Boot timeout")
		return 2
	default:
		logger.Error("Kernel error", "err", err)
		return 2
	}
}

// consoleTrapSource is a placeholder kernel.TrapSource for the boot
// command: a real user-mode program executed on real hardware traps into
// the kernel on its own; this hosted model has no instruction
// interpreter to drive that (an explicit non-goal), so there is nothing
// further for Run to dispatch once the shell process itself yields
// control during Boot. NextTrap always reports that the process has no
// further syscalls queued, which ends Run's loop at the idle process,
// exactly as if the shell image immediately exited.
type consoleTrapSource struct{}

func (consoleTrapSource) NextTrap(pid int32) (trap.Frame, trap.Cause, bool) {
	return trap.Frame{}, 0, false
}
