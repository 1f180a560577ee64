// Package kpanic implements the kernel's fatal-error path.
//
// The original kernel's PANIC macro prints a message tagged with the
// caller's file and line, then spins forever so a human can attach a
// debugger. A hosted Go program can't usefully spin forever in a library
// call, so Panic instead returns an error wrapping ErrPanic without
// blocking, which lets tests assert on the condition instead of hanging
// the test binary. Halt is the separate blocking step: it waits until a
// context is done.
package kpanic

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// ErrPanic is wrapped by every error returned from Panic, so callers can
// match it with errors.Is regardless of the formatted message.
var ErrPanic = errors.New("kernel panic")

// Panic formats a PANIC-style message tagged with the immediate caller's
// file and line, exactly as the original's PANIC(fmt, ...) macro does.
func Panic(format string, args ...any) error {
	file, line := caller()
	msg := fmt.Sprintf(format, args...)

	return fmt.Errorf("%w: %s:%d: %s", ErrPanic, file, line, msg)
}

// Halt blocks until ctx is done, modeling the original's "while (1) {}"
// trap loop: once a panic fires, the kernel makes no further progress.
func Halt(ctx context.Context, err error) error {
	<-ctx.Done()

	return err
}

func caller() (string, int) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown", 0
	}

	return file, line
}
